package orbit

import (
	"fmt"
	"sort"
)

// RelationshipKind distinguishes to-one from to-many relationships.
type RelationshipKind int

const (
	// HasOne relates a record to at most one other record.
	HasOne RelationshipKind = iota
	// HasMany relates a record to an ordered set of records.
	HasMany
)

// RelationshipDef declares one named relationship of a model: its kind and the
// related model's name.
type RelationshipDef struct {
	Kind  RelationshipKind `json:"kind"`
	Model string           `json:"model,omitempty"`
}

// Model declares the relationships of one record type. Attribute and key
// declarations are owned by the schema layer above this library; the record
// cache only needs relationship kinds to apply operations and maintain the
// inverse index.
type Model struct {
	Relationships map[string]RelationshipDef `json:"relationships,omitempty"`
}

// Schema is the consumed schema model: the set of record types and their
// relationship declarations. Orbit consumes a schema, it does not define or
// validate one.
type Schema struct {
	Models map[string]Model `json:"models"`
}

// HasModel reports whether the schema declares the given record type.
func (s Schema) HasModel(name string) bool {
	_, ok := s.Models[name]
	return ok
}

// ModelNames returns the declared record types in lexical order.
func (s Schema) ModelNames() []string {
	names := make([]string, 0, len(s.Models))
	for name := range s.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Relationship resolves a relationship declaration. Referencing a model the
// schema does not declare is a SchemaMismatch; referencing an undeclared
// relationship name is a RelationshipNotFound.
func (s Schema) Relationship(model, name string) (RelationshipDef, error) {
	m, ok := s.Models[model]
	if !ok {
		return RelationshipDef{}, Error{
			Code:     SchemaMismatch,
			Err:      fmt.Errorf("model %q is not declared in the schema", model),
			UserData: model,
		}
	}
	def, ok := m.Relationships[name]
	if !ok {
		return RelationshipDef{}, Error{
			Code:     RelationshipNotFound,
			Err:      fmt.Errorf("model %q has no relationship %q", model, name),
			UserData: name,
		}
	}
	return def, nil
}
