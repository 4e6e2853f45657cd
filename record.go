package orbit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordIdentity is the immutable, globally unique (type, id) pair naming a record.
type RecordIdentity struct {
	// Type is the record's model name, e.g. "planet".
	Type string `json:"type"`
	// ID is the record's identifier, unique within its type.
	ID string `json:"id"`
}

// Key returns the deterministic "type/id" string used in composite keys and
// index values.
func (ri RecordIdentity) Key() string {
	return ri.Type + "/" + ri.ID
}

// IsEmpty reports whether the identity is the zero value.
func (ri RecordIdentity) IsEmpty() bool {
	return ri.Type == "" && ri.ID == ""
}

// Relationship is the forward linkage of one named relationship, matching the
// wire shape {"data": ...}.
type Relationship struct {
	Data RelationshipData `json:"data"`
}

// RelationshipData is a relationship's "data" member: a single related record
// identity for a to-one relationship (nil when cleared), or an ordered list
// for a to-many relationship.
type RelationshipData struct {
	// One holds the to-one linkage. Nil means null/cleared.
	One *RecordIdentity
	// Many holds the to-many linkage in application order.
	Many []RecordIdentity
	// IsMany distinguishes an empty to-many list from a cleared to-one.
	IsMany bool
}

// ToOne builds to-one relationship data. Pass nil to represent a cleared linkage.
func ToOne(related *RecordIdentity) RelationshipData {
	return RelationshipData{One: related}
}

// ToMany builds to-many relationship data preserving the given order.
func ToMany(related ...RecordIdentity) RelationshipData {
	return RelationshipData{Many: related, IsMany: true}
}

// MarshalJSON renders a to-many as an array (never null), a set to-one as a
// single identity object, and a cleared to-one as null.
func (rd RelationshipData) MarshalJSON() ([]byte, error) {
	if rd.IsMany {
		if rd.Many == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(rd.Many)
	}
	if rd.One == nil {
		return []byte("null"), nil
	}
	return json.Marshal(rd.One)
}

// UnmarshalJSON accepts a single identity object, an identity array, or null.
func (rd *RelationshipData) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*rd = RelationshipData{}
		return nil
	}
	if data[0] == '[' {
		var many []RecordIdentity
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*rd = RelationshipData{Many: many, IsMany: true}
		return nil
	}
	var one RecordIdentity
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*rd = RelationshipData{One: &one}
	return nil
}

// Contains reports whether the relationship data links the given identity.
func (rd RelationshipData) Contains(identity RecordIdentity) bool {
	if rd.IsMany {
		for _, ri := range rd.Many {
			if ri == identity {
				return true
			}
		}
		return false
	}
	return rd.One != nil && *rd.One == identity
}

// Identities returns every identity the relationship data links, in order.
func (rd RelationshipData) Identities() []RecordIdentity {
	if rd.IsMany {
		return rd.Many
	}
	if rd.One != nil {
		return []RecordIdentity{*rd.One}
	}
	return nil
}

// Record is a record's full state: identity plus optional attribute, key and
// relationship maps. Records are mutated only through operations; the cache
// hands out copies so callers can't reach into stored state.
type Record struct {
	RecordIdentity
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Keys          map[string]string       `json:"keys,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := Record{RecordIdentity: r.RecordIdentity}
	if r.Attributes != nil {
		c.Attributes = make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			c.Attributes[k] = cloneValue(v)
		}
	}
	if r.Keys != nil {
		c.Keys = make(map[string]string, len(r.Keys))
		for k, v := range r.Keys {
			c.Keys[k] = v
		}
	}
	if r.Relationships != nil {
		c.Relationships = make(map[string]Relationship, len(r.Relationships))
		for name, rel := range r.Relationships {
			c.Relationships[name] = Relationship{Data: rel.Data.clone()}
		}
	}
	return c
}

func (rd RelationshipData) clone() RelationshipData {
	c := RelationshipData{IsMany: rd.IsMany}
	if rd.One != nil {
		one := *rd.One
		c.One = &one
	}
	if rd.Many != nil {
		c.Many = make([]RecordIdentity, len(rd.Many))
		copy(c.Many, rd.Many)
	}
	return c
}

// cloneValue deep-copies the JSON-shaped values attribute maps hold. Scalars
// pass through; maps and slices are copied recursively.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// String renders the record identity for logs and error contexts.
func (r Record) String() string {
	return fmt.Sprintf("record %s", r.Key())
}
