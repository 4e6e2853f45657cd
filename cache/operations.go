package cache

import (
	"context"
	"fmt"
	"sort"

	"github.com/bradjones1/orbit"
)

// applyOperation stages one operation's forward mutation & its implied
// inverse index deltas. The operation union is sealed, so the default arm
// only fires for an operation kind this switch was not taught about.
func (c *Cache) applyOperation(ctx context.Context, buffer TransformBuffer, op orbit.Operation) error {
	target := op.Target()
	if target.IsEmpty() {
		return orbit.Error{
			Code:     orbit.SchemaMismatch,
			Err:      fmt.Errorf("operation %q has an incomplete record identity", op.Op()),
			UserData: target,
		}
	}
	if !c.schema.HasModel(target.Type) {
		return undeclaredModel(target.Type)
	}
	switch o := op.(type) {
	case orbit.AddRecord:
		return c.applyAddRecord(ctx, buffer, o)
	case orbit.UpdateRecord:
		return c.applyUpdateRecord(ctx, buffer, o)
	case orbit.RemoveRecord:
		return c.applyRemoveRecord(ctx, buffer, o)
	case orbit.ReplaceKey:
		return c.applyReplaceKey(ctx, buffer, o)
	case orbit.ReplaceAttribute:
		return c.applyReplaceAttribute(ctx, buffer, o)
	case orbit.AddToRelatedRecords:
		return c.applyAddToRelatedRecords(ctx, buffer, o)
	case orbit.RemoveFromRelatedRecords:
		return c.applyRemoveFromRelatedRecords(ctx, buffer, o)
	case orbit.ReplaceRelatedRecords:
		return c.applyReplaceRelatedRecords(ctx, buffer, o)
	case orbit.ReplaceRelatedRecord:
		return c.applyReplaceRelatedRecord(ctx, buffer, o)
	default:
		return orbit.Error{
			Code: orbit.Unknown,
			Err:  fmt.Errorf("unsupported operation %q", op.Op()),
		}
	}
}

// applyAddRecord stages the full record. When it overwrites an existing
// record the edge sets are diffed, keeping the index consistent with the new
// forward data instead of just piling on.
func (c *Cache) applyAddRecord(ctx context.Context, buffer TransformBuffer, o orbit.AddRecord) error {
	record := o.Record.Clone()
	if err := c.validateRelationships(&record); err != nil {
		return err
	}
	existing, found, err := buffer.Record(ctx, record.RecordIdentity)
	if err != nil {
		return err
	}
	var before []orbit.InverseRelationship
	if found {
		before = recordEdges(existing)
	}
	diffEdges(buffer, before, recordEdges(&record))
	buffer.StagePut(&record)
	return nil
}

// applyUpdateRecord merges the partial record into the existing one.
// Attributes & keys merge per entry; a relationship named in the update
// replaces that relationship's data wholesale, diffing its edges.
func (c *Cache) applyUpdateRecord(ctx context.Context, buffer TransformBuffer, o orbit.UpdateRecord) error {
	update := o.Record.Clone()
	if err := c.validateRelationships(&update); err != nil {
		return err
	}
	existing, _, err := c.resolve(ctx, buffer, update.RecordIdentity)
	if err != nil {
		return err
	}
	before := recordEdges(existing)
	merged := mergeRecords(existing, &update)
	diffEdges(buffer, before, recordEdges(merged))
	buffer.StagePut(merged)
	return nil
}

// applyRemoveRecord deletes the record & the forward edges it holds.
// Back-edges, other records pointing at it, stay until those records change.
func (c *Cache) applyRemoveRecord(ctx context.Context, buffer TransformBuffer, o orbit.RemoveRecord) error {
	existing, found, err := buffer.Record(ctx, o.Record)
	if err != nil {
		return err
	}
	if !found {
		if c.strict {
			return recordNotFound(o.Record)
		}
		return nil
	}
	for _, edge := range recordEdges(existing) {
		buffer.StageRemoveEdge(edge)
	}
	buffer.StageRemove(o.Record)
	return nil
}

func (c *Cache) applyReplaceKey(ctx context.Context, buffer TransformBuffer, o orbit.ReplaceKey) error {
	record, _, err := c.resolve(ctx, buffer, o.Record)
	if err != nil {
		return err
	}
	if record.Keys == nil {
		record.Keys = make(map[string]string, 1)
	}
	record.Keys[o.Key] = o.Value
	buffer.StagePut(record)
	return nil
}

func (c *Cache) applyReplaceAttribute(ctx context.Context, buffer TransformBuffer, o orbit.ReplaceAttribute) error {
	record, _, err := c.resolve(ctx, buffer, o.Record)
	if err != nil {
		return err
	}
	if record.Attributes == nil {
		record.Attributes = make(map[string]any, 1)
	}
	record.Attributes[o.Attribute] = o.Value
	buffer.StagePut(record)
	return nil
}

// applyAddToRelatedRecords appends the identity to a to-many relationship.
// Appending an existing member is a no-op, so re-applying is harmless.
func (c *Cache) applyAddToRelatedRecords(ctx context.Context, buffer TransformBuffer, o orbit.AddToRelatedRecords) error {
	if err := c.requireKind(o.Record.Type, o.Relationship, orbit.HasMany); err != nil {
		return err
	}
	record, _, err := c.resolve(ctx, buffer, o.Record)
	if err != nil {
		return err
	}
	rel := record.Relationships[o.Relationship]
	if rel.Data.Contains(o.RelatedRecord) {
		return nil
	}
	rel.Data = orbit.ToMany(append(rel.Data.Identities(), o.RelatedRecord)...)
	setRelationship(record, o.Relationship, rel)
	buffer.StageAddEdge(orbit.InverseRelationship{
		Record:       o.Record,
		Relationship: o.Relationship,
		Related:      o.RelatedRecord,
	})
	buffer.StagePut(record)
	return nil
}

// applyRemoveFromRelatedRecords splices the identity out of a to-many
// relationship. Removing a non-member is a no-op.
func (c *Cache) applyRemoveFromRelatedRecords(ctx context.Context, buffer TransformBuffer, o orbit.RemoveFromRelatedRecords) error {
	if err := c.requireKind(o.Record.Type, o.Relationship, orbit.HasMany); err != nil {
		return err
	}
	record, found, err := buffer.Record(ctx, o.Record)
	if err != nil {
		return err
	}
	if !found {
		if c.strict {
			return recordNotFound(o.Record)
		}
		return nil
	}
	rel := record.Relationships[o.Relationship]
	if !rel.Data.Contains(o.RelatedRecord) {
		return nil
	}
	members := rel.Data.Identities()
	keep := make([]orbit.RecordIdentity, 0, len(members)-1)
	for _, member := range members {
		if member != o.RelatedRecord {
			keep = append(keep, member)
		}
	}
	rel.Data = orbit.ToMany(keep...)
	setRelationship(record, o.Relationship, rel)
	buffer.StageRemoveEdge(orbit.InverseRelationship{
		Record:       o.Record,
		Relationship: o.Relationship,
		Related:      o.RelatedRecord,
	})
	buffer.StagePut(record)
	return nil
}

// applyReplaceRelatedRecords swaps a to-many relationship's full member set,
// staging removals for departed members before additions for new ones.
// Replacing with the current set stages no edge deltas, so the operation is
// idempotent on the index.
func (c *Cache) applyReplaceRelatedRecords(ctx context.Context, buffer TransformBuffer, o orbit.ReplaceRelatedRecords) error {
	if err := c.requireKind(o.Record.Type, o.Relationship, orbit.HasMany); err != nil {
		return err
	}
	record, _, err := c.resolve(ctx, buffer, o.Record)
	if err != nil {
		return err
	}
	before := relationshipEdges(record, o.Relationship)
	after := make([]orbit.InverseRelationship, 0, len(o.RelatedRecords))
	for _, related := range o.RelatedRecords {
		after = append(after, orbit.InverseRelationship{
			Record:       o.Record,
			Relationship: o.Relationship,
			Related:      related,
		})
	}
	diffEdges(buffer, before, after)
	rel := record.Relationships[o.Relationship]
	rel.Data = orbit.ToMany(o.RelatedRecords...)
	setRelationship(record, o.Relationship, rel)
	buffer.StagePut(record)
	return nil
}

// applyReplaceRelatedRecord sets or clears a to-one relationship. nil clears;
// the old edge is removed & the new one added when the target changes.
func (c *Cache) applyReplaceRelatedRecord(ctx context.Context, buffer TransformBuffer, o orbit.ReplaceRelatedRecord) error {
	if err := c.requireKind(o.Record.Type, o.Relationship, orbit.HasOne); err != nil {
		return err
	}
	record, _, err := c.resolve(ctx, buffer, o.Record)
	if err != nil {
		return err
	}
	rel := record.Relationships[o.Relationship]
	var before *orbit.RecordIdentity
	if !rel.Data.IsMany {
		before = rel.Data.One
	}
	after := o.RelatedRecord
	changed := (before == nil) != (after == nil) || (before != nil && after != nil && *before != *after)
	if changed && before != nil {
		buffer.StageRemoveEdge(orbit.InverseRelationship{
			Record:       o.Record,
			Relationship: o.Relationship,
			Related:      *before,
		})
	}
	if changed && after != nil {
		buffer.StageAddEdge(orbit.InverseRelationship{
			Record:       o.Record,
			Relationship: o.Relationship,
			Related:      *after,
		})
	}
	if after != nil {
		related := *after
		rel.Data = orbit.ToOne(&related)
	} else {
		rel.Data = orbit.ToOne(nil)
	}
	setRelationship(record, o.Relationship, rel)
	buffer.StagePut(record)
	return nil
}

// resolve loads the operation's target through the buffer under the
// strict/lax policy: strict fails with RecordNotFound on an absent record,
// lax fabricates an empty one so point mutations upsert.
func (c *Cache) resolve(ctx context.Context, buffer TransformBuffer, id orbit.RecordIdentity) (*orbit.Record, bool, error) {
	record, found, err := buffer.Record(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if found {
		return record, true, nil
	}
	if c.strict {
		return nil, false, recordNotFound(id)
	}
	return &orbit.Record{RecordIdentity: id}, false, nil
}

// validateRelationships checks every relationship the record carries against
// the schema: the name must be declared & non-empty data must match the
// declared kind.
func (c *Cache) validateRelationships(record *orbit.Record) error {
	if len(record.Relationships) == 0 {
		return nil
	}
	for _, name := range relationshipNames(record) {
		def, err := c.schema.Relationship(record.Type, name)
		if err != nil {
			return err
		}
		data := record.Relationships[name].Data
		if data.IsMany && def.Kind != orbit.HasMany {
			return orbit.Error{
				Code:     orbit.SchemaMismatch,
				Err:      fmt.Errorf("relationship %q of model %q is to-one but carries to-many data", name, record.Type),
				UserData: name,
			}
		}
		if !data.IsMany && data.One != nil && def.Kind != orbit.HasOne {
			return orbit.Error{
				Code:     orbit.SchemaMismatch,
				Err:      fmt.Errorf("relationship %q of model %q is to-many but carries to-one data", name, record.Type),
				UserData: name,
			}
		}
	}
	return nil
}

func (c *Cache) requireKind(model, relationship string, kind orbit.RelationshipKind) error {
	def, err := c.schema.Relationship(model, relationship)
	if err != nil {
		return err
	}
	if def.Kind != kind {
		want := "to-one"
		if kind == orbit.HasMany {
			want = "to-many"
		}
		return orbit.Error{
			Code:     orbit.SchemaMismatch,
			Err:      fmt.Errorf("relationship %q of model %q is not %s", relationship, model, want),
			UserData: relationship,
		}
	}
	return nil
}

func setRelationship(record *orbit.Record, name string, rel orbit.Relationship) {
	if record.Relationships == nil {
		record.Relationships = make(map[string]orbit.Relationship, 1)
	}
	record.Relationships[name] = rel
}

// mergeRecords merges update into base without touching either, returning the
// merged copy.
func mergeRecords(base, update *orbit.Record) *orbit.Record {
	merged := base.Clone()
	if len(update.Attributes) > 0 {
		if merged.Attributes == nil {
			merged.Attributes = make(map[string]any, len(update.Attributes))
		}
		for k, v := range update.Attributes {
			merged.Attributes[k] = v
		}
	}
	if len(update.Keys) > 0 {
		if merged.Keys == nil {
			merged.Keys = make(map[string]string, len(update.Keys))
		}
		for k, v := range update.Keys {
			merged.Keys[k] = v
		}
	}
	if len(update.Relationships) > 0 {
		if merged.Relationships == nil {
			merged.Relationships = make(map[string]orbit.Relationship, len(update.Relationships))
		}
		for name, rel := range update.Relationships {
			merged.Relationships[name] = rel
		}
	}
	return &merged
}

// recordEdges derives the forward edges a record's relationship data implies,
// relationship names in lexical order so staged deltas are deterministic.
func recordEdges(record *orbit.Record) []orbit.InverseRelationship {
	var edges []orbit.InverseRelationship
	for _, name := range relationshipNames(record) {
		edges = append(edges, relationshipEdges(record, name)...)
	}
	return edges
}

func relationshipEdges(record *orbit.Record, name string) []orbit.InverseRelationship {
	rel, ok := record.Relationships[name]
	if !ok {
		return nil
	}
	ids := rel.Data.Identities()
	edges := make([]orbit.InverseRelationship, 0, len(ids))
	for _, related := range ids {
		edges = append(edges, orbit.InverseRelationship{
			Record:       record.RecordIdentity,
			Relationship: name,
			Related:      related,
		})
	}
	return edges
}

func relationshipNames(record *orbit.Record) []string {
	names := make([]string, 0, len(record.Relationships))
	for name := range record.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// diffEdges stages the deltas turning edge set before into after, removals
// first then additions.
func diffEdges(buffer TransformBuffer, before, after []orbit.InverseRelationship) {
	beforeSet := make(map[string]bool, len(before))
	for _, e := range before {
		beforeSet[e.EdgeKey()] = true
	}
	afterSet := make(map[string]bool, len(after))
	for _, e := range after {
		afterSet[e.EdgeKey()] = true
	}
	for _, e := range before {
		if !afterSet[e.EdgeKey()] {
			buffer.StageRemoveEdge(e)
		}
	}
	for _, e := range after {
		if !beforeSet[e.EdgeKey()] {
			buffer.StageAddEdge(e)
		}
	}
}

func recordNotFound(id orbit.RecordIdentity) error {
	return orbit.Error{
		Code:     orbit.RecordNotFound,
		Err:      fmt.Errorf("record %s does not exist", id.Key()),
		UserData: id,
	}
}

func undeclaredModel(typeName string) error {
	return orbit.Error{
		Code:     orbit.SchemaMismatch,
		Err:      fmt.Errorf("model %q is not declared in the schema", typeName),
		UserData: typeName,
	}
}
