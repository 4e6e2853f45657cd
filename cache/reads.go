package cache

import (
	"context"

	"github.com/bradjones1/orbit"
)

// GetRecord returns the record identified by id, or nil when absent.
func (c *Cache) GetRecord(ctx context.Context, id orbit.RecordIdentity) (*orbit.Record, error) {
	if !c.schema.HasModel(id.Type) {
		return nil, undeclaredModel(id.Type)
	}
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	return c.readRecord(ctx, tx, id)
}

func (c *Cache) readRecord(ctx context.Context, tx orbit.Tx, id orbit.RecordIdentity) (*orbit.Record, error) {
	ba, err := tx.Get(ctx, c.layout.RecordCollection(id.Type), id.ID)
	if err != nil {
		return nil, err
	}
	if ba == nil {
		return nil, nil
	}
	var record orbit.Record
	if err := c.marshaler.Unmarshal(ba, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetRecords returns every record of typeName in key order. An empty typeName
// returns the records of all schema models, model groups in lexical order.
func (c *Cache) GetRecords(ctx context.Context, typeName string) ([]orbit.Record, error) {
	var types []string
	if typeName == "" {
		types = c.schema.ModelNames()
	} else {
		if !c.schema.HasModel(typeName) {
			return nil, undeclaredModel(typeName)
		}
		types = []string{typeName}
	}
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	var records []orbit.Record
	for _, t := range types {
		kvs, err := tx.GetAll(ctx, c.layout.RecordCollection(t))
		if err != nil {
			return nil, err
		}
		for _, kv := range kvs {
			var record orbit.Record
			if err := c.marshaler.Unmarshal(kv.Value, &record); err != nil {
				return nil, err
			}
			records = append(records, record)
		}
	}
	return records, nil
}

// GetRecordsByIdentity bulk loads records, fanning the point reads out on a
// TaskRunner with one read transaction per collection touched. Results keep
// ids' order with absent records filtered out.
func (c *Cache) GetRecordsByIdentity(ctx context.Context, ids []orbit.RecordIdentity) ([]orbit.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	groups := make(map[string][]orbit.RecordIdentity)
	var types []string
	for _, id := range ids {
		if !c.schema.HasModel(id.Type) {
			return nil, undeclaredModel(id.Type)
		}
		if _, ok := groups[id.Type]; !ok {
			types = append(types, id.Type)
		}
		groups[id.Type] = append(groups[id.Type], id)
	}

	// Each task owns its slot, so no result locking is needed.
	found := make([]map[string]orbit.Record, len(types))
	tr := orbit.NewTaskRunner(ctx, c.readers)
	for i, t := range types {
		slot, typeName := i, t
		tr.Go(func() error {
			taskCtx := tr.GetContext()
			tx, err := c.store.Begin(taskCtx)
			if err != nil {
				return err
			}
			defer tx.Rollback(taskCtx)
			byKey := make(map[string]orbit.Record, len(groups[typeName]))
			for _, id := range groups[typeName] {
				record, err := c.readRecord(taskCtx, tx, id)
				if err != nil {
					return err
				}
				if record != nil {
					byKey[id.Key()] = *record
				}
			}
			found[slot] = byKey
			return nil
		})
	}
	if err := tr.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]orbit.Record, len(ids))
	for _, byKey := range found {
		for k, v := range byKey {
			merged[k] = v
		}
	}
	records := make([]orbit.Record, 0, len(ids))
	for _, id := range ids {
		if record, ok := merged[id.Key()]; ok {
			records = append(records, record)
		}
	}
	return records, nil
}

// GetInverseRelationships returns the edges pointing at the given record,
// i.e. every record & relationship whose forward data links it, in edge key
// order.
func (c *Cache) GetInverseRelationships(ctx context.Context, related orbit.RecordIdentity) ([]orbit.InverseRelationship, error) {
	if !c.schema.HasModel(related.Type) {
		return nil, undeclaredModel(related.Type)
	}
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	return c.scanEdges(ctx, tx, related)
}

// GetInverseRelationshipsForMany returns the edges pointing at any of the
// given records, one index scan per identity inside one read transaction,
// concatenated in input order.
func (c *Cache) GetInverseRelationshipsForMany(ctx context.Context, related []orbit.RecordIdentity) ([]orbit.InverseRelationship, error) {
	if len(related) == 0 {
		return nil, nil
	}
	for _, id := range related {
		if !c.schema.HasModel(id.Type) {
			return nil, undeclaredModel(id.Type)
		}
	}
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	var edges []orbit.InverseRelationship
	for _, id := range related {
		scanned, err := c.scanEdges(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		edges = append(edges, scanned...)
	}
	return edges, nil
}

func (c *Cache) scanEdges(ctx context.Context, tx orbit.Tx, related orbit.RecordIdentity) ([]orbit.InverseRelationship, error) {
	kvs, err := tx.ScanByIndex(ctx, c.layout.EdgeCollection(), IndexRelated, related.Key())
	if err != nil {
		return nil, err
	}
	edges := make([]orbit.InverseRelationship, 0, len(kvs))
	for _, kv := range kvs {
		var edge orbit.InverseRelationship
		if err := c.marshaler.Unmarshal(kv.Value, &edge); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}
