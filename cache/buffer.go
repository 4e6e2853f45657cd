package cache

import (
	"context"

	"github.com/bradjones1/orbit"
	"github.com/bradjones1/orbit/encoding"
)

// TransformBuffer stages one transform's record & edge mutations in memory so
// each operation resolves the cumulative state its predecessors produced,
// before anything reaches the backing store. ApplyTransform drives it: Begin,
// stage per operation, Flush, commit.
type TransformBuffer interface {
	// Begin binds the buffer to the transaction the transform runs in,
	// dropping previously staged state.
	Begin(tx orbit.Tx)
	// Record resolves id, staged state first & the bound transaction second.
	// found is false when the record does not exist or is staged for removal.
	// The returned record is the caller's to mutate.
	Record(ctx context.Context, id orbit.RecordIdentity) (record *orbit.Record, found bool, err error)
	// StagePut stages a record write. The buffer owns record after the call.
	StagePut(record *orbit.Record)
	// StageRemove stages a record delete.
	StageRemove(id orbit.RecordIdentity)
	// StageAddEdge stages an inverse index insertion. Adding an edge whose
	// removal is staged cancels both out.
	StageAddEdge(edge orbit.InverseRelationship)
	// StageRemoveEdge stages an inverse index removal. Removing an edge whose
	// insertion is staged cancels both out.
	StageRemoveEdge(edge orbit.InverseRelationship)
	// Flush writes all staged mutations through the bound transaction,
	// batched per collection, & reports them in application order. The
	// transaction is not committed.
	Flush(ctx context.Context) (orbit.UpdateDetails, error)
	// Reset drops staged state & the transaction binding.
	Reset()
}

type recordAction int

const (
	getAction recordAction = iota + 1
	putAction
	removeAction
)

// Staged record state table:
// Current	Staged op	Outcome
// _		Get			Get (read kept so repeat resolutions stay in memory)
// _		Put			Put
// _		Remove		Remove
// Get		Put			Put
// Get		Remove		Remove
// Put		Put			Put (latest wins)
// Put		Remove		Remove
// Remove	Put			Put
type stagedRecord struct {
	action recordAction
	id     orbit.RecordIdentity
	record *orbit.Record
}

type memoryBuffer struct {
	layout    Layout
	marshaler encoding.Marshaler
	tx        orbit.Tx

	records     map[string]*stagedRecord
	changed     []orbit.RecordIdentity
	changedSeen map[string]bool

	addedEdges   map[string]orbit.InverseRelationship
	addedOrder   []string
	removedEdges map[string]orbit.InverseRelationship
	removedOrder []string
}

// NewMemoryBuffer returns the default TransformBuffer, an in-memory staging
// map keyed by record identity.
func NewMemoryBuffer(layout Layout, marshaler encoding.Marshaler) TransformBuffer {
	b := &memoryBuffer{
		layout:    layout,
		marshaler: marshaler,
	}
	b.Reset()
	return b
}

func (b *memoryBuffer) Begin(tx orbit.Tx) {
	b.Reset()
	b.tx = tx
}

func (b *memoryBuffer) Reset() {
	b.tx = nil
	b.records = make(map[string]*stagedRecord, 10)
	b.changed = nil
	b.changedSeen = make(map[string]bool, 10)
	b.addedEdges = make(map[string]orbit.InverseRelationship, 10)
	b.addedOrder = nil
	b.removedEdges = make(map[string]orbit.InverseRelationship, 10)
	b.removedOrder = nil
}

func (b *memoryBuffer) Record(ctx context.Context, id orbit.RecordIdentity) (*orbit.Record, bool, error) {
	if staged, ok := b.records[id.Key()]; ok {
		if staged.action == removeAction {
			return nil, false, nil
		}
		r := staged.record.Clone()
		return &r, true, nil
	}
	ba, err := b.tx.Get(ctx, b.layout.RecordCollection(id.Type), id.ID)
	if err != nil {
		return nil, false, err
	}
	if ba == nil {
		return nil, false, nil
	}
	var record orbit.Record
	if err := b.marshaler.Unmarshal(ba, &record); err != nil {
		return nil, false, err
	}
	b.records[id.Key()] = &stagedRecord{action: getAction, id: id, record: &record}
	r := record.Clone()
	return &r, true, nil
}

func (b *memoryBuffer) StagePut(record *orbit.Record) {
	id := record.RecordIdentity
	b.records[id.Key()] = &stagedRecord{action: putAction, id: id, record: record}
	b.markChanged(id)
}

func (b *memoryBuffer) StageRemove(id orbit.RecordIdentity) {
	b.records[id.Key()] = &stagedRecord{action: removeAction, id: id}
	b.markChanged(id)
}

func (b *memoryBuffer) markChanged(id orbit.RecordIdentity) {
	key := id.Key()
	if b.changedSeen[key] {
		return
	}
	b.changedSeen[key] = true
	b.changed = append(b.changed, id)
}

func (b *memoryBuffer) StageAddEdge(edge orbit.InverseRelationship) {
	key := edge.EdgeKey()
	if _, ok := b.removedEdges[key]; ok {
		delete(b.removedEdges, key)
		b.removedOrder = dropKey(b.removedOrder, key)
		return
	}
	if _, ok := b.addedEdges[key]; ok {
		return
	}
	b.addedEdges[key] = edge
	b.addedOrder = append(b.addedOrder, key)
}

func (b *memoryBuffer) StageRemoveEdge(edge orbit.InverseRelationship) {
	key := edge.EdgeKey()
	if _, ok := b.addedEdges[key]; ok {
		delete(b.addedEdges, key)
		b.addedOrder = dropKey(b.addedOrder, key)
		return
	}
	if _, ok := b.removedEdges[key]; ok {
		return
	}
	b.removedEdges[key] = edge
	b.removedOrder = append(b.removedOrder, key)
}

func dropKey(order []string, key string) []string {
	for i, k := range order {
		if k == key {
			return append(order[:i:i], order[i+1:]...)
		}
	}
	return order
}

// Flush writes record mutations batched per collection, then edge removals &
// insertions on the inverse collection. Everything goes through the one bound
// transaction; atomicity comes from its commit, not from here.
func (b *memoryBuffer) Flush(ctx context.Context) (orbit.UpdateDetails, error) {
	var details orbit.UpdateDetails

	puts := make(map[string][]orbit.KeyValue)
	deletes := make(map[string][]string)
	var collections []string
	touched := make(map[string]bool)
	for _, id := range b.changed {
		staged := b.records[id.Key()]
		collection := b.layout.RecordCollection(id.Type)
		if !touched[collection] {
			touched[collection] = true
			collections = append(collections, collection)
		}
		switch staged.action {
		case putAction:
			ba, err := b.marshaler.Marshal(staged.record)
			if err != nil {
				return details, err
			}
			puts[collection] = append(puts[collection], orbit.KeyValue{Key: id.ID, Value: ba})
		case removeAction:
			deletes[collection] = append(deletes[collection], id.ID)
		}
	}
	for _, collection := range collections {
		if items := puts[collection]; len(items) > 0 {
			if err := b.tx.PutMany(ctx, collection, items...); err != nil {
				return details, err
			}
		}
		if keys := deletes[collection]; len(keys) > 0 {
			if err := b.tx.DeleteMany(ctx, collection, keys...); err != nil {
				return details, err
			}
		}
	}

	if len(b.removedOrder) > 0 {
		keys := make([]string, len(b.removedOrder))
		copy(keys, b.removedOrder)
		if err := b.tx.DeleteMany(ctx, b.layout.EdgeCollection(), keys...); err != nil {
			return details, err
		}
	}
	if len(b.addedOrder) > 0 {
		items := make([]orbit.KeyValue, 0, len(b.addedOrder))
		for _, key := range b.addedOrder {
			edge := b.addedEdges[key]
			ba, err := b.marshaler.Marshal(edge)
			if err != nil {
				return details, err
			}
			items = append(items, orbit.KeyValue{
				Key:   key,
				Value: ba,
				Indexed: []orbit.IndexedValue{
					{Index: IndexRelated, Value: edge.Related.Key()},
				},
			})
		}
		if err := b.tx.PutMany(ctx, b.layout.EdgeCollection(), items...); err != nil {
			return details, err
		}
	}

	details.ChangedRecords = append(details.ChangedRecords, b.changed...)
	for _, key := range b.addedOrder {
		details.AddedEdges = append(details.AddedEdges, b.addedEdges[key])
	}
	for _, key := range b.removedOrder {
		details.RemovedEdges = append(details.RemovedEdges, b.removedEdges[key])
	}
	return details, nil
}
