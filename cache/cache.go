// Package cache implements the transactional record store: schemaless records
// grouped into one backing store collection per model, plus the inverse
// relationship index that answers "what points at this record". A transform's
// operations are staged through a TransformBuffer and committed as one backing
// store transaction, so a transform either fully lands, records & index edges
// together, or leaves no trace.
package cache

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

	"github.com/bradjones1/orbit"
	"github.com/bradjones1/orbit/encoding"
)

const (
	// edgeCollection is the base name of the inverse relationship collection.
	edgeCollection = "inverse_relationships"
	// IndexRelated is the edge collection's secondary index on the related
	// record's key, i.e. the record being pointed at.
	IndexRelated = "related"
)

// DefaultReaderThreadCount caps the goroutines used for bulk read fan-out.
const DefaultReaderThreadCount = 4

// Layout maps schema models to backing store collection names, with an
// optional namespace prefix so several caches can share one store.
type Layout struct {
	Namespace string
}

// RecordCollection returns the collection name holding records of typeName.
func (l Layout) RecordCollection(typeName string) string {
	if l.Namespace == "" {
		return typeName
	}
	return l.Namespace + "_" + typeName
}

// EdgeCollection returns the inverse relationship collection name.
func (l Layout) EdgeCollection() string {
	if l.Namespace == "" {
		return edgeCollection
	}
	return l.Namespace + "_" + edgeCollection
}

// Options contains the record cache's configurable settings. Schema & Store
// are required, the rest defaults.
type Options struct {
	// Schema declares the record types & their relationships. It is consumed
	// here, not defined; operations referencing types or relationships the
	// schema does not declare are rejected.
	Schema orbit.Schema
	// Store is the backing store the cache persists to.
	Store orbit.BackingStore
	// Namespace prefixes every collection name, letting caches share a store.
	Namespace string
	// Marshaler encodes records & edges. Defaults to
	// encoding.DefaultMarshaler (JSON).
	Marshaler encoding.Marshaler
	// BufferFactory builds the staging buffer used per transform. Defaults to
	// NewMemoryBuffer.
	BufferFactory func(layout Layout, marshaler encoding.Marshaler) TransformBuffer
	// StrictNotFound makes operations on absent records fail with
	// RecordNotFound. The default is lax: updates upsert & removes are
	// no-ops, matching an offline-first cache that may apply operations out
	// of order.
	StrictNotFound bool
	// ReaderThreadCount caps bulk read fan-out. Defaults to
	// DefaultReaderThreadCount.
	ReaderThreadCount int
}

// Cache is the record store. All methods are safe for concurrent use provided
// writes are serialized by the owner, which is what the action queue's single
// flight draining gives a data source.
type Cache struct {
	schema    orbit.Schema
	store     orbit.BackingStore
	layout    Layout
	marshaler encoding.Marshaler
	newBuffer func() TransformBuffer
	strict    bool
	readers   int
}

// New instantiates a record cache & upgrades the backing store with the
// collections the schema calls for: one per model plus the inverse
// relationship collection with its related-record index.
func New(ctx context.Context, options Options) (*Cache, error) {
	if options.Store == nil {
		return nil, orbit.Error{Code: orbit.StoreUnavailable, Err: errors.New("a backing store is required")}
	}
	if options.Marshaler == nil {
		options.Marshaler = encoding.DefaultMarshaler
	}
	if options.BufferFactory == nil {
		options.BufferFactory = NewMemoryBuffer
	}
	if options.ReaderThreadCount <= 0 {
		options.ReaderThreadCount = DefaultReaderThreadCount
	}
	layout := Layout{Namespace: options.Namespace}
	c := &Cache{
		schema:    options.Schema,
		store:     options.Store,
		layout:    layout,
		marshaler: options.Marshaler,
		newBuffer: func() TransformBuffer {
			return options.BufferFactory(layout, options.Marshaler)
		},
		strict:  options.StrictNotFound,
		readers: options.ReaderThreadCount,
	}
	if err := c.store.Upgrade(ctx, c.collectionSpecs()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) collectionSpecs() []orbit.CollectionSpec {
	names := c.schema.ModelNames()
	specs := make([]orbit.CollectionSpec, 0, len(names)+1)
	for _, name := range names {
		specs = append(specs, orbit.CollectionSpec{Name: c.layout.RecordCollection(name)})
	}
	specs = append(specs, orbit.CollectionSpec{
		Name:    c.layout.EdgeCollection(),
		Indexes: []orbit.IndexSpec{{Name: IndexRelated}},
	})
	return specs
}

// ApplyTransform applies the transform's operations in order as one atomic
// unit: every record mutation & every implied inverse index delta commits
// together or not at all. Operation K resolves records through the staging
// buffer, so it sees what K-1 changed before anything reached the store.
// On any failure the transaction rolls back, the error is returned & the
// store is untouched.
func (c *Cache) ApplyTransform(ctx context.Context, transform *orbit.Transform) (orbit.UpdateDetails, error) {
	var details orbit.UpdateDetails
	if transform == nil || len(transform.Operations) == 0 {
		return details, nil
	}
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return details, err
	}
	buffer := c.newBuffer()
	buffer.Begin(tx)
	for i := range transform.Operations {
		if err := c.applyOperation(ctx, buffer, transform.Operations[i]); err != nil {
			c.rollback(ctx, tx, transform)
			return details, err
		}
	}
	details, err = buffer.Flush(ctx)
	if err != nil {
		c.rollback(ctx, tx, transform)
		return orbit.UpdateDetails{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		c.rollback(ctx, tx, transform)
		return orbit.UpdateDetails{}, err
	}
	return details, nil
}

func (c *Cache) rollback(ctx context.Context, tx orbit.Tx, transform *orbit.Transform) {
	if err := tx.Rollback(ctx); err != nil {
		log.Warn(fmt.Sprintf("transform %s rollback failed, details: %v", transform.ID.String(), err))
	}
}

// Reset destructively drops the backing store's contents & recreates the
// cache's collections empty. Explicit opt-in; there is no undo.
func (c *Cache) Reset(ctx context.Context) error {
	if err := c.store.Reset(ctx); err != nil {
		return err
	}
	return c.store.Upgrade(ctx, c.collectionSpecs())
}
