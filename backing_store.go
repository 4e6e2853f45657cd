package orbit

import "context"

// KeyValue is one collection entry: a key and its encoded value. On writes,
// Indexed lists the secondary-index values the entry is filed under; reads
// leave it empty.
type KeyValue struct {
	Key     string         `json:"key"`
	Value   []byte         `json:"value"`
	Indexed []IndexedValue `json:"indexed,omitempty"`
}

// IndexedValue pairs an index name with the value an entry is filed under.
// Values are opaque to the store; the writer extracts them.
type IndexedValue struct {
	Index string `json:"index"`
	Value string `json:"value"`
}

// IndexSpec declares a secondary index of a collection.
type IndexSpec struct {
	Name string `json:"name"`
}

// CollectionSpec declares one named collection and its secondary indexes.
// Upgrade consumes these to create whatever is missing.
type CollectionSpec struct {
	Name    string      `json:"name"`
	Indexes []IndexSpec `json:"indexes,omitempty"`
}

// Tx is one backing-store transaction spanning every collection of the store.
// Writes staged in the transaction are visible to the transaction's own reads
// and invisible to everyone else until Commit, which applies them atomically
// across collections. Rollback discards them. A Tx is owned by a single apply
// cycle and must not be shared.
type Tx interface {
	// Get fetches one entry's value, nil when the key is absent.
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// GetAll fetches every entry of a collection in key order.
	GetAll(ctx context.Context, collection string) ([]KeyValue, error)
	// Put upserts one entry together with its index values.
	Put(ctx context.Context, collection string, item KeyValue) error
	// PutMany upserts a batch of entries.
	PutMany(ctx context.Context, collection string, items ...KeyValue) error
	// Delete removes one entry; deleting an absent key is a no-op.
	Delete(ctx context.Context, collection, key string) error
	// DeleteMany removes a batch of keys.
	DeleteMany(ctx context.Context, collection string, keys ...string) error
	// ScanByIndex returns the entries filed under value in the named index,
	// in key order. Scanning an undeclared index is a SchemaMismatch.
	ScanByIndex(ctx context.Context, collection, index, value string) ([]KeyValue, error)
	// Commit applies all staged writes atomically across collections.
	Commit(ctx context.Context) error
	// Rollback discards all staged writes. Rollback after Commit is a no-op.
	Rollback(ctx context.Context) error
}

// BackingStore is the asynchronous transactional key/value backend records and
// inverse relationship edges persist to. Implementations map collections onto
// their native storage (maps, Badger key prefixes, Redis hashes) and must make
// Commit atomic across every collection touched by one transaction.
type BackingStore interface {
	// Begin opens a writable transaction spanning all collections.
	Begin(ctx context.Context) (Tx, error)
	// Upgrade creates missing collections and indexes without data loss. It
	// must be called before first use; stores report StoreUnavailable until
	// upgraded.
	Upgrade(ctx context.Context, specs []CollectionSpec) error
	// Reset destructively drops every collection and recreates the last
	// upgraded layout. Explicit opt-in only.
	Reset(ctx context.Context) error
	// Close releases the store; later calls report StoreUnavailable.
	Close() error
}
