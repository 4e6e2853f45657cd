package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/bradjones1/orbit"
	"github.com/bradjones1/orbit/encoding"
)

// transaction adapts a native badger transaction to orbit.Tx. Badger already
// gives read-your-own-writes & all-or-nothing commit over the single
// keyspace, so collection atomicity comes for free; what this layer adds is
// the collection/index bookkeeping: posting entries under their index values
// on Put & clearing the stale postings recorded under the tracking key.
type transaction struct {
	store *Store
	txn   *badger.Txn
	done  bool
}

func (t *transaction) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if t.done {
		return nil, errEnded()
	}
	if _, err := t.store.collectionSpec(collection); err != nil {
		return nil, err
	}
	item, err := t.txn.Get(entryKey(collection, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *transaction) GetAll(ctx context.Context, collection string) ([]orbit.KeyValue, error) {
	if t.done {
		return nil, errEnded()
	}
	if _, err := t.store.collectionSpec(collection); err != nil {
		return nil, err
	}
	prefix := entryPrefix(collection)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()
	var kvs []orbit.KeyValue
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, orbit.KeyValue{
			Key:   string(item.Key()[len(prefix):]),
			Value: value,
		})
	}
	return kvs, nil
}

func (t *transaction) Put(ctx context.Context, collection string, item orbit.KeyValue) error {
	return t.PutMany(ctx, collection, item)
}

func (t *transaction) PutMany(ctx context.Context, collection string, items ...orbit.KeyValue) error {
	if t.done {
		return errEnded()
	}
	spec, err := t.store.collectionSpec(collection)
	if err != nil {
		return err
	}
	for i := range items {
		if err := t.put(spec, collection, items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *transaction) put(spec orbit.CollectionSpec, collection string, item orbit.KeyValue) error {
	for _, iv := range item.Indexed {
		if !hasIndex(spec, iv.Index) {
			return errUndeclaredIndex(collection, iv.Index)
		}
	}
	if err := t.clearPostings(collection, item.Key); err != nil {
		return err
	}
	// Badger holds onto the value slice until commit, so it gets copied.
	value := append([]byte(nil), item.Value...)
	if err := t.txn.Set(entryKey(collection, item.Key), value); err != nil {
		return err
	}
	if len(item.Indexed) == 0 {
		return t.txn.Delete(trackKey(collection, item.Key))
	}
	for _, iv := range item.Indexed {
		if err := t.txn.Set(postingKey(collection, iv.Index, iv.Value, item.Key), []byte(item.Key)); err != nil {
			return err
		}
	}
	tracked, err := encoding.Marshal(item.Indexed)
	if err != nil {
		return err
	}
	return t.txn.Set(trackKey(collection, item.Key), tracked)
}

func (t *transaction) Delete(ctx context.Context, collection, key string) error {
	return t.DeleteMany(ctx, collection, key)
}

func (t *transaction) DeleteMany(ctx context.Context, collection string, keys ...string) error {
	if t.done {
		return errEnded()
	}
	if _, err := t.store.collectionSpec(collection); err != nil {
		return err
	}
	for _, key := range keys {
		if err := t.clearPostings(collection, key); err != nil {
			return err
		}
		if err := t.txn.Delete(trackKey(collection, key)); err != nil {
			return err
		}
		if err := t.txn.Delete(entryKey(collection, key)); err != nil {
			return err
		}
	}
	return nil
}

// clearPostings removes the index postings recorded for an entry's last
// write. The tracking read goes through the transaction, so staged rewrites
// reconcile against staged postings, not just committed ones.
func (t *transaction) clearPostings(collection, key string) error {
	item, err := t.txn.Get(trackKey(collection, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var tracked []orbit.IndexedValue
	value, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if err := encoding.Unmarshal(value, &tracked); err != nil {
		return err
	}
	for _, iv := range tracked {
		if err := t.txn.Delete(postingKey(collection, iv.Index, iv.Value, key)); err != nil {
			return err
		}
	}
	return nil
}

func (t *transaction) ScanByIndex(ctx context.Context, collection, index, value string) ([]orbit.KeyValue, error) {
	if t.done {
		return nil, errEnded()
	}
	spec, err := t.store.collectionSpec(collection)
	if err != nil {
		return nil, err
	}
	if !hasIndex(spec, index) {
		return nil, errUndeclaredIndex(collection, index)
	}
	prefix := postingPrefix(collection, index, value)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()
	var kvs []orbit.KeyValue
	for it.Rewind(); it.Valid(); it.Next() {
		keyBytes, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		key := string(keyBytes)
		entry, err := t.txn.Get(entryKey(collection, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entryValue, err := entry.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, orbit.KeyValue{Key: key, Value: entryValue})
	}
	return kvs, nil
}

func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return errEnded()
	}
	t.done = true
	return t.txn.Commit()
}

func (t *transaction) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}

func errEnded() error {
	return orbit.Error{
		Code: orbit.StoreUnavailable,
		Err:  errors.New("transaction has already ended"),
	}
}

func errUndeclaredIndex(collection, index string) error {
	return orbit.Error{
		Code:     orbit.SchemaMismatch,
		Err:      fmt.Errorf("index %q is not declared on collection %q", index, collection),
		UserData: index,
	}
}
