package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bradjones1/orbit"
)

// transaction stages writes per collection; a nil staged item marks a delete.
// Commit applies the whole overlay under the store lock.
type transaction struct {
	store *Store

	mu     sync.Mutex
	done   bool
	writes map[string]map[string]*storedItem
}

func errEnded() error {
	return orbit.Error{
		Code: orbit.StoreUnavailable,
		Err:  errors.New("transaction has already ended"),
	}
}

func (t *transaction) staged(collection, key string) (*storedItem, bool) {
	if keys, ok := t.writes[collection]; ok {
		if item, ok := keys[key]; ok {
			return item, true
		}
	}
	return nil, false
}

func (t *transaction) Get(ctx context.Context, collection, key string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errEnded()
	}
	if item, ok := t.staged(collection, key); ok {
		if item == nil {
			return nil, nil
		}
		return append([]byte(nil), item.value...), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	col, err := t.store.collection(collection)
	if err != nil {
		return nil, err
	}
	item, ok := col.items[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), item.value...), nil
}

func (t *transaction) GetAll(ctx context.Context, collection string) ([]orbit.KeyValue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errEnded()
	}
	t.store.mu.RLock()
	col, err := t.store.collection(collection)
	if err != nil {
		t.store.mu.RUnlock()
		return nil, err
	}
	merged := make(map[string][]byte, len(col.items))
	for key, item := range col.items {
		merged[key] = item.value
	}
	t.store.mu.RUnlock()

	for key, item := range t.writes[collection] {
		if item == nil {
			delete(merged, key)
		} else {
			merged[key] = item.value
		}
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]orbit.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, orbit.KeyValue{Key: key, Value: append([]byte(nil), merged[key]...)})
	}
	return out, nil
}

func (t *transaction) Put(ctx context.Context, collection string, item orbit.KeyValue) error {
	return t.PutMany(ctx, collection, item)
}

func (t *transaction) PutMany(ctx context.Context, collection string, items ...orbit.KeyValue) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errEnded()
	}
	if err := t.checkIndexes(collection, items); err != nil {
		return err
	}
	keys, ok := t.writes[collection]
	if !ok {
		keys = make(map[string]*storedItem, len(items))
		t.writes[collection] = keys
	}
	for _, item := range items {
		keys[item.Key] = &storedItem{
			value:   append([]byte(nil), item.Value...),
			indexed: append([]orbit.IndexedValue(nil), item.Indexed...),
		}
	}
	return nil
}

// checkIndexes validates eagerly that the collection exists & every indexed
// value names a declared index, so misuse surfaces at the write site instead
// of at commit.
func (t *transaction) checkIndexes(collection string, items []orbit.KeyValue) error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	col, err := t.store.collection(collection)
	if err != nil {
		return err
	}
	for _, item := range items {
		for _, iv := range item.Indexed {
			if !col.indexes[iv.Index] {
				return errUndeclaredIndex(collection, iv.Index)
			}
		}
	}
	return nil
}

func (t *transaction) Delete(ctx context.Context, collection, key string) error {
	return t.DeleteMany(ctx, collection, key)
}

func (t *transaction) DeleteMany(ctx context.Context, collection string, keys ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errEnded()
	}
	t.store.mu.RLock()
	_, err := t.store.collection(collection)
	t.store.mu.RUnlock()
	if err != nil {
		return err
	}
	staged, ok := t.writes[collection]
	if !ok {
		staged = make(map[string]*storedItem, len(keys))
		t.writes[collection] = staged
	}
	for _, key := range keys {
		staged[key] = nil
	}
	return nil
}

func (t *transaction) ScanByIndex(ctx context.Context, collection, index, value string) ([]orbit.KeyValue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errEnded()
	}
	t.store.mu.RLock()
	col, err := t.store.collection(collection)
	if err != nil {
		t.store.mu.RUnlock()
		return nil, err
	}
	if !col.indexes[index] {
		t.store.mu.RUnlock()
		return nil, errUndeclaredIndex(collection, index)
	}
	matched := make(map[string][]byte)
	for key := range col.postings[index][value] {
		matched[key] = col.items[key].value
	}
	t.store.mu.RUnlock()

	// Overlay: staged deletes & overwrites drop out, staged items carrying
	// the indexed value join in.
	for key, item := range t.writes[collection] {
		delete(matched, key)
		if item == nil {
			continue
		}
		for _, iv := range item.indexed {
			if iv.Index == index && iv.Value == value {
				matched[key] = item.value
				break
			}
		}
	}
	keys := make([]string, 0, len(matched))
	for key := range matched {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]orbit.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, orbit.KeyValue{Key: key, Value: append([]byte(nil), matched[key]...)})
	}
	return out, nil
}

// Commit applies the staged overlay to the store in one critical section.
// Either every write lands or, when validation fails, none do.
func (t *transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errEnded()
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.closed {
		return errClosed()
	}
	// Validate before mutating anything.
	for name := range t.writes {
		if _, ok := t.store.collections[name]; !ok {
			return errNotUpgraded(name)
		}
	}
	for name, keys := range t.writes {
		col := t.store.collections[name]
		for key, item := range keys {
			if item == nil {
				col.delete(key)
			} else {
				col.put(key, *item)
			}
		}
	}
	t.done = true
	t.writes = nil
	return nil
}

// Rollback discards the staged overlay. Rolling back an ended transaction is
// a no-op, so it is safe to defer alongside Commit.
func (t *transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.writes = nil
	return nil
}

func errUndeclaredIndex(collection, index string) error {
	return orbit.Error{
		Code:     orbit.SchemaMismatch,
		Err:      fmt.Errorf("index %q is not declared on collection %q", index, collection),
		UserData: index,
	}
}
