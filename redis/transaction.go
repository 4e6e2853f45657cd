package redis

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/bradjones1/orbit"
	"github.com/bradjones1/orbit/encoding"
)

// stagedWrite is one staged mutation of an entry. A nil value stages a
// delete. live holds the indexed values the entry was filed under before the
// transaction touched it, read once at first stage, so Commit can clear the
// stale postings.
type stagedWrite struct {
	value   []byte
	indexed []orbit.IndexedValue
	live    []orbit.IndexedValue
}

// transaction stages writes in memory, overlaying them on the server state
// for its own reads, & flushes everything in one MULTI/EXEC on Commit. The
// queue's single flight draining means entries are not contended, so staged
// state cannot go stale between Begin & Commit.
type transaction struct {
	store  *Store
	done   bool
	writes map[string]map[string]*stagedWrite
}

func (t *transaction) client() *redis.Client {
	return t.store.conn.Client
}

func (t *transaction) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if t.done {
		return nil, errEnded()
	}
	if _, err := t.store.collectionSpec(collection); err != nil {
		return nil, err
	}
	if w, ok := t.writes[collection][key]; ok {
		if w.value == nil {
			return nil, nil
		}
		return append([]byte(nil), w.value...), nil
	}
	ba, err := t.client().HGet(ctx, t.store.collectionKey(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ba, nil
}

func (t *transaction) GetAll(ctx context.Context, collection string) ([]orbit.KeyValue, error) {
	if t.done {
		return nil, errEnded()
	}
	if _, err := t.store.collectionSpec(collection); err != nil {
		return nil, err
	}
	entries, err := t.client().HGetAll(ctx, t.store.collectionKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	merged := make(map[string][]byte, len(entries))
	for key, raw := range entries {
		merged[key] = []byte(raw)
	}
	for key, w := range t.writes[collection] {
		if w.value == nil {
			delete(merged, key)
			continue
		}
		merged[key] = append([]byte(nil), w.value...)
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	kvs := make([]orbit.KeyValue, 0, len(keys))
	for _, key := range keys {
		kvs = append(kvs, orbit.KeyValue{Key: key, Value: merged[key]})
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
		item := items[i]
		for _, iv := range item.Indexed {
			if !hasIndex(spec, iv.Index) {
				return errUndeclaredIndex(collection, iv.Index)
			}
		}
		live, err := t.liveIndexed(ctx, collection, item.Key)
		if err != nil {
			return err
		}
		t.stage(collection, item.Key, &stagedWrite{
			value:   append([]byte(nil), item.Value...),
			indexed: append([]orbit.IndexedValue(nil), item.Indexed...),
			live:    live,
		})
	}
	return nil
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
		live, err := t.liveIndexed(ctx, collection, key)
		if err != nil {
			return err
		}
		t.stage(collection, key, &stagedWrite{live: live})
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
	members, err := t.client().SMembers(ctx, t.store.postingKey(collection, index, value)).Result()
	if err != nil {
		return nil, err
	}
	matched := make(map[string]bool, len(members))
	for _, key := range members {
		matched[key] = true
	}
	// Staged writes override the server's postings either way: a staged
	// entry is in the result iff its staged indexed values file it here.
	for key, w := range t.writes[collection] {
		delete(matched, key)
		if w.value == nil {
			continue
		}
		for _, iv := range w.indexed {
			if iv.Index == index && iv.Value == value {
				matched[key] = true
				break
			}
		}
	}
	keys := make([]string, 0, len(matched))
	for key := range matched {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	kvs := make([]orbit.KeyValue, 0, len(keys))
	for _, key := range keys {
		ba, err := t.Get(ctx, collection, key)
		if err != nil {
			return nil, err
		}
		if ba == nil {
			continue
		}
		kvs = append(kvs, orbit.KeyValue{Key: key, Value: ba})
	}
	return kvs, nil
}

// Commit flushes every staged write in one MULTI/EXEC: entry upserts &
// deletes, posting set updates and the tracking entries the next writer will
// reconcile against.
func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return errEnded()
	}
	t.done = true
	_, err := t.client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for collection, staged := range t.writes {
			entryHash := t.store.collectionKey(collection)
			trackHash := t.store.trackingKey(collection)
			for key, w := range staged {
				for _, iv := range w.live {
					pipe.SRem(ctx, t.store.postingKey(collection, iv.Index, iv.Value), key)
				}
				if w.value == nil {
					pipe.HDel(ctx, entryHash, key)
					pipe.HDel(ctx, trackHash, key)
					continue
				}
				pipe.HSet(ctx, entryHash, key, w.value)
				for _, iv := range w.indexed {
					pipe.SAdd(ctx, t.store.postingKey(collection, iv.Index, iv.Value), key)
				}
				if len(w.indexed) == 0 {
					pipe.HDel(ctx, trackHash, key)
					continue
				}
				tracked, err := encoding.Marshal(w.indexed)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, trackHash, key, tracked)
			}
		}
		return nil
	})
	return err
}

func (t *transaction) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.writes = nil
	return nil
}

func (t *transaction) stage(collection, key string, w *stagedWrite) {
	staged, ok := t.writes[collection]
	if !ok {
		staged = make(map[string]*stagedWrite)
		t.writes[collection] = staged
	}
	staged[key] = w
}

// liveIndexed returns the indexed values an entry is filed under on the
// server, or the ones carried by an earlier stage of the same entry, so
// restaging keeps pointing at the original server postings.
func (t *transaction) liveIndexed(ctx context.Context, collection, key string) ([]orbit.IndexedValue, error) {
	if w, ok := t.writes[collection][key]; ok {
		return w.live, nil
	}
	raw, err := t.client().HGet(ctx, t.store.trackingKey(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var live []orbit.IndexedValue
	if err := encoding.Unmarshal(raw, &live); err != nil {
		return nil, err
	}
	return live, nil
}

func errEnded() error {
	return orbit.Error{
		Code: orbit.StoreUnavailable,
		Err:  errors.New("transaction has already ended"),
	}
}
