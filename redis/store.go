package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sethvargo/go-retry"

	"github.com/bradjones1/orbit"
	"github.com/bradjones1/orbit/encoding"
)

// DefaultKeyspace prefixes every key the store writes when no keyspace is
// given, so several stores & unrelated applications can share one database.
const DefaultKeyspace = "orbit"

// Key layout inside the keyspace:
//
//	<ks>:c:<collection>            hash, entry key -> entry value
//	<ks>:x:<collection>:<index>:<value>  set of entry keys filed under value
//	<ks>:r:<collection>            hash, entry key -> indexed values last written
//	<ks>:m                         hash, collection name -> collection spec

// Store is the Redis backed implementation of orbit.BackingStore. It rides
// the package's singleton connection; open that first. Safe for concurrent
// use.
type Store struct {
	conn     *Connection
	keyspace string

	mu     sync.RWMutex
	specs  map[string]orbit.CollectionSpec
	closed bool
}

// NewStore instantiates a backing store on the open connection, pinging the
// server with backoff first so a backend still coming up does not fail the
// caller immediately. keyspace defaults to DefaultKeyspace.
func NewStore(ctx context.Context, keyspace string) (*Store, error) {
	if !IsConnectionInstantiated() {
		return nil, orbit.Error{
			Code: orbit.StoreUnavailable,
			Err:  errors.New("redis connection is not open"),
		}
	}
	if keyspace == "" {
		keyspace = DefaultKeyspace
	}
	s := &Store{
		conn:     connection,
		keyspace: keyspace,
		specs:    make(map[string]orbit.CollectionSpec),
	}
	err := orbit.Retry(ctx, func(ctx context.Context) error {
		if err := s.conn.Client.Ping(ctx).Err(); err != nil {
			if orbit.ShouldRetry(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := s.loadSpecs(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Begin opens a transaction. Writes stage in memory & flush on Commit in one
// MULTI/EXEC.
func (s *Store) Begin(ctx context.Context) (orbit.Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}
	return &transaction{
		store:  s,
		writes: make(map[string]map[string]*stagedWrite),
	}, nil
}

// Upgrade declares the collections & indexes in specs, persisting the layout
// in the meta hash so it survives restarts. Existing data is kept; an index
// added to a collection that already holds entries starts empty & fills as
// entries get rewritten with matching indexed values.
func (s *Store) Upgrade(ctx context.Context, specs []orbit.CollectionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	merged := make([]orbit.CollectionSpec, 0, len(specs))
	for _, spec := range specs {
		cur, ok := s.specs[spec.Name]
		if !ok {
			cur = orbit.CollectionSpec{Name: spec.Name}
		}
		for _, idx := range spec.Indexes {
			if !hasIndex(cur, idx.Name) {
				cur.Indexes = append(cur.Indexes, idx)
			}
		}
		merged = append(merged, cur)
	}
	if err := s.persistSpecs(ctx, merged); err != nil {
		return err
	}
	for _, spec := range merged {
		s.specs[spec.Name] = spec
	}
	return nil
}

// Reset deletes every key under the store's keyspace & re-persists the known
// collection layout, so collections come back declared and empty.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	iter := s.conn.Client.Scan(ctx, 0, s.keyspace+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := s.conn.Client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	specs := make([]orbit.CollectionSpec, 0, len(s.specs))
	for _, spec := range s.specs {
		specs = append(specs, spec)
	}
	return s.persistSpecs(ctx, specs)
}

// Close marks the store unusable. The underlying connection is shared &
// stays open; CloseConnection owns it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) loadSpecs(ctx context.Context) error {
	entries, err := s.conn.Client.HGetAll(ctx, s.metaKey()).Result()
	if err != nil {
		return err
	}
	for _, raw := range entries {
		var spec orbit.CollectionSpec
		if err := encoding.Unmarshal([]byte(raw), &spec); err != nil {
			return err
		}
		s.specs[spec.Name] = spec
	}
	return nil
}

func (s *Store) persistSpecs(ctx context.Context, specs []orbit.CollectionSpec) error {
	if len(specs) == 0 {
		return nil
	}
	fields := make([]any, 0, len(specs)*2)
	for _, spec := range specs {
		ba, err := encoding.Marshal(spec)
		if err != nil {
			return err
		}
		fields = append(fields, spec.Name, ba)
	}
	return s.conn.Client.HSet(ctx, s.metaKey(), fields...).Err()
}

func (s *Store) collectionSpec(name string) (orbit.CollectionSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return orbit.CollectionSpec{}, errClosed()
	}
	spec, ok := s.specs[name]
	if !ok {
		return orbit.CollectionSpec{}, errNotUpgraded(name)
	}
	return spec, nil
}

func (s *Store) collectionKey(collection string) string {
	return s.keyspace + ":c:" + collection
}

func (s *Store) trackingKey(collection string) string {
	return s.keyspace + ":r:" + collection
}

func (s *Store) postingKey(collection, index, value string) string {
	return s.keyspace + ":x:" + collection + ":" + index + ":" + value
}

func (s *Store) metaKey() string {
	return s.keyspace + ":m"
}

func hasIndex(spec orbit.CollectionSpec, name string) bool {
	for _, idx := range spec.Indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}

func errClosed() error {
	return orbit.Error{
		Code: orbit.StoreUnavailable,
		Err:  errors.New("redis store is closed"),
	}
}

func errNotUpgraded(name string) error {
	return orbit.Error{
		Code:     orbit.StoreUnavailable,
		Err:      fmt.Errorf("collection %q has not been upgraded", name),
		UserData: name,
	}
}

func errUndeclaredIndex(collection, index string) error {
	return orbit.Error{
		Code:     orbit.SchemaMismatch,
		Err:      fmt.Errorf("index %q is not declared on collection %q", index, collection),
		UserData: index,
	}
}
