// Package badger implements the backing store on BadgerDB, an embedded
// key/value database, giving a data source durable local persistence without
// an external server. Collections map onto key prefixes inside one keyspace;
// a Tx wraps a native badger transaction, so staged writes are read-your-own
// & commit atomically across collections.
//
// Key layout, segments joined with a zero byte so variable segments cannot
// collide:
//
//	c <col> k <key>               entry value
//	c <col> x <index> <value> <key>  index posting, value is the entry key
//	c <col> r <key>               indexed values the entry was filed under
//	m <col>                       collection spec
package badger

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/bradjones1/orbit"
	"github.com/bradjones1/orbit/encoding"
)

// Config contains the badger store's configurable settings.
type Config struct {
	// Path is the directory the database files live in. Created when missing.
	// Ignored when InMemory is set.
	Path string
	// InMemory keeps the whole keyspace in RAM, nothing touches disk. Meant
	// for tests.
	InMemory bool
	// SyncWrites makes every commit fsync before returning. Slower, durable.
	SyncWrites bool
	// Logger receives badger's internal logging. nil silences it.
	Logger *log.Logger
}

// DefaultConfig returns the canonical durable configuration for the given
// database directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a configuration for tests: RAM only, no fsync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store is the badger backed implementation of orbit.BackingStore. Safe for
// concurrent use.
type Store struct {
	db *badger.DB

	mu     sync.RWMutex
	specs  map[string]orbit.CollectionSpec
	closed bool
}

// Open opens the database per config & loads the collection layout persisted
// by earlier Upgrade calls.
func Open(config Config) (*Store, error) {
	if !config.InMemory && config.Path == "" {
		return nil, orbit.Error{
			Code: orbit.StoreUnavailable,
			Err:  errors.New("a database path is required for a persistent store"),
		}
	}
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Path)
	}
	opts = opts.WithSyncWrites(config.SyncWrites)
	if config.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: config.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:    db,
		specs: make(map[string]orbit.CollectionSpec),
	}
	if err := s.loadSpecs(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Begin opens a read-write transaction spanning all collections.
func (s *Store) Begin(ctx context.Context) (orbit.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}
	return &transaction{
		store: s,
		txn:   s.db.NewTransaction(true),
	}, nil
}

// Upgrade declares the collections & indexes in specs, persisting the layout
// so it survives restarts. Existing data is kept; an index added to a
// collection that already holds entries starts empty & fills as entries get
// rewritten with matching indexed values.
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
	if err := s.persistSpecs(merged); err != nil {
		return err
	}
	for _, spec := range merged {
		s.specs[spec.Name] = spec
	}
	return nil
}

// Reset drops all data & recreates every known collection empty, index
// declarations included.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	if err := s.db.DropAll(); err != nil {
		return err
	}
	specs := make([]orbit.CollectionSpec, 0, len(s.specs))
	for _, spec := range s.specs {
		specs = append(specs, spec)
	}
	return s.persistSpecs(specs)
}

// Close releases the database. Further operations fail with StoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) loadSpecs() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = metaPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var spec orbit.CollectionSpec
			err := it.Item().Value(func(val []byte) error {
				return encoding.Unmarshal(val, &spec)
			})
			if err != nil {
				return err
			}
			s.specs[spec.Name] = spec
		}
		return nil
	})
}

func (s *Store) persistSpecs(specs []orbit.CollectionSpec) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, spec := range specs {
			ba, err := encoding.Marshal(spec)
			if err != nil {
				return err
			}
			if err := txn.Set(metaKey(spec.Name), ba); err != nil {
				return err
			}
		}
		return nil
	})
}

// collectionSpec resolves a collection's declaration, failing when the store
// is closed or the collection was never upgraded into existence.
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

func hasIndex(spec orbit.CollectionSpec, name string) bool {
	for _, idx := range spec.Indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}

// badgerLogger adapts the structured logger to badger's printf style logging
// interface.
type badgerLogger struct {
	logger *log.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

const sep = 0x00

func entryKey(collection, key string) []byte {
	return join([]byte{'c'}, []byte(collection), []byte{'k'}, []byte(key))
}

func entryPrefix(collection string) []byte {
	return join([]byte{'c'}, []byte(collection), []byte{'k'}, nil)
}

func postingKey(collection, index, value, key string) []byte {
	return join([]byte{'c'}, []byte(collection), []byte{'x'}, []byte(index), []byte(value), []byte(key))
}

func postingPrefix(collection, index, value string) []byte {
	return join([]byte{'c'}, []byte(collection), []byte{'x'}, []byte(index), []byte(value), nil)
}

func trackKey(collection, key string) []byte {
	return join([]byte{'c'}, []byte(collection), []byte{'r'}, []byte(key))
}

func metaKey(collection string) []byte {
	return join([]byte{'m'}, []byte(collection))
}

func metaPrefix() []byte {
	return join([]byte{'m'}, nil)
}

// join concatenates segments with the zero byte separator. A trailing nil
// segment yields a prefix ending in the separator, for iteration.
func join(segments ...[]byte) []byte {
	n := len(segments)
	for _, seg := range segments {
		n += len(seg)
	}
	out := make([]byte, 0, n)
	for i, seg := range segments {
		if i > 0 {
			out = append(out, sep)
		}
		out = append(out, seg...)
	}
	return out
}

func errClosed() error {
	return orbit.Error{
		Code: orbit.StoreUnavailable,
		Err:  errors.New("badger store is closed"),
	}
}

func errNotUpgraded(name string) error {
	return orbit.Error{
		Code:     orbit.StoreUnavailable,
		Err:      fmt.Errorf("collection %q has not been upgraded", name),
		UserData: name,
	}
}
