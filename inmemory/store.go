// Package inmemory implements the backing store on process-local maps. It is
// the default for tests & for callers that want cache semantics without
// persistence. One mutex guards the whole store; transactions stage writes in
// an overlay & apply them under the lock at commit, so commit is atomic
// across collections.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bradjones1/orbit"
)

type storedItem struct {
	value   []byte
	indexed []orbit.IndexedValue
}

type collection struct {
	indexes map[string]bool
	items   map[string]storedItem
	// postings: index name -> indexed value -> keys carrying it.
	postings map[string]map[string]map[string]bool
}

func newCollection() *collection {
	return &collection{
		indexes:  make(map[string]bool),
		items:    make(map[string]storedItem),
		postings: make(map[string]map[string]map[string]bool),
	}
}

func (c *collection) put(key string, item storedItem) {
	if old, ok := c.items[key]; ok {
		c.unindex(key, old.indexed)
	}
	c.items[key] = item
	for _, iv := range item.indexed {
		values, ok := c.postings[iv.Index]
		if !ok {
			values = make(map[string]map[string]bool)
			c.postings[iv.Index] = values
		}
		keys, ok := values[iv.Value]
		if !ok {
			keys = make(map[string]bool)
			values[iv.Value] = keys
		}
		keys[key] = true
	}
}

func (c *collection) delete(key string) {
	if old, ok := c.items[key]; ok {
		c.unindex(key, old.indexed)
		delete(c.items, key)
	}
}

func (c *collection) unindex(key string, indexed []orbit.IndexedValue) {
	for _, iv := range indexed {
		if keys, ok := c.postings[iv.Index][iv.Value]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.postings[iv.Index], iv.Value)
			}
		}
	}
}

// Store is the in-memory backing store. The zero value is not usable;
// instantiate with NewStore.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool
}

// NewStore instantiates an empty in-memory backing store.
func NewStore() *Store {
	return &Store{
		collections: make(map[string]*collection),
	}
}

// Begin opens a transaction spanning all collections. Reads see the live
// store overlaid with the transaction's own staged writes; staged writes are
// invisible to everyone else until Commit.
func (s *Store) Begin(ctx context.Context) (orbit.Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}
	return &transaction{
		store:  s,
		writes: make(map[string]map[string]*storedItem),
	}, nil
}

// Upgrade creates the collections & indexes in specs that do not exist yet.
// Existing data is kept. An index added to a collection that already holds
// items starts empty; entries join it as items get rewritten with matching
// indexed values.
func (s *Store) Upgrade(ctx context.Context, specs []orbit.CollectionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	for _, spec := range specs {
		col, ok := s.collections[spec.Name]
		if !ok {
			col = newCollection()
			s.collections[spec.Name] = col
		}
		for _, idx := range spec.Indexes {
			col.indexes[idx.Name] = true
		}
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
	for name, col := range s.collections {
		empty := newCollection()
		for idx := range col.indexes {
			empty.indexes[idx] = true
		}
		s.collections[name] = empty
	}
	return nil
}

// Close marks the store unusable. Further operations fail with
// StoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) collection(name string) (*collection, error) {
	if s.closed {
		return nil, errClosed()
	}
	col, ok := s.collections[name]
	if !ok {
		return nil, errNotUpgraded(name)
	}
	return col, nil
}

func errClosed() error {
	return orbit.Error{
		Code: orbit.StoreUnavailable,
		Err:  errors.New("in-memory store is closed"),
	}
}

func errNotUpgraded(name string) error {
	return orbit.Error{
		Code:     orbit.StoreUnavailable,
		Err:      fmt.Errorf("collection %q has not been upgraded", name),
		UserData: name,
	}
}
