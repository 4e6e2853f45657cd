// Package mocks provides backing store test doubles for exercising failure
// paths real backends cannot produce on demand, e.g. a commit that fails
// after every operation succeeded.
package mocks

import (
	"context"

	"github.com/bradjones1/orbit"
)

// FailingStore wraps a live backing store & fails chosen operations with
// preset errors so rollback & halt paths can be tested deterministically.
// An unset error field leaves that operation passing through to Target.
type FailingStore struct {
	// Target serves every call not armed to fail.
	Target orbit.BackingStore
	// BeginErr fails Begin.
	BeginErr error
	// UpgradeErr fails Upgrade.
	UpgradeErr error
	// GetErr fails Tx.Get & Tx.GetAll.
	GetErr error
	// PutErr fails Tx.Put & Tx.PutMany.
	PutErr error
	// DeleteErr fails Tx.Delete & Tx.DeleteMany.
	DeleteErr error
	// ScanErr fails Tx.ScanByIndex.
	ScanErr error
	// CommitErr fails Tx.Commit. The underlying transaction is rolled back
	// first, so nothing lands in Target.
	CommitErr error
}

// NewFailingStore wraps target with no failures armed.
func NewFailingStore(target orbit.BackingStore) *FailingStore {
	return &FailingStore{Target: target}
}

func (s *FailingStore) Begin(ctx context.Context) (orbit.Tx, error) {
	if s.BeginErr != nil {
		return nil, s.BeginErr
	}
	tx, err := s.Target.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{store: s, target: tx}, nil
}

func (s *FailingStore) Upgrade(ctx context.Context, specs []orbit.CollectionSpec) error {
	if s.UpgradeErr != nil {
		return s.UpgradeErr
	}
	return s.Target.Upgrade(ctx, specs)
}

func (s *FailingStore) Reset(ctx context.Context) error {
	return s.Target.Reset(ctx)
}

func (s *FailingStore) Close() error {
	return s.Target.Close()
}

type failingTx struct {
	store  *FailingStore
	target orbit.Tx
}

func (t *failingTx) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if t.store.GetErr != nil {
		return nil, t.store.GetErr
	}
	return t.target.Get(ctx, collection, key)
}

func (t *failingTx) GetAll(ctx context.Context, collection string) ([]orbit.KeyValue, error) {
	if t.store.GetErr != nil {
		return nil, t.store.GetErr
	}
	return t.target.GetAll(ctx, collection)
}

func (t *failingTx) Put(ctx context.Context, collection string, item orbit.KeyValue) error {
	if t.store.PutErr != nil {
		return t.store.PutErr
	}
	return t.target.Put(ctx, collection, item)
}

func (t *failingTx) PutMany(ctx context.Context, collection string, items ...orbit.KeyValue) error {
	if t.store.PutErr != nil {
		return t.store.PutErr
	}
	return t.target.PutMany(ctx, collection, items...)
}

func (t *failingTx) Delete(ctx context.Context, collection, key string) error {
	if t.store.DeleteErr != nil {
		return t.store.DeleteErr
	}
	return t.target.Delete(ctx, collection, key)
}

func (t *failingTx) DeleteMany(ctx context.Context, collection string, keys ...string) error {
	if t.store.DeleteErr != nil {
		return t.store.DeleteErr
	}
	return t.target.DeleteMany(ctx, collection, keys...)
}

func (t *failingTx) ScanByIndex(ctx context.Context, collection, index, value string) ([]orbit.KeyValue, error) {
	if t.store.ScanErr != nil {
		return nil, t.store.ScanErr
	}
	return t.target.ScanByIndex(ctx, collection, index, value)
}

func (t *failingTx) Commit(ctx context.Context) error {
	if t.store.CommitErr != nil {
		t.target.Rollback(ctx)
		return t.store.CommitErr
	}
	return t.target.Commit(ctx)
}

func (t *failingTx) Rollback(ctx context.Context) error {
	return t.target.Rollback(ctx)
}
