package badger

import (
	"context"
	"testing"

	"github.com/bradjones1/orbit"
)

func openTestStore(t *testing.T, specs ...orbit.CollectionSpec) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Upgrade(context.Background(), specs); err != nil {
		t.Fatalf("Upgrade err: %v", err)
	}
	return s
}

func edgeSpec() orbit.CollectionSpec {
	return orbit.CollectionSpec{
		Name:    "edges",
		Indexes: []orbit.IndexSpec{{Name: "related"}},
	}
}

func Test_Store_PutGet_RoundTripsThroughCommit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, orbit.CollectionSpec{Name: "planet"})

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin err: %v", err)
	}
	if err := tx.Put(ctx, "planet", orbit.KeyValue{Key: "p1", Value: []byte("jupiter")}); err != nil {
		t.Fatalf("Put err: %v", err)
	}

	// Read-your-writes inside the transaction.
	if got, err := tx.Get(ctx, "planet", "p1"); err != nil || string(got) != "jupiter" {
		t.Fatalf("staged Get got = %q, err = %v", got, err)
	}
	// Invisible to a concurrently opened transaction.
	other, _ := s.Begin(ctx)
	if got, err := other.Get(ctx, "planet", "p1"); err != nil || got != nil {
		t.Fatalf("uncommitted write leaked: got = %q, err = %v", got, err)
	}
	other.Rollback(ctx)

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit err: %v", err)
	}
	after, _ := s.Begin(ctx)
	defer after.Rollback(ctx)
	if got, err := after.Get(ctx, "planet", "p1"); err != nil || string(got) != "jupiter" {
		t.Fatalf("committed Get got = %q, err = %v", got, err)
	}
	if got, err := after.Get(ctx, "planet", "p9"); err != nil || got != nil {
		t.Fatalf("absent key got = %q, err = %v", got, err)
	}
}

func Test_Store_GetAll_ReturnsKeyOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, orbit.CollectionSpec{Name: "planet"}, orbit.CollectionSpec{Name: "moon"})

	tx, _ := s.Begin(ctx)
	tx.PutMany(ctx, "planet",
		orbit.KeyValue{Key: "p2", Value: []byte("b")},
		orbit.KeyValue{Key: "p1", Value: []byte("a")},
	)
	tx.Put(ctx, "moon", orbit.KeyValue{Key: "m1", Value: []byte("c")})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit err: %v", err)
	}

	read, _ := s.Begin(ctx)
	defer read.Rollback(ctx)
	kvs, err := read.GetAll(ctx, "planet")
	if err != nil {
		t.Fatalf("GetAll err: %v", err)
	}
	if len(kvs) != 2 || kvs[0].Key != "p1" || kvs[1].Key != "p2" {
		t.Fatalf("GetAll got = %v, want p1,p2", kvs)
	}
	// Collections do not bleed into each other.
	kvs, err = read.GetAll(ctx, "moon")
	if err != nil {
		t.Fatalf("GetAll err: %v", err)
	}
	if len(kvs) != 1 || kvs[0].Key != "m1" {
		t.Fatalf("moon GetAll got = %v", kvs)
	}
}

func Test_Store_ScanByIndex_FollowsRewrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, edgeSpec())

	tx, _ := s.Begin(ctx)
	tx.Put(ctx, "edges", orbit.KeyValue{
		Key: "e1", Value: []byte("1"),
		Indexed: []orbit.IndexedValue{{Index: "related", Value: "a"}},
	})
	tx.Commit(ctx)

	// Rewriting the entry under a new index value must clear the old posting.
	tx, _ = s.Begin(ctx)
	tx.Put(ctx, "edges", orbit.KeyValue{
		Key: "e1", Value: []byte("1b"),
		Indexed: []orbit.IndexedValue{{Index: "related", Value: "b"}},
	})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit err: %v", err)
	}

	read, _ := s.Begin(ctx)
	defer read.Rollback(ctx)
	atA, err := read.ScanByIndex(ctx, "edges", "related", "a")
	if err != nil {
		t.Fatalf("ScanByIndex err: %v", err)
	}
	if len(atA) != 0 {
		t.Fatalf("stale posting survived rewrite: %v", atA)
	}
	atB, err := read.ScanByIndex(ctx, "edges", "related", "b")
	if err != nil {
		t.Fatalf("ScanByIndex err: %v", err)
	}
	if len(atB) != 1 || atB[0].Key != "e1" || string(atB[0].Value) != "1b" {
		t.Fatalf("ScanByIndex got = %v, want rewritten e1", atB)
	}
}

func Test_Store_ScanByIndex_SeesStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, edgeSpec())

	seed, _ := s.Begin(ctx)
	seed.PutMany(ctx, "edges",
		orbit.KeyValue{Key: "e1", Value: []byte("1"), Indexed: []orbit.IndexedValue{{Index: "related", Value: "a"}}},
		orbit.KeyValue{Key: "e2", Value: []byte("2"), Indexed: []orbit.IndexedValue{{Index: "related", Value: "a"}}},
	)
	if err := seed.Commit(ctx); err != nil {
		t.Fatalf("Commit err: %v", err)
	}

	tx, _ := s.Begin(ctx)
	defer tx.Rollback(ctx)
	tx.Delete(ctx, "edges", "e1")
	tx.Put(ctx, "edges", orbit.KeyValue{
		Key: "e3", Value: []byte("3"),
		Indexed: []orbit.IndexedValue{{Index: "related", Value: "a"}},
	})

	got, err := tx.ScanByIndex(ctx, "edges", "related", "a")
	if err != nil {
		t.Fatalf("ScanByIndex err: %v", err)
	}
	if len(got) != 2 || got[0].Key != "e2" || got[1].Key != "e3" {
		t.Fatalf("overlay scan got = %v, want e2,e3", got)
	}
}

func Test_Store_DeleteMany_ClearsPostings(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, edgeSpec())

	tx, _ := s.Begin(ctx)
	tx.PutMany(ctx, "edges",
		orbit.KeyValue{Key: "e1", Value: []byte("1"), Indexed: []orbit.IndexedValue{{Index: "related", Value: "a"}}},
		orbit.KeyValue{Key: "e2", Value: []byte("2"), Indexed: []orbit.IndexedValue{{Index: "related", Value: "a"}}},
	)
	tx.Commit(ctx)

	del, _ := s.Begin(ctx)
	if err := del.DeleteMany(ctx, "edges", "e1", "e2"); err != nil {
		t.Fatalf("DeleteMany err: %v", err)
	}
	if err := del.Commit(ctx); err != nil {
		t.Fatalf("Commit err: %v", err)
	}

	read, _ := s.Begin(ctx)
	defer read.Rollback(ctx)
	got, err := read.ScanByIndex(ctx, "edges", "related", "a")
	if err != nil {
		t.Fatalf("ScanByIndex err: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("postings survived delete: %v", got)
	}
}

func Test_Store_SchemaChecks_AreStrict(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, orbit.CollectionSpec{Name: "planet"})

	tx, _ := s.Begin(ctx)
	defer tx.Rollback(ctx)
	if _, err := tx.Get(ctx, "bogus", "k"); !orbit.IsCode(err, orbit.StoreUnavailable) {
		t.Fatalf("unknown collection err got = %v, want StoreUnavailable", err)
	}
	err := tx.Put(ctx, "planet", orbit.KeyValue{
		Key:     "p1",
		Indexed: []orbit.IndexedValue{{Index: "nope", Value: "x"}},
	})
	if !orbit.IsCode(err, orbit.SchemaMismatch) {
		t.Fatalf("undeclared index write err got = %v, want SchemaMismatch", err)
	}
	if _, err := tx.ScanByIndex(ctx, "planet", "nope", "x"); !orbit.IsCode(err, orbit.SchemaMismatch) {
		t.Fatalf("undeclared index scan err got = %v, want SchemaMismatch", err)
	}
}

func Test_Store_Upgrade_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if err := s.Upgrade(ctx, []orbit.CollectionSpec{edgeSpec()}); err != nil {
		t.Fatalf("Upgrade err: %v", err)
	}
	tx, _ := s.Begin(ctx)
	tx.Put(ctx, "edges", orbit.KeyValue{
		Key: "e1", Value: []byte("1"),
		Indexed: []orbit.IndexedValue{{Index: "related", Value: "a"}},
	})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit err: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	// The collection layout & the data are both back after a reopen.
	reopened, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("reopen err: %v", err)
	}
	defer reopened.Close()
	read, err := reopened.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin err: %v", err)
	}
	defer read.Rollback(ctx)
	if got, err := read.Get(ctx, "edges", "e1"); err != nil || string(got) != "1" {
		t.Fatalf("Get after reopen got = %q, err = %v", got, err)
	}
	scanned, err := read.ScanByIndex(ctx, "edges", "related", "a")
	if err != nil {
		t.Fatalf("ScanByIndex after reopen err: %v", err)
	}
	if len(scanned) != 1 || scanned[0].Key != "e1" {
		t.Fatalf("index after reopen got = %v", scanned)
	}
}

func Test_Store_Reset_ClearsDataKeepsLayout(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, edgeSpec())

	tx, _ := s.Begin(ctx)
	tx.Put(ctx, "edges", orbit.KeyValue{
		Key: "e1", Value: []byte("1"),
		Indexed: []orbit.IndexedValue{{Index: "related", Value: "a"}},
	})
	tx.Commit(ctx)

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset err: %v", err)
	}

	read, _ := s.Begin(ctx)
	defer read.Rollback(ctx)
	if got, err := read.Get(ctx, "edges", "e1"); err != nil || got != nil {
		t.Fatalf("data survived reset: got = %q, err = %v", got, err)
	}
	scanned, err := read.ScanByIndex(ctx, "edges", "related", "a")
	if err != nil {
		t.Fatalf("ScanByIndex err: %v", err)
	}
	if len(scanned) != 0 {
		t.Fatalf("postings survived reset: %v", scanned)
	}
	if err := read.Put(ctx, "edges", orbit.KeyValue{Key: "e2", Value: []byte("2")}); err != nil {
		t.Fatalf("Put after reset err: %v", err)
	}
}

func Test_Store_Close_RejectsFurtherUse(t *testing.T) {
	ctx := context.Background()
	s, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}
	if _, err := s.Begin(ctx); !orbit.IsCode(err, orbit.StoreUnavailable) {
		t.Fatalf("Begin after Close err got = %v, want StoreUnavailable", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close err: %v", err)
	}
}
