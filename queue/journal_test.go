package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bradjones1/orbit"
	"github.com/bradjones1/orbit/inmemory"
)

const testJournalCollection = "action_journal"

func journalStore(t *testing.T) orbit.BackingStore {
	t.Helper()
	s := inmemory.NewStore()
	if err := s.Upgrade(context.Background(), []orbit.CollectionSpec{{Name: testJournalCollection}}); err != nil {
		t.Fatalf("Upgrade err: %v", err)
	}
	return s
}

func Test_StoreJournal_SaveLoad_KeepsQueueOrder(t *testing.T) {
	ctx := context.Background()
	j := NewStoreJournal(journalStore(t), testJournalCollection)

	saved := []RecordedAction{
		{ID: orbit.NewUUID(), Type: "transform", Data: json.RawMessage(`{"n":1}`)},
		{ID: orbit.NewUUID(), Type: "transform", Data: json.RawMessage(`{"n":2}`)},
		{ID: orbit.NewUUID(), Type: "query"},
	}
	if err := j.Save(ctx, saved); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	loaded, err := j.Load(ctx)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(loaded) != len(saved) {
		t.Fatalf("Load got = %d actions, want = %d", len(loaded), len(saved))
	}
	for i := range saved {
		if loaded[i].ID != saved[i].ID || loaded[i].Type != saved[i].Type {
			t.Fatalf("action %d got = %+v, want = %+v", i, loaded[i], saved[i])
		}
		if string(loaded[i].Data) != string(saved[i].Data) {
			t.Fatalf("action %d data got = %s, want = %s", i, loaded[i].Data, saved[i].Data)
		}
	}
}

func Test_StoreJournal_Save_ReplacesPriorSnapshot(t *testing.T) {
	ctx := context.Background()
	j := NewStoreJournal(journalStore(t), testJournalCollection)

	if err := j.Save(ctx, []RecordedAction{
		{ID: orbit.NewUUID(), Type: "transform"},
		{ID: orbit.NewUUID(), Type: "transform"},
	}); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	last := RecordedAction{ID: orbit.NewUUID(), Type: "query"}
	if err := j.Save(ctx, []RecordedAction{last}); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	loaded, err := j.Load(ctx)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != last.ID {
		t.Fatalf("Load got = %+v, want just the last snapshot", loaded)
	}

	// An empty snapshot clears the journal.
	if err := j.Save(ctx, nil); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	loaded, err = j.Load(ctx)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("cleared journal still holds %+v", loaded)
	}
}

func Test_StoreJournal_UnupgradedCollection_Fails(t *testing.T) {
	ctx := context.Background()
	j := NewStoreJournal(inmemory.NewStore(), testJournalCollection)

	err := j.Save(ctx, []RecordedAction{{ID: orbit.NewUUID(), Type: "transform"}})
	if !orbit.IsCode(err, orbit.StoreUnavailable) {
		t.Fatalf("Save err got = %v, want StoreUnavailable", err)
	}
	if _, err := j.Load(ctx); !orbit.IsCode(err, orbit.StoreUnavailable) {
		t.Fatalf("Load err got = %v, want StoreUnavailable", err)
	}
}

func Test_ActionQueue_StoreJournal_EmptiesAsWorkCompletes(t *testing.T) {
	ctx := waitCtx(t)
	j := NewStoreJournal(journalStore(t), testJournalCollection)
	q := New("sync", &Options{AutoProcess: false, Journal: j})

	ok := func(context.Context) (any, error) { return nil, nil }
	q.Push(Action{Type: "transform", Data: map[string]any{"n": 1}, Process: ok})
	q.Push(Action{Type: "transform", Data: map[string]any{"n": 2}, Process: ok})

	pending, err := j.Load(ctx)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(pending) != 2 || pending[0].Type != "transform" {
		t.Fatalf("journaled actions got = %+v, want both pushes", pending)
	}

	if _, err := q.Process().Wait(ctx); err != nil {
		t.Fatalf("Process err: %v", err)
	}

	pending, err = j.Load(ctx)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("journal not emptied after drain: %+v", pending)
	}
}

func Test_ActionQueue_StoreJournal_RetainsHaltedWork(t *testing.T) {
	ctx := waitCtx(t)
	j := NewStoreJournal(journalStore(t), testJournalCollection)
	q := New("sync", &Options{AutoProcess: false, Journal: j})

	q.Push(Action{Type: "bad", Process: func(context.Context) (any, error) {
		return nil, orbit.Error{Code: orbit.Unknown, Err: context.DeadlineExceeded}
	}})
	q.Push(Action{Type: "queued", Process: func(context.Context) (any, error) { return nil, nil }})

	if _, err := q.Process().Wait(ctx); err == nil {
		t.Fatalf("Process err got = nil, want the action failure")
	}

	// The failed head & the untouched tail both survive for a later recovery.
	pending, err := j.Load(ctx)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(pending) != 2 || pending[0].Type != "bad" || pending[1].Type != "queued" {
		t.Fatalf("journal after halt got = %+v, want bad,queued", pending)
	}
}
