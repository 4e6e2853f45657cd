package queue

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"

	"github.com/bradjones1/orbit"
	"github.com/bradjones1/orbit/encoding"
)

// RecordedAction is the serializable descriptor of a pending action. Process
// funcs are not serialized; owners re-create them from Type & Data when
// reloading journaled work.
type RecordedAction struct {
	ID   orbit.UUID      `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Journal persists a queue's pending actions across restarts. Save replaces
// the whole journal with the given snapshot; Load returns the last saved
// snapshot in queue order.
type Journal interface {
	Save(ctx context.Context, actions []RecordedAction) error
	Load(ctx context.Context) ([]RecordedAction, error)
}

// storeJournal keeps the snapshot in one backing store collection, an entry
// per action keyed by queue position, so Load reads back enqueue order.
type storeJournal struct {
	store      orbit.BackingStore
	collection string
}

// NewStoreJournal instantiates a Journal on top of a backing store
// collection.
func NewStoreJournal(store orbit.BackingStore, collection string) Journal {
	return &storeJournal{
		store:      store,
		collection: collection,
	}
}

func (j *storeJournal) Save(ctx context.Context, actions []RecordedAction) error {
	tx, err := j.store.Begin(ctx)
	if err != nil {
		return err
	}
	existing, err := tx.GetAll(ctx, j.collection)
	if err != nil {
		tx.Rollback(ctx)
		return err
	}
	if len(existing) > 0 {
		keys := make([]string, len(existing))
		for i := range existing {
			keys[i] = existing[i].Key
		}
		if err := tx.DeleteMany(ctx, j.collection, keys...); err != nil {
			tx.Rollback(ctx)
			return err
		}
	}
	if len(actions) > 0 {
		items := make([]orbit.KeyValue, len(actions))
		for i := range actions {
			ba, err := encoding.Marshal(actions[i])
			if err != nil {
				tx.Rollback(ctx)
				return err
			}
			items[i] = orbit.KeyValue{Key: journalKey(i, actions[i].ID), Value: ba}
		}
		if err := tx.PutMany(ctx, j.collection, items...); err != nil {
			tx.Rollback(ctx)
			return err
		}
	}
	return tx.Commit(ctx)
}

func (j *storeJournal) Load(ctx context.Context) ([]RecordedAction, error) {
	tx, err := j.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	kvs, err := tx.GetAll(ctx, j.collection)
	if err != nil {
		return nil, err
	}
	actions := make([]RecordedAction, 0, len(kvs))
	for _, kv := range kvs {
		var a RecordedAction
		if err := encoding.Unmarshal(kv.Value, &a); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// journalKey zero pads the queue position so lexical key order is queue
// order.
func journalKey(position int, id orbit.UUID) string {
	return fmt.Sprintf("%08d.%s", position, id.String())
}

func recordAction(a Action) RecordedAction {
	ra := RecordedAction{
		ID:   a.ID,
		Type: a.Type,
	}
	if a.Data != nil {
		ba, err := encoding.Marshal(a.Data)
		if err != nil {
			log.Warn(fmt.Sprintf("action %s data is not serializable & was journaled without it, details: %v", a.ID.String(), err))
		} else {
			ra.Data = ba
		}
	}
	return ra
}
