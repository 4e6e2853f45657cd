// Package source composes the record cache & the action queue into a data
// source. Transforms submitted via Update are applied to the cache strictly
// one at a time in submission order, and with a journaled queue the pending
// transforms survive a restart: Recover re-creates them from their journaled
// descriptors & pushes them back ahead of new work.
package source

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

	"github.com/bradjones1/orbit"
	"github.com/bradjones1/orbit/cache"
	"github.com/bradjones1/orbit/encoding"
	"github.com/bradjones1/orbit/queue"
)

// EventTransform fires on the source's emitter after a transform got applied,
// with the *orbit.Transform & the orbit.UpdateDetails as arguments. It fires
// on the queue's drain goroutine, between the queue's beforeAction & action
// events for the carrying action.
const EventTransform = "transform"

// ActionTypeTransform is the Type of the queue actions a source pushes. The
// journaled Data of such an action is the transform itself.
const ActionTypeTransform = "transform"

// Options contains the source's configurable settings.
type Options struct {
	// Name identifies the source in logs & names its queue. Defaults to
	// "source".
	Name string
	// Queue configures the underlying action queue. nil means
	// queue.DefaultOptions: auto processing on, no journal.
	Queue *queue.Options
}

// Source is a queue-fronted record cache. Update is safe for concurrent use;
// the queue's single flight draining serializes the writes it implies.
type Source struct {
	name    string
	cache   *cache.Cache
	queue   *queue.ActionQueue
	journal queue.Journal
	emitter orbit.Emitter
}

// New instantiates a source on top of an existing record cache.
func New(c *cache.Cache, options *Options) (*Source, error) {
	if c == nil {
		return nil, orbit.Error{Code: orbit.StoreUnavailable, Err: errors.New("a record cache is required")}
	}
	if options == nil {
		options = &Options{}
	}
	name := options.Name
	if name == "" {
		name = "source"
	}
	s := &Source{
		name:  name,
		cache: c,
		queue: queue.New(name, options.Queue),
	}
	if options.Queue != nil {
		s.journal = options.Queue.Journal
	}
	return s, nil
}

// Name returns the source name, used in logs.
func (s *Source) Name() string {
	return s.name
}

// Cache returns the record cache, for reads.
func (s *Source) Cache() *cache.Cache {
	return s.cache
}

// Queue returns the source's action queue, for Process, Retry, Skip & Clear
// recovery and for its lifecycle events.
func (s *Source) Queue() *queue.ActionQueue {
	return s.queue
}

// Emitter returns the source's event emitter.
func (s *Source) Emitter() *orbit.Emitter {
	return &s.emitter
}

// On registers listener for event & returns a closure that deregisters it.
func (s *Source) On(event string, listener orbit.Listener) func() {
	return s.emitter.On(event, listener)
}

// Off deregisters the first registration of listener for event.
func (s *Source) Off(event string, listener orbit.Listener) {
	s.emitter.Off(event, listener)
}

// Update enqueues transform & returns its settlement future, which resolves
// with the orbit.UpdateDetails once the transform landed, or rejects with the
// queue's wrapped failure. With auto processing off the transform waits for an
// explicit Queue().Process call.
func (s *Source) Update(transform *orbit.Transform) *queue.Pending {
	return s.queue.Push(s.transformAction(transform))
}

func (s *Source) transformAction(transform *orbit.Transform) queue.Action {
	action := queue.Action{
		Type: ActionTypeTransform,
		Data: transform,
		Process: func(ctx context.Context) (any, error) {
			details, err := s.cache.ApplyTransform(ctx, transform)
			if err != nil {
				return nil, err
			}
			s.emitter.Emit(EventTransform, transform, details)
			return details, nil
		},
	}
	if transform != nil {
		// The transform's ID doubles as the action ID so journaled work keeps
		// a stable identity across restarts.
		action.ID = transform.ID
	}
	return action
}

// Recover re-creates the actions the queue's journal recorded & pushes them
// back in their journaled order. Call it once at startup, before submitting
// new updates, so interrupted work resumes ahead of new work. On a source
// without a journal it is a no-op.
func (s *Source) Recover(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	recorded, err := s.journal.Load(ctx)
	if err != nil {
		return err
	}
	for i := range recorded {
		action, err := s.rehydrate(recorded[i])
		if err != nil {
			return err
		}
		s.queue.Push(action)
	}
	if len(recorded) > 0 {
		log.Info(fmt.Sprintf("source %s recovered %d journaled action(s)", s.name, len(recorded)))
	}
	return nil
}

// rehydrate rebuilds a runnable action from its journaled descriptor. Only
// transform actions are known; anything else in the journal is a failure
// rather than silently dropped work.
func (s *Source) rehydrate(ra queue.RecordedAction) (queue.Action, error) {
	if ra.Type != ActionTypeTransform {
		return queue.Action{}, orbit.Error{
			Code:     orbit.ActionProcessingError,
			Err:      fmt.Errorf("journaled action %s has unknown type %q", ra.ID.String(), ra.Type),
			UserData: ra.Type,
		}
	}
	var transform orbit.Transform
	if err := encoding.Unmarshal(ra.Data, &transform); err != nil {
		return queue.Action{}, err
	}
	return s.transformAction(&transform), nil
}
