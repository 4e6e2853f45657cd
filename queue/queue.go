// Package queue implements the ordered action scheduler that serializes all
// work applied to a data source. Actions drain strictly one at a time in
// enqueue order. The first failure halts the queue, keeping the failed action
// at head, & nothing further runs until the owner recovers via Process,
// Retry, Skip or Clear. That is the behavior wanted for ordered mutation
// logs, where applying action N+1 after N failed would corrupt derived state.
package queue

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/bradjones1/orbit"
)

// Queue lifecycle events, published via the queue's Emitter.
const (
	// EventBeforeAction fires right before an action runs, with the Action
	// as argument.
	EventBeforeAction = "beforeAction"
	// EventAction fires after an action succeeds, with the Action as
	// argument.
	EventAction = "action"
	// EventFail fires when an action fails, with the Action & the error as
	// arguments. The queue is already halted when listeners run.
	EventFail = "fail"
	// EventComplete fires when the queue drains to empty.
	EventComplete = "complete"
)

// ErrActionCanceled settles the future of an action that got removed without
// being processed, via Shift, Skip or Clear.
var ErrActionCanceled = errors.New("action canceled")

// State enumerates the queue's processing states.
type State int

const (
	// Idle means no drain is in flight & no failure awaits recovery.
	Idle State = iota
	// Processing means the drain goroutine is working the queue head.
	Processing
	// Halted means an action failed. The failed action stays at head until
	// the owner calls Process, Retry, Skip or Clear.
	Halted
)

func (s State) String() string {
	switch s {
	case Processing:
		return "processing"
	case Halted:
		return "halted"
	}
	return "idle"
}

// Options contains the queue's configurable settings.
type Options struct {
	// AutoProcess starts draining as soon as an action is pushed while the
	// queue is idle. Zero value means actions wait for an explicit Process
	// call; DefaultOptions turns it on.
	AutoProcess bool
	// Context is the base context handed to every action's Process func.
	// Defaults to context.Background.
	Context context.Context
	// Journal, when set, persists the pending action descriptors after every
	// queue mutation so unfinished work survives a restart.
	Journal Journal
}

// Returns the canonical queue settings, auto processing on, background
// context & no journal.
func DefaultOptions() *Options {
	return &Options{
		AutoProcess: true,
		Context:     context.Background(),
	}
}

type entry struct {
	action  Action
	pending *Pending
}

// ActionQueue is a FIFO scheduler of actions with single flight draining.
// All methods are safe for concurrent use. Actions & lifecycle events always
// run on the one drain goroutine, which is what makes emissions strictly
// ordered: EventBeforeAction for action N never fires before EventAction or
// EventFail finished for action N-1.
type ActionQueue struct {
	name    string
	options Options
	emitter orbit.Emitter

	mu      sync.Mutex
	entries []*entry
	current *entry
	state   State
	lastErr error
	drain   *Pending
}

// New instantiates an action queue. nil options means DefaultOptions.
func New(name string, options *Options) *ActionQueue {
	if options == nil {
		options = DefaultOptions()
	}
	opts := *options
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return &ActionQueue{
		name:    name,
		options: opts,
	}
}

// Name returns the queue name, used in logs.
func (q *ActionQueue) Name() string {
	return q.name
}

// Emitter returns the queue's event emitter.
func (q *ActionQueue) Emitter() *orbit.Emitter {
	return &q.emitter
}

// State returns the queue's current processing state.
func (q *ActionQueue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the count of unsettled actions, the active one included.
func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	if q.current != nil {
		n++
	}
	return n
}

// Current returns a copy of the action being processed, or of the failed head
// while halted. nil otherwise.
func (q *ActionQueue) Current() *Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil {
		a := q.current.action
		return &a
	}
	if q.state == Halted && len(q.entries) > 0 {
		a := q.entries[0].action
		return &a
	}
	return nil
}

// Err returns the failure that halted the queue, nil when not halted.
func (q *ActionQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastErr
}

// Push appends action to the tail & returns its settlement future. When auto
// processing is on and the queue is idle, draining begins immediately. A
// halted queue accepts pushes but runs nothing until recovered.
func (q *ActionQueue) Push(action Action) *Pending {
	return q.enqueue(action, false)
}

// Unshift inserts action at the head, ahead of all queued work but never
// ahead of the active action. Settlement semantics match Push.
func (q *ActionQueue) Unshift(action Action) *Pending {
	return q.enqueue(action, true)
}

func (q *ActionQueue) enqueue(action Action, front bool) *Pending {
	if action.ID.IsNil() {
		action.ID = orbit.NewUUID()
	}
	e := &entry{action: action, pending: newPending()}
	q.mu.Lock()
	if front {
		q.entries = append([]*entry{e}, q.entries...)
	} else {
		q.entries = append(q.entries, e)
	}
	if q.options.AutoProcess && q.state == Idle {
		q.beginDrainLocked()
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.journal(snap)
	return e.pending
}

// Shift removes the head action without processing it, settling its future
// with ErrActionCanceled, & returns it. Returns nil when nothing is queued.
// The active action cannot be shifted. Shifting the failed head of a halted
// queue clears the halt but does not resume draining.
func (q *ActionQueue) Shift() *Action {
	q.mu.Lock()
	if len(q.entries) == 0 {
		q.mu.Unlock()
		return nil
	}
	e := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	if q.state == Halted {
		q.state = Idle
		q.lastErr = nil
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()
	e.pending.settle(nil, ErrActionCanceled)
	q.journal(snap)
	a := e.action
	return &a
}

// Process begins draining queued actions & returns a future that settles once
// the queue empties, or rejects when an action fails. Called while already
// processing it returns the in-flight drain future. Called while halted it
// resumes from the failed head, re-attempting it.
func (q *ActionQueue) Process() *Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch q.state {
	case Processing:
		return q.drain
	case Halted:
		q.lastErr = nil
		q.beginDrainLocked()
		return q.drain
	default:
		if len(q.entries) == 0 {
			return settledPending(nil, nil)
		}
		q.beginDrainLocked()
		return q.drain
	}
}

// Retry re-attempts the failed head of a halted queue under a fresh
// settlement future, which is returned. On a queue that is not halted it does
// nothing & returns an already settled future.
func (q *ActionQueue) Retry() *Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != Halted || len(q.entries) == 0 {
		return settledPending(nil, nil)
	}
	head := q.entries[0]
	head.pending = newPending()
	q.lastErr = nil
	q.beginDrainLocked()
	return head.pending
}

// Skip discards the failed head of a halted queue & clears the halt. err
// settles the head's future in case it has not settled yet, defaulting to
// ErrActionCanceled. Draining resumes when auto processing is on & actions
// remain.
func (q *ActionQueue) Skip(err error) {
	q.mu.Lock()
	if q.state != Halted {
		q.mu.Unlock()
		return
	}
	if err == nil {
		err = ErrActionCanceled
	}
	var skipped *entry
	if len(q.entries) > 0 {
		skipped = q.entries[0]
		q.entries[0] = nil
		q.entries = q.entries[1:]
	}
	q.lastErr = nil
	q.state = Idle
	if q.options.AutoProcess && len(q.entries) > 0 {
		q.beginDrainLocked()
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()
	if skipped != nil {
		skipped.pending.settle(nil, err)
	}
	q.journal(snap)
}

// Clear empties the queue, settling every queued future with
// ErrActionCanceled, & clears any halt. An action already in flight is not
// interrupted; the queue goes idle once it settles.
func (q *ActionQueue) Clear() {
	q.mu.Lock()
	canceled := q.entries
	q.entries = nil
	q.lastErr = nil
	if q.state == Halted {
		q.state = Idle
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()
	for _, e := range canceled {
		e.pending.settle(nil, ErrActionCanceled)
	}
	q.journal(snap)
}

func (q *ActionQueue) beginDrainLocked() {
	q.state = Processing
	q.drain = newPending()
	go q.run(q.drain)
}

// run is the drain loop. At most one run goroutine exists at a time; it owns
// event emission & action invocation for its whole Processing span.
func (q *ActionQueue) run(drain *Pending) {
	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.state = Idle
			q.current = nil
			q.mu.Unlock()
			q.emitter.Emit(EventComplete)
			drain.settle(nil, nil)
			return
		}
		e := q.entries[0]
		q.entries[0] = nil
		q.entries = q.entries[1:]
		q.current = e
		q.mu.Unlock()

		q.emitter.Emit(EventBeforeAction, e.action)
		result, err := q.invoke(e.action)
		if err != nil {
			failure := orbit.Error{Code: orbit.ActionProcessingError, Err: err, UserData: e.action.Type}
			q.mu.Lock()
			// The failed action goes back to head so recovery can see &
			// re-attempt it.
			q.entries = append([]*entry{e}, q.entries...)
			q.current = nil
			q.state = Halted
			q.lastErr = failure
			snap := q.snapshotLocked()
			q.mu.Unlock()
			e.pending.settle(nil, failure)
			q.emitter.Emit(EventFail, e.action, failure)
			q.journal(snap)
			drain.settle(nil, failure)
			return
		}
		q.mu.Lock()
		q.current = nil
		snap := q.snapshotLocked()
		q.mu.Unlock()
		e.pending.settle(result, nil)
		q.emitter.Emit(EventAction, e.action)
		q.journal(snap)
	}
}

// invoke runs the action's Process func, converting a panic into a failure so
// one bad action halts the queue instead of the process.
func (q *ActionQueue) invoke(a Action) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", a.ID.String(), r)
		}
	}()
	if a.Process == nil {
		return nil, nil
	}
	return a.Process(q.options.Context)
}

// snapshotLocked captures the pending action descriptors, active action
// first, for journaling. Callers hold q.mu.
func (q *ActionQueue) snapshotLocked() []RecordedAction {
	if q.options.Journal == nil {
		return nil
	}
	snap := make([]RecordedAction, 0, len(q.entries)+1)
	if q.current != nil {
		snap = append(snap, recordAction(q.current.action))
	}
	for _, e := range q.entries {
		snap = append(snap, recordAction(e.action))
	}
	return snap
}

func (q *ActionQueue) journal(snap []RecordedAction) {
	if q.options.Journal == nil {
		return
	}
	if err := q.options.Journal.Save(q.options.Context, snap); err != nil {
		log.Warn(fmt.Sprintf("action queue %s failed to journal pending actions, details: %v", q.name, err))
	}
}
