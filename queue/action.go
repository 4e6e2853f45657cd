package queue

import (
	"context"
	"sync"

	"github.com/bradjones1/orbit"
)

// Action is one unit of work enqueued for sequential processing. Type & Data
// describe the work so it can be journaled & re-created after a restart;
// Process performs it. An action moves through queued, active & then settles
// as succeeded or failed.
type Action struct {
	// ID uniquely identifies the action. Push assigns one when left nil.
	ID orbit.UUID
	// Type names the kind of work, e.g. "transform".
	Type string
	// Data is the action's payload. It has to be JSON serializable when the
	// queue is journaled.
	Data any
	// Process performs the work. It receives the queue's base context and
	// returns the action's result.
	Process func(ctx context.Context) (any, error)
}

// Pending is the settlement future of an enqueued action, or of a drain pass
// when returned by Process. It settles exactly once.
type Pending struct {
	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func settledPending(result any, err error) *Pending {
	p := newPending()
	p.settle(result, err)
	return p
}

func (p *Pending) settle(result any, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// Done returns a channel that is closed once the action settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the action settles or ctx is done, whichever comes first,
// returning the action's result or failure.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the settled outcome. Only meaningful after Done is closed;
// before settlement it returns nil, nil.
func (p *Pending) Result() (any, error) {
	select {
	case <-p.done:
		return p.result, p.err
	default:
		return nil, nil
	}
}
