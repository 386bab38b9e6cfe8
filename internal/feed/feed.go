// Package feed implements the Feeder: the single producer that turns a
// user-supplied lazy sequence into Task Queue envelopes, tagging each with
// a dense, monotonically increasing identifier.
package feed

import (
	"context"

	"github.com/maumercado/accel-dispatch/internal/queue"
	"github.com/maumercado/accel-dispatch/internal/task"
)

// Generator is the user-supplied lazy sequence. Next blocks until the next
// item is ready, the sequence is exhausted (ok == false), or it fails
// (err != nil). Implementations should return promptly when ctx is done so
// the Feeder's shutdown wakeup stays within the target latency.
type Generator interface {
	Next(ctx context.Context) (payload any, ok bool, err error)
}

// Feeder pulls from a Generator and enqueues Task envelopes onto a bounded
// TaskQueue, assigning identifiers from a private, monotonically increasing
// counter starting at 0.
type Feeder struct {
	gen   Generator
	queue *queue.TaskQueue
	ids   task.IDGenerator
}

// New creates a Feeder over the given generator and destination queue.
func New(gen Generator, q *queue.TaskQueue) *Feeder {
	return &Feeder{gen: gen, queue: q}
}

// Run drives the Feeder until the generator is exhausted, the generator
// fails, or ctx is canceled (the Dispatcher's shutdown flag). A non-nil
// return value is always a generator failure — exhaustion and shutdown both
// return nil, and the caller distinguishes them by checking ctx.Err().
//
// When ctx is canceled while Run is blocked on Queue.Put, the in-flight
// item is dropped: it was never accepted onto the queue, so it is simply
// never dispatched, matching spec.md's "the task was never accepted"
// requirement.
func (f *Feeder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		payload, ok, err := f.gen.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			return nil
		}

		id := f.ids.Next()
		env := task.TaskEnvelope(task.Task{ID: id, Payload: payload})
		if err := f.queue.Put(ctx, env); err != nil {
			return nil
		}
	}
}

// SliceGenerator adapts a static, already-known-length slice into a
// Generator — the common case for tests and for callers whose work list is
// not actually unbounded.
type SliceGenerator struct {
	items []any
	pos   int
}

// NewSliceGenerator wraps items as a Generator that yields them in order.
func NewSliceGenerator(items []any) *SliceGenerator {
	return &SliceGenerator{items: items}
}

func (g *SliceGenerator) Next(ctx context.Context) (any, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}
	if g.pos >= len(g.items) {
		return nil, false, nil
	}
	item := g.items[g.pos]
	g.pos++
	return item, true, nil
}
