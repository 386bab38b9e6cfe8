// Package queue provides the two bounded, FIFO, blocking-put/blocking-get
// channels the Dispatcher owns: the Task Queue (shared by every worker, the
// single point of backpressure) and the Result Queue (sized so it never
// blocks a worker's reader goroutine in practice).
package queue

import (
	"context"

	"github.com/maumercado/accel-dispatch/internal/outcome"
	"github.com/maumercado/accel-dispatch/internal/task"
)

// DefaultTaskQueueSize matches spec.md's default queue_size.
const DefaultTaskQueueSize = 1024

// resultQueueCapacity is sized generously so the Monitor Loop draining the
// Result Queue never becomes the thing that makes a worker's reader
// goroutine block — a stalled worker cannot be interrupted without risking
// a protocol violation (spec §4.3).
const resultQueueCapacity = 65536

// TaskQueue is the single shared Task Queue every worker's forwarder
// goroutine competes to read from. Multiple producers are permitted (only
// the Feeder uses one in practice), multiple consumers are expected (one
// per live worker).
type TaskQueue struct {
	ch chan task.Envelope
}

// NewTaskQueue allocates a Task Queue with the given bound. A size <= 0
// falls back to DefaultTaskQueueSize.
func NewTaskQueue(size int) *TaskQueue {
	if size <= 0 {
		size = DefaultTaskQueueSize
	}
	return &TaskQueue{ch: make(chan task.Envelope, size)}
}

// Put blocks until the envelope is accepted or ctx is done. It is the
// Feeder's backpressure point: when every worker is busy and the queue is
// full, Put blocks and the user's generator is no longer pulled.
func (q *TaskQueue) Put(ctx context.Context, env task.Envelope) error {
	select {
	case q.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get blocks until an envelope is available or ctx is done.
func (q *TaskQueue) Get(ctx context.Context) (task.Envelope, error) {
	select {
	case env := <-q.ch:
		return env, nil
	case <-ctx.Done():
		return task.Envelope{}, ctx.Err()
	}
}

// Len reports the number of envelopes currently buffered, used by
// Dispatcher.Stats to report the Task Queue's depth.
func (q *TaskQueue) Len() int { return len(q.ch) }

// Drain empties the queue without dispatching anything, discarding any task
// still buffered when shutdown is underway (spec §4.5, interrupt/fatal
// termination).
func (q *TaskQueue) Drain() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}

// ResultQueue is the single channel every worker's reader goroutine
// publishes Outcome messages onto; the Monitor Loop is its only consumer.
type ResultQueue struct {
	ch chan outcome.Message
}

// NewResultQueue allocates a Result Queue sized to never exert backpressure
// on workers in practice.
func NewResultQueue() *ResultQueue {
	return &ResultQueue{ch: make(chan outcome.Message, resultQueueCapacity)}
}

// Put never blocks a caller beyond filling the (very large) buffer; a
// worker's reader goroutine should never observe backpressure here.
func (q *ResultQueue) Put(msg outcome.Message) {
	q.ch <- msg
}

// TryGet returns the next Outcome message, waiting up to the given poll
// window so a caller (the Monitor Loop) can re-check a shutdown flag
// between polls without busy-spinning.
func (q *ResultQueue) TryGet(ctx context.Context) (outcome.Message, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	case <-ctx.Done():
		return nil, false
	}
}

// Chan exposes the underlying channel so the Monitor Loop can multiplex it
// in a single select alongside other event sources (worker exits).
func (q *ResultQueue) Chan() <-chan outcome.Message { return q.ch }
