// Package task holds the minimal data model the Feeder and Worker Runtime
// exchange: a dense, monotonically increasing task identifier paired with an
// opaque payload, plus the poison-sentinel wire shape used to tell a worker
// to leave its consumption loop.
package task

// Task is a single unit of work pulled from the user's generator. ID is
// assigned by the Feeder's IDGenerator, strictly increasing from 0 and dense
// over the enqueued stream. Payload is opaque — the core never inspects it.
type Task struct {
	ID      uint64
	Payload any
}

// Envelope is what actually travels on the Task Queue: either a Task, or the
// poison sentinel that tells a worker to stop consuming and move to
// cleanup. Modeling the sentinel as an explicit bool (rather than a nil
// payload) keeps the two cases unambiguous regardless of what a caller's
// payload type looks like.
type Envelope struct {
	Poison bool
	Task   Task
}

// TaskEnvelope wraps a Task for normal dispatch.
func TaskEnvelope(t Task) Envelope {
	return Envelope{Task: t}
}

// PoisonEnvelope is the distinguished shutdown sentinel; the Dispatcher
// enqueues exactly one per live worker during the termination sequence.
func PoisonEnvelope() Envelope {
	return Envelope{Poison: true}
}

// IDGenerator assigns dense, monotonically increasing task identifiers
// starting at 0. It is owned exclusively by the Feeder; nothing else writes
// to it.
type IDGenerator struct {
	next uint64
}

// Next returns the next task identifier and advances the counter.
func (g *IDGenerator) Next() uint64 {
	id := g.next
	g.next++
	return id
}
