package main

import "context"

// countGenerator emits n synthetic jobs and then reports exhaustion,
// standing in for whatever lazy sequence a real caller supplies — a
// dataset iterator, a request queue poll, and so on.
type countGenerator struct {
	remaining int
	next      int
}

func newCountGenerator(n int) *countGenerator {
	return &countGenerator{remaining: n}
}

func (g *countGenerator) Next(ctx context.Context) (any, bool, error) {
	if g.remaining <= 0 {
		return nil, false, nil
	}

	select {
	case <-ctx.Done():
		return nil, false, nil
	default:
	}

	g.remaining--
	job := map[string]any{"job_id": g.next}
	g.next++
	return job, true, nil
}
