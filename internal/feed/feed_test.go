package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/accel-dispatch/internal/queue"
	"github.com/maumercado/accel-dispatch/internal/task"
)

func TestFeederAssignsDenseMonotonicIDs(t *testing.T) {
	q := queue.NewTaskQueue(10)
	gen := NewSliceGenerator([]any{"a", "b", "c"})
	f := New(gen, q)

	require.NoError(t, f.Run(context.Background()))

	ctx := context.Background()
	var ids []uint64
	for i := 0; i < 3; i++ {
		env, err := q.Get(ctx)
		require.NoError(t, err)
		ids = append(ids, env.Task.ID)
	}
	assert.Equal(t, []uint64{0, 1, 2}, ids)
}

func TestFeederEmptyGeneratorExitsCleanly(t *testing.T) {
	q := queue.NewTaskQueue(10)
	gen := NewSliceGenerator(nil)
	f := New(gen, q)

	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, 0, q.Len())
}

type failingGenerator struct{ err error }

func (g failingGenerator) Next(ctx context.Context) (any, bool, error) {
	return nil, false, g.err
}

func TestFeederSurfacesGeneratorError(t *testing.T) {
	q := queue.NewTaskQueue(10)
	wantErr := errors.New("source exhausted unexpectedly")
	f := New(failingGenerator{err: wantErr}, q)

	err := f.Run(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

type blockingGenerator struct{ ch chan any }

func (g blockingGenerator) Next(ctx context.Context) (any, bool, error) {
	select {
	case v, ok := <-g.ch:
		if !ok {
			return nil, false, nil
		}
		return v, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func TestFeederStopsOnShutdownWhileBlockedOnPut(t *testing.T) {
	q := queue.NewTaskQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, task.TaskEnvelope(task.Task{ID: 999})))

	gen := blockingGenerator{ch: make(chan any, 1)}
	gen.ch <- "will be dropped"

	f := New(gen, q)
	runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := f.Run(runCtx)
	assert.NoError(t, err)
}
