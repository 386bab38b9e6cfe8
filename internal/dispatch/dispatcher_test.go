package dispatch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/accel-dispatch/internal/feed"
	"github.com/maumercado/accel-dispatch/internal/ipc"
	"github.com/maumercado/accel-dispatch/internal/logger"
	"github.com/maumercado/accel-dispatch/internal/worker"
)

// TestMain lets the compiled test binary double as a worker subprocess:
// when Dispatcher re-execs this same binary with the worker env vars set,
// RunWorkerIfRequested runs the worker lifecycle and exits before the
// testing framework ever starts collecting tests.
func TestMain(m *testing.M) {
	logger.Init("error", false)
	registerTestWorkers()
	ipc.Register(0)
	ipc.Register("")
	ipc.Register(time.Duration(0))
	RunWorkerIfRequested()
	os.Exit(m.Run())
}

type doublingWorker struct{ worker.NopCleanup }

func (*doublingWorker) Setup(int, int64, map[string]any) error { return nil }
func (*doublingWorker) Process(_ context.Context, payload any) (any, error) {
	return payload.(int) * 2, nil
}

type failingSetupWorker struct {
	worker.NopCleanup
	deviceToFail int
}

func (w *failingSetupWorker) Setup(deviceID int, _ int64, _ map[string]any) error {
	if deviceID == w.deviceToFail {
		return fmt.Errorf("simulated setup failure on device %d", deviceID)
	}
	return nil
}
func (*failingSetupWorker) Process(_ context.Context, payload any) (any, error) {
	return payload, nil
}

type errorOnZeroWorker struct{ worker.NopCleanup }

func (*errorOnZeroWorker) Setup(int, int64, map[string]any) error { return nil }
func (*errorOnZeroWorker) Process(_ context.Context, payload any) (any, error) {
	if payload.(int) == 0 {
		return nil, fmt.Errorf("boom")
	}
	return payload, nil
}

type sleepThenFastWorker struct{ worker.NopCleanup }

func (*sleepThenFastWorker) Setup(int, int64, map[string]any) error { return nil }
func (*sleepThenFastWorker) Process(ctx context.Context, payload any) (any, error) {
	d := payload.(time.Duration)
	if d <= 0 {
		return "fast", nil
	}
	select {
	case <-time.After(d):
		return "slow", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type blockingWorker struct{ worker.NopCleanup }

func (*blockingWorker) Setup(int, int64, map[string]any) error { return nil }
func (*blockingWorker) Process(ctx context.Context, _ any) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// unmarshalableResultWorker returns a channel (never gob-registered, and
// never encodable by gob at all) for payload 0, forcing consumeLoop's
// EncodeOutcome of the TaskSuccess to fail with a *ipc.MarshalError, while
// every other payload succeeds normally.
type unmarshalableResultWorker struct{ worker.NopCleanup }

func (*unmarshalableResultWorker) Setup(int, int64, map[string]any) error { return nil }
func (*unmarshalableResultWorker) Process(_ context.Context, payload any) (any, error) {
	if payload.(int) == 0 {
		return make(chan int), nil
	}
	return payload, nil
}

func registerTestWorkers() {
	Register("doubling", func() worker.Lifecycle { return &doublingWorker{} })
	Register("setup-fail-device-1", func() worker.Lifecycle { return &failingSetupWorker{deviceToFail: 1} })
	Register("error-on-zero", func() worker.Lifecycle { return &errorOnZeroWorker{} })
	Register("sleep-then-fast", func() worker.Lifecycle { return &sleepThenFastWorker{} })
	Register("blocking", func() worker.Lifecycle { return &blockingWorker{} })
	Register("unmarshalable-result", func() worker.Lifecycle { return &unmarshalableResultWorker{} })
}

func TestHappyPathFourWorkers(t *testing.T) {
	d, err := New("doubling", []int{0, 1, 2, 3}, 4)
	require.NoError(t, err)

	var mu sync.Mutex
	var results []int
	workerIDs := map[int]bool{}
	exits := 0

	opts := RunOptions{
		Generator: feed.NewSliceGenerator([]any{10, 20, 30, 40, 50}),
		OnSuccess: func(_ uint64, result any, workerID int) {
			mu.Lock()
			defer mu.Unlock()
			results = append(results, result.(int))
			workerIDs[workerID] = true
		},
		OnExit: func() { exits++ },
	}

	err = d.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{20, 40, 60, 80, 100}, results)
	for id := range workerIDs {
		assert.Contains(t, []int{0, 1, 2, 3}, id)
	}
	assert.Equal(t, 1, exits)
}

func TestPerTaskTimeout(t *testing.T) {
	d, err := New("sleep-then-fast", []int{0}, 4)
	require.NoError(t, err)

	var mu sync.Mutex
	var timeouts []uint64
	var successes []uint64

	opts := RunOptions{
		Generator:   feed.NewSliceGenerator([]any{2 * time.Second, time.Duration(0)}),
		TaskTimeout: 500 * time.Millisecond,
		OnSuccess: func(taskID uint64, _ any, _ int) {
			mu.Lock()
			successes = append(successes, taskID)
			mu.Unlock()
		},
		OnTimeout: func(taskID uint64, timeoutSeconds float64, workerID int) {
			mu.Lock()
			timeouts = append(timeouts, taskID)
			mu.Unlock()
			assert.Equal(t, 0.5, timeoutSeconds)
			assert.Equal(t, 0, workerID)
		},
	}

	require.NoError(t, d.Run(context.Background(), opts))
	assert.Equal(t, []uint64{0}, timeouts)
	assert.Equal(t, []uint64{1}, successes)
}

func TestProcessErrorThenSuccess(t *testing.T) {
	d, err := New("error-on-zero", []int{0}, 4)
	require.NoError(t, err)

	var mu sync.Mutex
	var errTaskID uint64
	var errText string
	var succeeded bool

	opts := RunOptions{
		Generator: feed.NewSliceGenerator([]any{0, 7}),
		OnSuccess: func(taskID uint64, result any, _ int) {
			mu.Lock()
			defer mu.Unlock()
			succeeded = true
			assert.Equal(t, uint64(1), taskID)
			assert.Equal(t, 7, result)
		},
		OnError: func(taskID uint64, text string, _ int) {
			mu.Lock()
			defer mu.Unlock()
			errTaskID = taskID
			errText = text
		},
	}

	require.NoError(t, d.Run(context.Background(), opts))
	assert.Equal(t, uint64(0), errTaskID)
	assert.Contains(t, errText, "boom")
	assert.True(t, succeeded)
}

// TestUnserializablePayloadBecomesTaskError exercises forwardTasks' marshal
// path: a chan int payload can never be gob-encoded (and gob cannot register
// a channel type at all), so Encode must fail with a *ipc.MarshalError
// before the envelope ever reaches the worker's stdin. The dispatcher must
// report that single task as a TaskError and keep serving the rest of the
// queue rather than requeuing it forever or killing the worker.
func TestUnserializablePayloadBecomesTaskError(t *testing.T) {
	d, err := New("doubling", []int{0}, 4)
	require.NoError(t, err)

	var mu sync.Mutex
	var successes []int
	var errTaskIDs []uint64
	var errTexts []string

	opts := RunOptions{
		Generator: feed.NewSliceGenerator([]any{1, make(chan int), 2}),
		OnSuccess: func(_ uint64, result any, _ int) {
			mu.Lock()
			defer mu.Unlock()
			successes = append(successes, result.(int))
		},
		OnError: func(taskID uint64, text string, _ int) {
			mu.Lock()
			defer mu.Unlock()
			errTaskIDs = append(errTaskIDs, taskID)
			errTexts = append(errTexts, text)
		},
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), opts) }()

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not return after an unserializable payload")
	}

	assert.ElementsMatch(t, []int{2, 4}, successes)
	require.Len(t, errTaskIDs, 1)
	assert.Equal(t, uint64(1), errTaskIDs[0])
	assert.Contains(t, errTexts[0], "payload failed to serialize")
}

// TestUnserializableResultBecomesTaskError exercises consumeLoop's marshal
// path: Process returns a channel for one task, which EncodeOutcome cannot
// gob-encode as a TaskSuccess. The worker must convert that single task to a
// TaskError instead of dying, and keep handling subsequent tasks normally.
func TestUnserializableResultBecomesTaskError(t *testing.T) {
	d, err := New("unmarshalable-result", []int{0}, 4)
	require.NoError(t, err)

	var mu sync.Mutex
	var successes []int
	var errTaskIDs []uint64
	var errTexts []string

	opts := RunOptions{
		Generator: feed.NewSliceGenerator([]any{0, 7}),
		OnSuccess: func(_ uint64, result any, _ int) {
			mu.Lock()
			defer mu.Unlock()
			successes = append(successes, result.(int))
		},
		OnError: func(taskID uint64, text string, _ int) {
			mu.Lock()
			defer mu.Unlock()
			errTaskIDs = append(errTaskIDs, taskID)
			errTexts = append(errTexts, text)
		},
	}

	require.NoError(t, d.Run(context.Background(), opts))

	assert.Equal(t, []int{7}, successes)
	require.Len(t, errTaskIDs, 1)
	assert.Equal(t, uint64(0), errTaskIDs[0])
	assert.Contains(t, errTexts[0], "result failed to serialize")
}

func TestSetupFailureReducesAndContinues(t *testing.T) {
	d, err := New("setup-fail-device-1", []int{0, 1}, 4)
	require.NoError(t, err)

	var mu sync.Mutex
	var setupFails []int
	var successes int

	opts := RunOptions{
		Generator: feed.NewSliceGenerator([]any{1, 2, 3, 4, 5}),
		OnSuccess: func(_ uint64, _ any, workerID int) {
			mu.Lock()
			defer mu.Unlock()
			successes++
			assert.Equal(t, 0, workerID)
		},
		OnSetupFail: func(deviceID int, _ string) {
			mu.Lock()
			defer mu.Unlock()
			setupFails = append(setupFails, deviceID)
		},
	}

	require.NoError(t, d.Run(context.Background(), opts))
	assert.Equal(t, []int{1}, setupFails)
	assert.Equal(t, 5, successes)
}

func TestAllWorkersFailSetupDrainsAndExits(t *testing.T) {
	d, err := New("setup-fail-device-1", []int{1}, 4)
	require.NoError(t, err)

	var setupFails int
	exited := false

	opts := RunOptions{
		Generator:   feed.NewSliceGenerator([]any{1, 2, 3}),
		OnSuccess:   func(uint64, any, int) {},
		OnSetupFail: func(int, string) { setupFails++ },
		OnExit:      func() { exited = true },
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), opts) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not exit after every worker failed setup")
	}

	assert.Equal(t, 1, setupFails)
	assert.True(t, exited)
}

func TestShutdownDuringInfiniteGenerator(t *testing.T) {
	d, err := New("doubling", []int{0, 1}, 4)
	require.NoError(t, err)

	exited := false
	opts := RunOptions{
		Generator: infiniteGenerator{},
		OnSuccess: func(uint64, any, int) {},
		OnExit:    func() { exited = true },
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		d.Shutdown()
	}()

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), opts) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return within the grace window after shutdown")
	}
	assert.True(t, exited)

	d.Shutdown() // idempotence: must not panic or block
}

// TestShutdownEscalatesOnStuckWorker exercises the sentinel -> terminate ->
// kill escalation: blockingWorker never returns from Process on its own,
// so the Dispatcher must eventually force it down rather than hang forever.
func TestShutdownEscalatesOnStuckWorker(t *testing.T) {
	d, err := New("blocking", []int{0}, 4)
	require.NoError(t, err)

	opts := RunOptions{
		Generator: infiniteGenerator{},
		OnSuccess: func(uint64, any, int) {},
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		d.Shutdown()
	}()

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), opts) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("dispatcher never escalated to a forced kill of the stuck worker")
	}
}

type infiniteGenerator struct{ n int }

func (g infiniteGenerator) Next(ctx context.Context) (any, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, nil
	default:
		return 1, true, nil
	}
}

func TestNewRejectsEmptyDeviceIDs(t *testing.T) {
	_, err := New("doubling", nil, 4)
	assert.ErrorIs(t, err, ErrNoDevices)
}

func TestNewRejectsUnregisteredClass(t *testing.T) {
	_, err := New("no-such-class", []int{0}, 4)
	assert.Error(t, err)
}

func TestStatsReportsWorkerStates(t *testing.T) {
	d, err := New("doubling", []int{0}, 4)
	require.NoError(t, err)

	done := make(chan struct{})
	opts := RunOptions{
		Generator: feed.NewSliceGenerator([]any{1}),
		OnSuccess: func(uint64, any, int) {},
		OnExit:    func() { close(done) },
	}
	go func() { _ = d.Run(context.Background(), opts) }()

	<-done
	stats := d.Stats()
	require.Len(t, stats.Workers, 1)
	assert.Equal(t, 0, stats.Workers[0].DeviceID)
	assert.Equal(t, "terminated", stats.Workers[0].State)
}
