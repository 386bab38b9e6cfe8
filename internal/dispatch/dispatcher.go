// Package dispatch is the public surface of the engine: Dispatcher spawns
// one worker subprocess per configured device, runs a Feeder over a
// caller-supplied generator, and drains results into callbacks until every
// worker has cleanly terminated.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/maumercado/accel-dispatch/internal/feed"
	"github.com/maumercado/accel-dispatch/internal/logger"
	"github.com/maumercado/accel-dispatch/internal/queue"
)

// ErrNoDevices is returned by New when DeviceIDs is empty.
var ErrNoDevices = errors.New("dispatch: at least one device id is required")

// Dispatcher owns the pipeline end to end: both queues, the worker set, and
// the Feeder. One Dispatcher runs one Run call at a time.
type Dispatcher struct {
	workerClass string
	deviceIDs   []int
	queueSize   int

	selfPath     string
	baseEnv      []string
	workerStderr *os.File

	mu          sync.RWMutex
	descriptors map[int]*WorkerDescriptor
	handles     []*workerHandle

	taskQueue    *queue.TaskQueue
	resultQueue  *queue.ResultQueue
	workerExited chan int

	shutdownOnce   sync.Once
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// New constructs a Dispatcher for workerClass (a name previously passed to
// Register) over deviceIDs, an ordered non-empty sequence. A queueSize <= 0
// falls back to queue.DefaultTaskQueueSize. The factory is invoked once,
// here, to validate the worker class the way spec §9 requires — the
// instance it produces is discarded; every worker subprocess builds its own.
func New(workerClass string, deviceIDs []int, queueSize int) (*Dispatcher, error) {
	if len(deviceIDs) == 0 {
		return nil, ErrNoDevices
	}
	factory, err := lookupFactory(workerClass)
	if err != nil {
		return nil, err
	}
	if lc := factory(); lc == nil {
		return nil, fmt.Errorf("dispatch: worker class %q factory returned a nil Lifecycle", workerClass)
	}

	if queueSize <= 0 {
		queueSize = queue.DefaultTaskQueueSize
	}

	selfPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve own executable path: %w", err)
	}

	ids := append([]int(nil), deviceIDs...)
	return &Dispatcher{
		workerClass:  workerClass,
		deviceIDs:    ids,
		queueSize:    queueSize,
		selfPath:     selfPath,
		baseEnv:      os.Environ(),
		workerStderr: os.Stderr,
		descriptors:  make(map[int]*WorkerDescriptor),
	}, nil
}

// Shutdown requests graceful cancellation: the Feeder stops pulling new
// items, buffered tasks are discarded, every live worker is sent its
// poison sentinel, and Run returns once they have all terminated. It is
// idempotent and safe to call from a signal handler or concurrently from
// multiple goroutines.
func (d *Dispatcher) Shutdown() {
	d.shutdownOnce.Do(func() {
		if d.shutdownCancel != nil {
			d.shutdownCancel()
		}
	})
}

// Stats is a point-in-time, read-only snapshot of the pipeline, for callers
// that want to poll rather than subscribe to callbacks.
type Stats struct {
	TaskQueueDepth   int
	ResultQueueDepth int
	Workers          []WorkerStat
}

// WorkerStat is one worker's snapshot within Stats.
type WorkerStat struct {
	DeviceID int
	State    string
}

// Stats returns the current queue depths and worker states. Safe to call
// concurrently with Run.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{Workers: make([]WorkerStat, 0, len(d.descriptors))}
	if d.taskQueue != nil {
		s.TaskQueueDepth = d.taskQueue.Len()
	}
	if d.resultQueue != nil {
		s.ResultQueueDepth = len(d.resultQueue.Chan())
	}
	for _, id := range d.deviceIDs {
		if desc, ok := d.descriptors[id]; ok {
			s.Workers = append(s.Workers, WorkerStat{DeviceID: id, State: desc.State().String()})
		}
	}
	return s
}

// Run blocks until the pipeline has fully drained and every worker has
// terminated: normally (the generator is exhausted), or because ctx was
// canceled, Shutdown was called, an interrupt/termination signal arrived,
// or the generator itself failed. OnExit runs exactly once, under every
// path, before Run returns.
func (d *Dispatcher) Run(ctx context.Context, opts RunOptions) error {
	if opts.OnSuccess == nil {
		return errors.New("dispatch: RunOptions.OnSuccess is required")
	}
	if opts.Generator == nil {
		return errors.New("dispatch: RunOptions.Generator is required")
	}

	d.shutdownCtx, d.shutdownCancel = context.WithCancel(context.Background())
	defer d.shutdownCancel()

	if opts.OnExit != nil {
		defer opts.OnExit()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			d.Shutdown()
		case <-d.shutdownCtx.Done():
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			d.Shutdown()
		case <-d.shutdownCtx.Done():
		}
	}()

	d.taskQueue = queue.NewTaskQueue(d.queueSize)
	d.resultQueue = queue.NewResultQueue()
	d.workerExited = make(chan int, len(d.deviceIDs))

	initialGone, initialExited := d.startWorkers(opts)
	if initialGone >= len(d.deviceIDs) {
		// every configured worker failed to even spawn; nothing will ever
		// drain the Task Queue, so shut down before the Feeder can fill it.
		d.Shutdown()
	}

	feeder := feed.New(opts.Generator, d.taskQueue)
	feederDone := make(chan error, 1)
	go func() { feederDone <- feeder.Run(d.shutdownCtx) }()

	log := logger.WithComponent("dispatcher")
	return d.monitorLoop(log, opts, feederDone, initialGone, initialExited)
}

// startWorkers spawns one subprocess per configured device and starts its
// forwarder/reader goroutines. A device whose process could not even be
// started is recorded as already gone and already exited — equivalent to
// an immediate SetupFailed — and opts.OnSetupFail fires for it.
func (d *Dispatcher) startWorkers(opts RunOptions) (initialGone, initialExited int) {
	for ordinal, deviceID := range d.deviceIDs {
		seed := opts.BaseSeed + int64(ordinal)

		h, err := d.spawnWorker(deviceID, seed, opts.TaskTimeout, opts.SetupConfig)
		if err != nil {
			desc := newWorkerDescriptor(deviceID)
			desc.setState(WorkerSetupFailed)
			d.mu.Lock()
			d.descriptors[deviceID] = desc
			d.mu.Unlock()

			initialGone++
			initialExited++
			if opts.OnSetupFail != nil {
				safeCall(logger.WithDevice(deviceID), "on_setup_fail", func() {
					opts.OnSetupFail(deviceID, err.Error())
				})
			}
			continue
		}

		d.mu.Lock()
		d.descriptors[deviceID] = h.descriptor
		d.handles = append(d.handles, h)
		d.mu.Unlock()

		go d.forwardTasks(h)
		go d.readOutcomes(h)
	}
	return initialGone, initialExited
}

