package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/maumercado/accel-dispatch/internal/ipc"
	"github.com/maumercado/accel-dispatch/internal/logger"
	"github.com/maumercado/accel-dispatch/internal/outcome"
	"github.com/maumercado/accel-dispatch/internal/task"
)

// Runtime drives the steady-state loop of one worker subprocess: Setup,
// then repeated dequeue/emit/invoke/emit until the poison sentinel arrives,
// then Cleanup. It is the entire body of a worker subprocess's main.
type Runtime struct {
	DeviceID    int
	WorkerID    int // aliased to DeviceID; the design identifies workers by device
	Seed        int64
	Config      map[string]any
	TaskTimeout time.Duration // 0 disables the per-task timeout

	In  *ipc.Decoder // reads TaskFrame from the controlling process
	Out *ipc.Encoder // writes Outcome Protocol frames to the controlling process
}

// procResult carries the outcome of one Process invocation back from the
// goroutine it ran on.
type procResult struct {
	value any
	err   error
}

// Run executes the full worker lifecycle. It returns only once the
// consumption loop has ended (poison sentinel or IPC failure) and Cleanup
// has been attempted; a non-nil error indicates a transport failure, not a
// user-level task failure (those are reported via Outcome messages).
func (r *Runtime) Run(lc Lifecycle) error {
	log := logger.WithDevice(r.DeviceID)

	if err := r.runSetup(lc); err != nil {
		diag := diagnosticText(err)
		log.Error().Str("error", diag).Msg("worker setup failed")
		return ipc.EncodeOutcome(r.Out, outcome.SetupFailed{DeviceID: r.DeviceID, ErrorText: diag})
	}

	loopErr := r.consumeLoop(lc, log)

	if err := runCleanup(lc); err != nil {
		diag := diagnosticText(err)
		log.Error().Str("error", diag).Msg("worker cleanup failed")
		if encErr := ipc.EncodeOutcome(r.Out, outcome.CleanupFailed{DeviceID: r.DeviceID, ErrorText: diag}); encErr != nil && loopErr == nil {
			loopErr = encErr
		}
	}

	return loopErr
}

func (r *Runtime) runSetup(lc Lifecycle) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("setup panicked: %v\n%s", p, debug.Stack())
		}
	}()
	return lc.Setup(r.DeviceID, r.Seed, r.Config)
}

func runCleanup(lc Lifecycle) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cleanup panicked: %v\n%s", p, debug.Stack())
		}
	}()
	return lc.Cleanup()
}

// consumeLoop implements spec §4.2 steps 1-8: block-receive, break on
// poison, else emit TaskStarted before invoking the user body, then emit
// exactly one terminal Outcome per task.
func (r *Runtime) consumeLoop(lc Lifecycle, log zerolog.Logger) error {
	for {
		var frame ipc.TaskFrame
		if err := r.In.Decode(&frame); err != nil {
			return err
		}
		if frame.Poison {
			return nil
		}

		if err := ipc.EncodeOutcome(r.Out, outcome.TaskStarted{TaskID: frame.Task.ID, WorkerID: r.WorkerID}); err != nil {
			return err
		}

		log.Debug().Uint64("task_id", frame.Task.ID).Msg("task started")

		msg := r.invoke(lc, frame.Task)
		if err := ipc.EncodeOutcome(r.Out, msg); err != nil {
			var marshalErr *ipc.MarshalError
			if !errors.As(err, &marshalErr) {
				return err
			}

			// spec.md: an unserializable result becomes a TaskError for this
			// task alone rather than a transport failure — the frame never
			// touched the pipe, so the worker keeps running.
			diag := fmt.Sprintf("result failed to serialize: %s", marshalErr.Error())
			log.Error().Uint64("task_id", frame.Task.ID).Str("error", diag).Msg("result encode failed")

			fallback := outcome.TaskError{TaskID: frame.Task.ID, ErrorText: diag, WorkerID: r.WorkerID}
			if err := ipc.EncodeOutcome(r.Out, fallback); err != nil {
				return err
			}
		}
	}
}

// invoke runs Process for one task, applying the per-task timeout and
// panic recovery, and returns the resulting terminal Outcome message. Each
// call allocates its own result channel, so a goroutine abandoned to a
// timeout can never deliver a stale result into a later task's select — its
// eventual send lands in a channel nothing else reads from again.
func (r *Runtime) invoke(lc Lifecycle, t task.Task) outcome.Message {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan procResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- procResult{err: fmt.Errorf("process panicked: %v\n%s", p, debug.Stack())}
			}
		}()
		value, err := lc.Process(ctx, t.Payload)
		resultCh <- procResult{value: value, err: err}
	}()

	if r.TaskTimeout <= 0 {
		res := <-resultCh
		return r.toTerminal(t.ID, res)
	}

	timer := time.NewTimer(r.TaskTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return r.toTerminal(t.ID, res)
	case <-timer.C:
		cancel() // give a well-behaved Process a chance to observe ctx.Done
		return outcome.TaskTimeout{
			TaskID:         t.ID,
			TimeoutSeconds: r.TaskTimeout.Seconds(),
			WorkerID:       r.WorkerID,
		}
	}
}

func (r *Runtime) toTerminal(taskID uint64, res procResult) outcome.Message {
	if res.err != nil {
		return outcome.TaskError{TaskID: taskID, ErrorText: diagnosticText(res.err), WorkerID: r.WorkerID}
	}
	return outcome.TaskSuccess{TaskID: taskID, Result: res.value, WorkerID: r.WorkerID}
}

func diagnosticText(err error) string {
	return err.Error()
}
