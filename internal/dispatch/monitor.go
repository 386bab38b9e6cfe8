package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/maumercado/accel-dispatch/internal/outcome"
	"github.com/maumercado/accel-dispatch/internal/task"
)

// monitorLoop is the Monitor Loop of spec §4.5: it dispatches every Outcome
// message to the matching callback, tracks whether the Feeder and every
// worker have finished, and sends the poison round exactly once, as soon as
// the Feeder is done for any reason (exhaustion, shutdown, or its own
// failure). It exits once the Feeder is done, the Task Queue has been
// drained of anything it will never dispatch, and every configured worker
// has terminated.
func (d *Dispatcher) monitorLoop(log zerolog.Logger, opts RunOptions, feederDone chan error, goneCount, exitedCount int) error {
	total := len(d.deviceIDs)
	var runErr error
	var poisonSent bool

	for !(feederDone == nil && exitedCount == total) {
		select {
		case msg := <-d.resultQueue.Chan():
			d.dispatchOutcome(log, opts, msg, &goneCount)
			if feederDone != nil && goneCount >= total {
				// every configured worker is gone before the Feeder
				// finished; spec §7 "if all workers are gone, dispatcher
				// enters shutdown after draining".
				d.Shutdown()
			}

		case devID := <-d.workerExited:
			exitedCount++
			log.Debug().Int("device_id", devID).Msg("worker process exited")

		case err, ok := <-feederDone:
			if !ok {
				continue
			}
			feederDone = nil
			if err != nil {
				runErr = err
				log.Error().Err(err).Msg("generator failed, shutting down")
				d.Shutdown()
			}
			if !poisonSent {
				d.sendPoisons(goneCount)
				poisonSent = true
			}
		}
	}

	// The exit condition above only requires every worker's process to have
	// exited (workerExited), not that its final Outcome frame has already
	// been pulled off resultQueue — readOutcomes (process.go) decodes and
	// Puts a worker's last TaskSuccess/TaskError/CleanupFailed independently
	// of watchForExit signaling workerExited, and select has no ordering
	// guarantee between the two channels. Drain whatever is left so no
	// terminal Outcome is dropped on the floor.
	for {
		select {
		case msg := <-d.resultQueue.Chan():
			d.dispatchOutcome(log, opts, msg, &goneCount)
		default:
			return runErr
		}
	}
}

// sendPoisons discards anything still buffered in the Task Queue when
// shutdown is underway (on the normal-exhaustion path buffered tasks stay
// queued ahead of the sentinels and are still processed), enqueues exactly
// one poison sentinel per worker
// that has not already been marked gone, and independently starts each live
// worker's exit watchdog. The watchdog is started here rather than left
// purely to forwardTasks because a forwarder can itself be stuck writing to
// a worker that has stopped reading its stdin — the grace-window escalation
// must not depend on that write ever completing.
func (d *Dispatcher) sendPoisons(goneCount int) {
	if d.shutdownCtx.Err() != nil {
		d.taskQueue.Drain()
	}

	live := len(d.deviceIDs) - goneCount
	for i := 0; i < live; i++ {
		_ = d.taskQueue.Put(context.Background(), task.PoisonEnvelope())
	}

	d.mu.RLock()
	handles := append([]*workerHandle(nil), d.handles...)
	d.mu.RUnlock()
	for _, h := range handles {
		if h.descriptor.State() != WorkerSetupFailed {
			d.startWatch(h)
		}
	}
}

// dispatchOutcome routes one decoded Outcome message to its matching
// callback, updates the worker's tracked state, and relays it to the
// optional Observer. goneCount is incremented on SetupFailed.
func (d *Dispatcher) dispatchOutcome(log zerolog.Logger, opts RunOptions, msg outcome.Message, goneCount *int) {
	switch m := msg.(type) {
	case outcome.TaskStarted:
		d.setWorkerState(opts, m.WorkerID, WorkerProcessing)
		if opts.OnTaskStart != nil {
			safeCall(log, "on_task_start", func() { opts.OnTaskStart(m.TaskID, m.WorkerID) })
		}

	case outcome.TaskSuccess:
		d.setWorkerState(opts, m.WorkerID, WorkerIdle)
		safeCall(log, "on_success", func() { opts.OnSuccess(m.TaskID, m.Result, m.WorkerID) })

	case outcome.TaskError:
		d.setWorkerState(opts, m.WorkerID, WorkerIdle)
		if opts.OnError != nil {
			safeCall(log, "on_error", func() { opts.OnError(m.TaskID, m.ErrorText, m.WorkerID) })
		}

	case outcome.TaskTimeout:
		d.setWorkerState(opts, m.WorkerID, WorkerIdle)
		if opts.OnTimeout != nil {
			safeCall(log, "on_timeout", func() { opts.OnTimeout(m.TaskID, m.TimeoutSeconds, m.WorkerID) })
		}

	case outcome.SetupFailed:
		d.setWorkerState(opts, m.DeviceID, WorkerSetupFailed)
		*goneCount++
		if opts.OnSetupFail != nil {
			safeCall(log, "on_setup_fail", func() { opts.OnSetupFail(m.DeviceID, m.ErrorText) })
		}

	case outcome.CleanupFailed:
		d.setWorkerState(opts, m.DeviceID, WorkerDraining)
		if opts.OnError != nil {
			// spec §9: CleanupFailed is prescribed to surface on the
			// on_error channel rather than a dedicated one.
			text := fmt.Sprintf("cleanup failed on device %d: %s", m.DeviceID, m.ErrorText)
			safeCall(log, "on_error", func() { opts.OnError(0, text, m.DeviceID) })
		}
	}

	if opts.Observer != nil {
		safeCall(log, "observer", func() { opts.Observer.Outcome(msg) })
	}
}

func (d *Dispatcher) setWorkerState(opts RunOptions, deviceID int, state WorkerState) {
	d.mu.RLock()
	desc, ok := d.descriptors[deviceID]
	d.mu.RUnlock()
	if !ok {
		return
	}
	desc.setState(state)

	if opts.Observer != nil {
		opts.Observer.WorkerState(deviceID, state)
	}
}

// safeCall runs fn, recovering and logging any panic so a caller's callback
// can never bring down the Monitor Loop (spec §4.5 "callback contract").
func safeCall(log zerolog.Logger, name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("callback", name).Msg("callback panicked")
		}
	}()
	fn()
}
