// Package telemetry wires dispatch.RunOptions.Observer to the process's own
// instrumentation: Prometheus metrics always, plus whichever other
// observers (the admin server's WebSocket hub, the Redis registry) a
// caller wants to fan the same stream out to.
package telemetry

import (
	"sync"
	"time"

	"github.com/maumercado/accel-dispatch/internal/dispatch"
	"github.com/maumercado/accel-dispatch/internal/metrics"
	"github.com/maumercado/accel-dispatch/internal/outcome"
)

// Recorder implements dispatch.Observer by translating every Outcome and
// worker state transition into the matching Prometheus series. It tracks
// each in-flight task's start time (set on TaskStarted, consumed on its
// terminal message) so TaskDuration reflects Process's own wall-clock time
// rather than the Monitor Loop's delivery latency.
type Recorder struct {
	mu      sync.Mutex
	started map[uint64]time.Time
}

// NewRecorder constructs a ready-to-use Recorder.
func NewRecorder() *Recorder {
	return &Recorder{started: make(map[uint64]time.Time)}
}

// Outcome implements dispatch.Observer.
func (r *Recorder) Outcome(msg outcome.Message) {
	switch m := msg.(type) {
	case outcome.TaskStarted:
		metrics.RecordDispatch(m.WorkerID)
		r.mark(m.TaskID)
	case outcome.TaskSuccess:
		metrics.RecordSuccess(m.WorkerID, r.elapsed(m.TaskID))
	case outcome.TaskError:
		metrics.RecordFailure(m.WorkerID, r.elapsed(m.TaskID))
	case outcome.TaskTimeout:
		metrics.RecordTimeout(m.WorkerID)
		r.clear(m.TaskID)
	case outcome.SetupFailed:
		metrics.RecordSetupFailure(m.DeviceID)
	case outcome.CleanupFailed:
		metrics.RecordCleanupFailure(m.DeviceID)
	}
}

// WorkerState implements dispatch.Observer. It records only the per-device
// state gauge; ActiveWorkers (an aggregate across every device) is set
// separately by a caller polling dispatch.Dispatcher.Stats(), since no
// single transition carries enough information to recompute that total.
func (r *Recorder) WorkerState(deviceID int, state dispatch.WorkerState) {
	metrics.SetWorkerState(deviceID, state.String(), stateNames)
}

func (r *Recorder) mark(taskID uint64) {
	r.mu.Lock()
	r.started[taskID] = time.Now()
	r.mu.Unlock()
}

func (r *Recorder) elapsed(taskID uint64) float64 {
	r.mu.Lock()
	start, ok := r.started[taskID]
	delete(r.started, taskID)
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return time.Since(start).Seconds()
}

func (r *Recorder) clear(taskID uint64) {
	r.mu.Lock()
	delete(r.started, taskID)
	r.mu.Unlock()
}

var stateNames = func() []string {
	names := make([]string, len(dispatch.AllWorkerStates))
	for i, s := range dispatch.AllWorkerStates {
		names[i] = s.String()
	}
	return names
}()
