package dispatch

import (
	"time"

	"github.com/maumercado/accel-dispatch/internal/feed"
	"github.com/maumercado/accel-dispatch/internal/outcome"
)

// OnTaskStart is invoked when a worker dequeues a task and is about to
// invoke the user body.
type OnTaskStart func(taskID uint64, workerID int)

// OnSuccess is invoked when a task's user body returns normally. Required.
type OnSuccess func(taskID uint64, result any, workerID int)

// OnError is invoked for a task failure, and again (with taskID 0) for a
// worker's CleanupFailed — spec §9 routes cleanup failures through this
// channel rather than a dedicated one.
type OnError func(taskID uint64, errorText string, workerID int)

// OnTimeout is invoked when a task exceeds its per-task budget.
type OnTimeout func(taskID uint64, timeoutSeconds float64, workerID int)

// OnSetupFail is invoked when a worker's Setup call fails. The worker is
// marked gone and never receives a task.
type OnSetupFail func(deviceID int, errorText string)

// OnExit is invoked exactly once, after every worker has terminated and
// before Run returns, regardless of which termination path was taken.
type OnExit func()

// Observer is an optional ambient hook a caller can attach to receive every
// raw Outcome message and the worker state changes the Monitor Loop makes
// while handling them (processing, idle, setup_failed, draining), for
// relaying to an external registry or a metrics exporter without
// participating in the callback contract itself. States set outside that
// handling (setup_running at spawn, setup_failed for a worker whose process
// could not be started, terminated on process exit) show up in Stats but
// are not reported here. It must not block or retain the message.
type Observer interface {
	Outcome(msg outcome.Message)
	WorkerState(deviceID int, state WorkerState)
}

// RunOptions carries the per-invocation parameters of spec §4.5/§6. Only
// Generator and OnSuccess are required.
type RunOptions struct {
	Generator feed.Generator

	OnSuccess   OnSuccess
	OnError     OnError
	OnTimeout   OnTimeout
	OnSetupFail OnSetupFail
	OnTaskStart OnTaskStart
	OnExit      OnExit

	// BaseSeed is added to each worker's ordinal position among
	// DeviceIDs to produce that worker's Setup seed.
	BaseSeed int64

	// TaskTimeout bounds a single Process invocation; 0 disables it.
	TaskTimeout time.Duration

	// SetupConfig is forwarded verbatim to every worker's Setup call.
	SetupConfig map[string]any

	Observer Observer
}
