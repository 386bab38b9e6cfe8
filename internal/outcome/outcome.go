// Package outcome defines the closed set of tagged messages a worker emits
// over the Result Queue. The protocol is versionless and carries no
// acknowledgements, heartbeats, or flow-control — backpressure lives in the
// queues, not the protocol.
package outcome

// Kind identifies which Outcome Protocol variant a Message carries.
type Kind int

const (
	KindTaskStarted Kind = iota
	KindTaskSuccess
	KindTaskError
	KindTaskTimeout
	KindSetupFailed
	KindCleanupFailed
)

func (k Kind) String() string {
	switch k {
	case KindTaskStarted:
		return "task_started"
	case KindTaskSuccess:
		return "task_success"
	case KindTaskError:
		return "task_error"
	case KindTaskTimeout:
		return "task_timeout"
	case KindSetupFailed:
		return "setup_failed"
	case KindCleanupFailed:
		return "cleanup_failed"
	default:
		return "unknown"
	}
}

// Message is the closed Outcome Protocol sum type. Kind() names the variant
// without a type assertion; the Monitor Loop dispatches with a type switch
// over the six concrete types.
type Message interface {
	Kind() Kind
	outcomeMessage()
}

// TaskStarted reports that a worker dequeued a task and is about to invoke
// the user body. It always precedes exactly one terminal message for the
// same TaskID, emitted by the same worker.
type TaskStarted struct {
	TaskID   uint64
	WorkerID int
}

func (TaskStarted) Kind() Kind      { return KindTaskStarted }
func (TaskStarted) outcomeMessage() {}

// TaskSuccess reports that the user body returned normally.
type TaskSuccess struct {
	TaskID   uint64
	Result   any
	WorkerID int
}

func (TaskSuccess) Kind() Kind      { return KindTaskSuccess }
func (TaskSuccess) outcomeMessage() {}

// TaskError reports that the user body failed. ErrorText is a human-readable
// diagnostic, including a stack trace when the failure was a recovered
// panic.
type TaskError struct {
	TaskID    uint64
	ErrorText string
	WorkerID  int
}

func (TaskError) Kind() Kind      { return KindTaskError }
func (TaskError) outcomeMessage() {}

// TaskTimeout reports that a task was interrupted because it exceeded its
// per-task budget. The worker that emits it remains healthy and continues
// its loop.
type TaskTimeout struct {
	TaskID         uint64
	TimeoutSeconds float64
	WorkerID       int
}

func (TaskTimeout) Kind() Kind      { return KindTaskTimeout }
func (TaskTimeout) outcomeMessage() {}

// SetupFailed reports that a worker's Setup call failed. The worker never
// enters its consumption loop and emits no TaskStarted.
type SetupFailed struct {
	DeviceID  int
	ErrorText string
}

func (SetupFailed) Kind() Kind      { return KindSetupFailed }
func (SetupFailed) outcomeMessage() {}

// CleanupFailed reports that Cleanup raised after the consumption loop
// ended. It is always a worker's terminal message.
type CleanupFailed struct {
	DeviceID  int
	ErrorText string
}

func (CleanupFailed) Kind() Kind      { return KindCleanupFailed }
func (CleanupFailed) outcomeMessage() {}
