package registry

import (
	"encoding/json"
	"time"

	"github.com/maumercado/accel-dispatch/internal/outcome"
)

// OutcomeEvent is the wire shape an Outcome Protocol message takes once it
// leaves the process: a flattened, JSON-tagged mirror of ipc's gob
// outcomeFrame, published for any remote dashboard subscribed to the
// registry's pub/sub channel rather than decoded by another Go process
// sharing this binary's types.
type OutcomeEvent struct {
	Kind       string    `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instance_id,omitempty"`

	TaskID         uint64  `json:"task_id,omitempty"`
	WorkerID       int     `json:"worker_id,omitempty"`
	DeviceID       int     `json:"device_id,omitempty"`
	ErrorText      string  `json:"error_text,omitempty"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// NewOutcomeEvent flattens msg into its publishable form. Result is
// deliberately never carried: it may be an arbitrary caller type with no
// JSON shape the dashboard can be expected to know, and the registry is an
// observability side-channel, not a result-delivery path.
func NewOutcomeEvent(msg outcome.Message) OutcomeEvent {
	ev := OutcomeEvent{Kind: msg.Kind().String(), Timestamp: time.Now().UTC()}

	switch m := msg.(type) {
	case outcome.TaskStarted:
		ev.TaskID, ev.WorkerID = m.TaskID, m.WorkerID
	case outcome.TaskSuccess:
		ev.TaskID, ev.WorkerID = m.TaskID, m.WorkerID
	case outcome.TaskError:
		ev.TaskID, ev.WorkerID, ev.ErrorText = m.TaskID, m.WorkerID, m.ErrorText
	case outcome.TaskTimeout:
		ev.TaskID, ev.WorkerID, ev.TimeoutSeconds = m.TaskID, m.WorkerID, m.TimeoutSeconds
	case outcome.SetupFailed:
		ev.DeviceID, ev.ErrorText = m.DeviceID, m.ErrorText
	case outcome.CleanupFailed:
		ev.DeviceID, ev.ErrorText = m.DeviceID, m.ErrorText
	}

	return ev
}

// ToJSON serializes the event.
func (e OutcomeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// OutcomeEventFromJSON deserializes an event published by NewOutcomeEvent.
func OutcomeEventFromJSON(data []byte) (OutcomeEvent, error) {
	var ev OutcomeEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}
