package ipc

import (
	"fmt"

	"github.com/maumercado/accel-dispatch/internal/outcome"
	"github.com/maumercado/accel-dispatch/internal/task"
)

// TaskFrame is the wire shape for a Task Queue message crossing into a
// worker subprocess. It is a thin alias of task.Envelope so the framing
// layer never has to know about Task internals beyond what gob needs.
type TaskFrame = task.Envelope

// outcomeFrame is the flattened wire shape for an Outcome Protocol message.
// gob cannot transport an interface value without every concrete
// implementation being registered on both ends; flattening into one struct
// with a Kind discriminator sidesteps that entirely for the protocol's own
// types (a caller's Payload/Result type, carried in `any` fields, still
// needs gob.Register — see Register below).
type outcomeFrame struct {
	Kind           outcome.Kind
	TaskID         uint64
	WorkerID       int
	DeviceID       int
	Result         any
	ErrorText      string
	TimeoutSeconds float64
}

// Register makes a concrete payload or result type usable across the IPC
// boundary. Call it once, before spawning any worker, for every concrete
// type a Lifecycle's Process may receive as payload or return as result.
// This is the same per-type registration encoding/gob requires for any
// interface value, applied here to task payloads and results instead of
// protocol messages.
func Register(value any) {
	registerGob(value)
}

// EncodeOutcome writes an Outcome Protocol message as one wire frame.
func EncodeOutcome(enc *Encoder, msg outcome.Message) error {
	frame := outcomeFrame{Kind: msg.Kind()}

	switch m := msg.(type) {
	case outcome.TaskStarted:
		frame.TaskID, frame.WorkerID = m.TaskID, m.WorkerID
	case outcome.TaskSuccess:
		frame.TaskID, frame.Result, frame.WorkerID = m.TaskID, m.Result, m.WorkerID
	case outcome.TaskError:
		frame.TaskID, frame.ErrorText, frame.WorkerID = m.TaskID, m.ErrorText, m.WorkerID
	case outcome.TaskTimeout:
		frame.TaskID, frame.TimeoutSeconds, frame.WorkerID = m.TaskID, m.TimeoutSeconds, m.WorkerID
	case outcome.SetupFailed:
		frame.DeviceID, frame.ErrorText = m.DeviceID, m.ErrorText
	case outcome.CleanupFailed:
		frame.DeviceID, frame.ErrorText = m.DeviceID, m.ErrorText
	default:
		return fmt.Errorf("ipc: unknown outcome variant %T", msg)
	}

	return enc.Encode(frame)
}

// DecodeOutcome reads one wire frame and reconstructs the Outcome Protocol
// message it represents.
func DecodeOutcome(dec *Decoder) (outcome.Message, error) {
	var frame outcomeFrame
	if err := dec.Decode(&frame); err != nil {
		return nil, err
	}

	switch frame.Kind {
	case outcome.KindTaskStarted:
		return outcome.TaskStarted{TaskID: frame.TaskID, WorkerID: frame.WorkerID}, nil
	case outcome.KindTaskSuccess:
		return outcome.TaskSuccess{TaskID: frame.TaskID, Result: frame.Result, WorkerID: frame.WorkerID}, nil
	case outcome.KindTaskError:
		return outcome.TaskError{TaskID: frame.TaskID, ErrorText: frame.ErrorText, WorkerID: frame.WorkerID}, nil
	case outcome.KindTaskTimeout:
		return outcome.TaskTimeout{TaskID: frame.TaskID, TimeoutSeconds: frame.TimeoutSeconds, WorkerID: frame.WorkerID}, nil
	case outcome.KindSetupFailed:
		return outcome.SetupFailed{DeviceID: frame.DeviceID, ErrorText: frame.ErrorText}, nil
	case outcome.KindCleanupFailed:
		return outcome.CleanupFailed{DeviceID: frame.DeviceID, ErrorText: frame.ErrorText}, nil
	default:
		return nil, fmt.Errorf("ipc: unknown outcome kind %d on wire", frame.Kind)
	}
}
