package telemetry

import (
	"github.com/maumercado/accel-dispatch/internal/dispatch"
	"github.com/maumercado/accel-dispatch/internal/logger"
	"github.com/maumercado/accel-dispatch/internal/outcome"
)

// Fanout composes several dispatch.Observer values into one, so
// dispatch.RunOptions.Observer can remain a single field while a caller
// still wants the Recorder, the admin server's hub, and the optional
// registry all seeing the same stream. A panic or nil entry in one member
// never stops the others.
type Fanout []dispatch.Observer

func (f Fanout) Outcome(msg outcome.Message) {
	for _, o := range f {
		o := o
		if o == nil {
			continue
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error().Interface("panic", p).Msg("telemetry: observer panicked on Outcome")
				}
			}()
			o.Outcome(msg)
		}()
	}
}

func (f Fanout) WorkerState(deviceID int, state dispatch.WorkerState) {
	for _, o := range f {
		o := o
		if o == nil {
			continue
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error().Interface("panic", p).Msg("telemetry: observer panicked on WorkerState")
				}
			}()
			o.WorkerState(deviceID, state)
		}()
	}
}
