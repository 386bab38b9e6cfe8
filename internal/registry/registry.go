// Package registry is the optional distributed-observability side-channel
// of spec §1's "pure observer... a live-terminal dashboard": a Registry
// relays every Outcome and worker state transition onto Redis so a process
// other than the one running the Dispatcher can watch a run live. It never
// participates in dispatch, scheduling, or retry — removing it changes
// nothing about how tasks are processed.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maumercado/accel-dispatch/internal/dispatch"
	"github.com/maumercado/accel-dispatch/internal/logger"
	"github.com/maumercado/accel-dispatch/internal/metrics"
	"github.com/maumercado/accel-dispatch/internal/outcome"
)

// DefaultHeartbeatInterval and DefaultHeartbeatTimeout match the teacher's
// own heartbeat cadence.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 15 * time.Second
)

// Registry implements dispatch.Observer. Both its methods are best-effort
// and non-blocking: a queue-full or Redis-down condition is logged and
// counted, never propagated back to the Monitor Loop that calls them.
type Registry struct {
	// InstanceID distinguishes this controller process from any other one
	// publishing onto the same Redis instance, so a dashboard subscribed to
	// multiple runs can tell their outcome streams apart.
	InstanceID string

	client *redis.Client
	bus    *outcomeBus

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	mu         sync.Mutex
	heartbeats map[int]*heartbeat

	events chan OutcomeEvent
	done   chan struct{}
}

// New constructs a Registry over client. Heartbeats for a device start the
// first time WorkerState observes it and stop when WorkerState reports
// dispatch.WorkerTerminated or dispatch.WorkerSetupFailed, or at Close. The
// Dispatcher reports only the second of those two states to its Observer,
// so the heartbeat of a worker that ran normally lasts until Close.
func New(client *redis.Client) *Registry {
	r := &Registry{
		InstanceID:        uuid.NewString(),
		client:            client,
		bus:               newOutcomeBus(client),
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeatTimeout:  DefaultHeartbeatTimeout,
		heartbeats:        make(map[int]*heartbeat),
		events:            make(chan OutcomeEvent, 256),
		done:              make(chan struct{}),
	}
	go r.publishLoop()
	return r
}

// Close stops every running heartbeat and the background publish loop.
// Safe to call once, after the Dispatcher's Run has returned.
func (r *Registry) Close() {
	r.mu.Lock()
	for _, hb := range r.heartbeats {
		hb.stop()
	}
	r.heartbeats = make(map[int]*heartbeat)
	r.mu.Unlock()

	close(r.events)
	<-r.done
}

// Outcome implements dispatch.Observer. It never blocks the Monitor Loop: a
// full internal buffer drops the event rather than waiting for Redis.
func (r *Registry) Outcome(msg outcome.Message) {
	ev := NewOutcomeEvent(msg)
	ev.InstanceID = r.InstanceID
	select {
	case r.events <- ev:
	default:
		metrics.RecordRegistryPublishError("outcome")
		logger.Warn().Str("kind", ev.Kind).Msg("registry: outcome publish queue full, dropping event")
	}
}

// WorkerState implements dispatch.Observer, starting a device's heartbeat
// on its first observed transition and stopping it once the device is gone
// for good.
func (r *Registry) WorkerState(deviceID int, state dispatch.WorkerState) {
	r.mu.Lock()
	hb, ok := r.heartbeats[deviceID]
	if !ok {
		hb = newHeartbeat(r.client, deviceID, r.heartbeatInterval, r.heartbeatTimeout)
		r.heartbeats[deviceID] = hb
		r.mu.Unlock()
		hb.start(context.Background())
	} else {
		r.mu.Unlock()
	}

	hb.updateState(state.String())

	if state == dispatch.WorkerTerminated || state == dispatch.WorkerSetupFailed {
		go func() {
			hb.stop()
			r.mu.Lock()
			delete(r.heartbeats, deviceID)
			r.mu.Unlock()
		}()
	}
}

func (r *Registry) publishLoop() {
	defer close(r.done)
	ctx := context.Background()
	for ev := range r.events {
		if err := r.bus.publish(ctx, ev); err != nil {
			metrics.RecordRegistryPublishError("outcome")
			logger.Warn().Err(err).Msg("registry: failed to publish outcome event")
		}
	}
}
