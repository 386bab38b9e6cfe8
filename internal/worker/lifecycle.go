// Package worker implements the Worker Runtime: the process-local loop that
// owns one device, runs a user-supplied Lifecycle, and emits Outcome
// Protocol messages for every task it dequeues.
package worker

import "context"

// Lifecycle is the contract a caller implements to run work on one device.
// A single instance is constructed once per worker subprocess (never
// shared across devices) and lives for the worker's entire lifetime.
//
// Construction must stay trivial: a Factory only builds the value, it never
// talks to a device. Heavy initialization — acquiring a device context,
// loading a model — belongs in Setup, because the instance that is
// constructed in the controlling process (to validate the Factory) is
// discarded, and a fresh instance is built inside each worker subprocess.
type Lifecycle interface {
	// Setup is called exactly once, before any task reaches Process. seed is
	// base_seed + the worker's ordinal position among configured devices.
	Setup(deviceID int, seed int64, config map[string]any) error

	// Process runs one task and returns its result. It is called once per
	// dequeued task, one call after another on the same Lifecycle instance,
	// except that a call abandoned to the per-task timeout (its ctx is
	// canceled) may still be running when the next call starts; the
	// abandoned call's result is discarded.
	Process(ctx context.Context, payload any) (any, error)

	// Cleanup is called exactly once, after the consumption loop ends,
	// whether that end was a poison sentinel or a fatal IPC failure.
	Cleanup() error
}

// Factory constructs a new, unconfigured Lifecycle instance. The Dispatcher
// calls it once in the controlling process to validate the worker class,
// then once per worker subprocess to build that worker's own instance.
type Factory func() Lifecycle

// NopCleanup can be embedded by a Lifecycle implementation that has nothing
// to release, satisfying the Cleanup method with a no-op — mirroring the
// spec's "cleanup is optional, defaults to no-op" contract.
type NopCleanup struct{}

// Cleanup implements Lifecycle's optional cleanup phase as a no-op.
func (NopCleanup) Cleanup() error { return nil }
