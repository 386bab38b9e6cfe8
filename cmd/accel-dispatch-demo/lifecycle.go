package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// simDevice is an example Lifecycle standing in for a real accelerator
// binding (CUDA, ROCm, ...): Setup seeds a private RNG instead of opening a
// device context, and Process "runs" a job by sleeping for 10-49 ms drawn
// from that RNG (or for the payload's duration_ms, when it carries one),
// mirroring the teacher's echo/sleep/compute/fail example
// handlers adapted to the Setup/Process/Cleanup contract.
type simDevice struct {
	deviceID int
	rng      *rand.Rand
}

func newSimDevice() *simDevice {
	return &simDevice{}
}

func (d *simDevice) Setup(deviceID int, seed int64, config map[string]any) error {
	if failAt, ok := config["fail_setup_device"].(float64); ok && int(failAt) == deviceID {
		return fmt.Errorf("simulated setup failure for device %d", deviceID)
	}

	d.deviceID = deviceID
	d.rng = rand.New(rand.NewSource(seed))
	return nil
}

func (d *simDevice) Process(ctx context.Context, payload any) (any, error) {
	job, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}

	if shouldFail, _ := job["fail"].(bool); shouldFail {
		return nil, fmt.Errorf("simulated task failure")
	}

	durationMS := 10 + d.rng.Intn(40)
	if v, ok := job["duration_ms"].(float64); ok {
		durationMS = int(v)
	}

	select {
	case <-time.After(time.Duration(durationMS) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return map[string]any{
		"device_id":   d.deviceID,
		"duration_ms": durationMS,
		"job_id":      job["job_id"],
	}, nil
}

func (d *simDevice) Cleanup() error {
	return nil
}
