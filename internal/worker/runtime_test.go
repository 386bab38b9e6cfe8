package worker

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/accel-dispatch/internal/ipc"
	"github.com/maumercado/accel-dispatch/internal/outcome"
	"github.com/maumercado/accel-dispatch/internal/task"
)

func init() {
	ipc.Register(stringPayload(""))
}

type stringPayload string

// echoLifecycle returns its payload unchanged; setupErr/cleanupErr, when
// set, make the corresponding phase fail.
type echoLifecycle struct {
	NopCleanup
	setupErr   error
	cleanupErr error
	sleep      time.Duration
	processErr error
}

func (e *echoLifecycle) Setup(deviceID int, seed int64, config map[string]any) error {
	return e.setupErr
}

func (e *echoLifecycle) Process(ctx context.Context, payload any) (any, error) {
	if e.sleep > 0 {
		select {
		case <-time.After(e.sleep):
		case <-ctx.Done():
		}
	}
	if e.processErr != nil {
		return nil, e.processErr
	}
	return payload, nil
}

func (e *echoLifecycle) Cleanup() error {
	return e.cleanupErr
}

func newPipeRuntime(timeout time.Duration) (*Runtime, *bytes.Buffer, *bytes.Buffer) {
	in := new(bytes.Buffer)
	out := new(bytes.Buffer)
	r := &Runtime{
		DeviceID:    0,
		WorkerID:    0,
		Seed:        42,
		TaskTimeout: timeout,
		In:          ipc.NewDecoder(in),
		Out:         ipc.NewEncoder(out),
	}
	return r, in, out
}

func encodeTask(t *testing.T, buf *bytes.Buffer, id uint64, payload any) {
	t.Helper()
	enc := ipc.NewEncoder(buf)
	require.NoError(t, enc.Encode(task.TaskEnvelope(task.Task{ID: id, Payload: payload})))
}

func encodePoison(t *testing.T, buf *bytes.Buffer) {
	t.Helper()
	enc := ipc.NewEncoder(buf)
	require.NoError(t, enc.Encode(task.PoisonEnvelope()))
}

func decodeAllOutcomes(t *testing.T, buf *bytes.Buffer) []outcome.Message {
	t.Helper()
	dec := ipc.NewDecoder(buf)
	var msgs []outcome.Message
	for {
		msg, err := ipc.DecodeOutcome(dec)
		if err != nil {
			break
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestRuntimeHappyPath(t *testing.T) {
	r, in, out := newPipeRuntime(0)
	encodeTask(t, in, 0, stringPayload("hello"))
	encodePoison(t, in)

	lc := &echoLifecycle{}
	require.NoError(t, r.Run(lc))

	msgs := decodeAllOutcomes(t, out)
	require.Len(t, msgs, 2)
	assert.Equal(t, outcome.TaskStarted{TaskID: 0, WorkerID: 0}, msgs[0])
	success, ok := msgs[1].(outcome.TaskSuccess)
	require.True(t, ok)
	assert.Equal(t, uint64(0), success.TaskID)
	assert.Equal(t, stringPayload("hello"), success.Result)
}

func TestRuntimeSetupFailureSkipsLoopAndCleanup(t *testing.T) {
	r, in, out := newPipeRuntime(0)
	encodeTask(t, in, 0, stringPayload("unused"))

	// cleanupErr would surface as a CleanupFailed message if Cleanup ran.
	lc := &echoLifecycle{setupErr: errors.New("no driver"), cleanupErr: errors.New("cleanup must not run")}
	require.NoError(t, r.Run(lc))

	msgs := decodeAllOutcomes(t, out)
	require.Len(t, msgs, 1)
	failed, ok := msgs[0].(outcome.SetupFailed)
	require.True(t, ok)
	assert.Contains(t, failed.ErrorText, "no driver")
}

func TestRuntimeCleanupFailureIsTerminal(t *testing.T) {
	r, in, out := newPipeRuntime(0)
	encodePoison(t, in)

	lc := &echoLifecycle{cleanupErr: errors.New("leaked handle")}
	require.NoError(t, r.Run(lc))

	msgs := decodeAllOutcomes(t, out)
	require.Len(t, msgs, 1)
	failed, ok := msgs[0].(outcome.CleanupFailed)
	require.True(t, ok)
	assert.Contains(t, failed.ErrorText, "leaked handle")
}

func TestRuntimeProcessErrorContinuesLoop(t *testing.T) {
	r, in, out := newPipeRuntime(0)
	encodeTask(t, in, 0, stringPayload("bad"))
	encodeTask(t, in, 1, stringPayload("good"))
	encodePoison(t, in)

	lc := &echoLifecycle{}
	// fail only the first task
	call := 0
	wrapped := &sequencedLifecycle{inner: lc, failFirst: true, calls: &call}
	require.NoError(t, r.Run(wrapped))

	msgs := decodeAllOutcomes(t, out)
	require.Len(t, msgs, 4)
	assert.Equal(t, outcome.KindTaskStarted, msgs[0].Kind())
	assert.Equal(t, outcome.KindTaskError, msgs[1].Kind())
	assert.Equal(t, outcome.KindTaskStarted, msgs[2].Kind())
	assert.Equal(t, outcome.KindTaskSuccess, msgs[3].Kind())
}

type sequencedLifecycle struct {
	NopCleanup
	inner     *echoLifecycle
	failFirst bool
	calls     *int
}

func (s *sequencedLifecycle) Setup(deviceID int, seed int64, config map[string]any) error {
	return s.inner.Setup(deviceID, seed, config)
}

func (s *sequencedLifecycle) Process(ctx context.Context, payload any) (any, error) {
	*s.calls++
	if *s.calls == 1 && s.failFirst {
		return nil, errors.New("boom")
	}
	return s.inner.Process(ctx, payload)
}

func TestRuntimeTaskTimeoutDoesNotKillWorker(t *testing.T) {
	r, in, out := newPipeRuntime(30 * time.Millisecond)
	encodeTask(t, in, 0, stringPayload("slow"))
	encodeTask(t, in, 1, stringPayload("fast"))
	encodePoison(t, in)

	lc := &echoLifecycle{sleep: 200 * time.Millisecond}
	fast := &echoLifecycle{}
	combined := &slowThenFast{slow: lc, fast: fast}

	require.NoError(t, r.Run(combined))

	msgs := decodeAllOutcomes(t, out)
	require.Len(t, msgs, 4)
	assert.Equal(t, outcome.KindTaskStarted, msgs[0].Kind())
	timeout, ok := msgs[1].(outcome.TaskTimeout)
	require.True(t, ok)
	assert.Equal(t, uint64(0), timeout.TaskID)
	assert.InDelta(t, 0.03, timeout.TimeoutSeconds, 0.001)
	assert.Equal(t, outcome.KindTaskStarted, msgs[2].Kind())
	assert.Equal(t, outcome.KindTaskSuccess, msgs[3].Kind())
}

type slowThenFast struct {
	NopCleanup
	slow *echoLifecycle
	fast *echoLifecycle
	n    int
}

func (s *slowThenFast) Setup(deviceID int, seed int64, config map[string]any) error {
	return nil
}

func (s *slowThenFast) Process(ctx context.Context, payload any) (any, error) {
	s.n++
	if s.n == 1 {
		return s.slow.Process(ctx, payload)
	}
	return s.fast.Process(ctx, payload)
}
