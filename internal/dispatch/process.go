package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/maumercado/accel-dispatch/internal/ipc"
	"github.com/maumercado/accel-dispatch/internal/outcome"
)

// sentinelGrace and terminateGrace bound the shutdown escalation sequence
// of spec §4.5: sentinel, then SIGTERM, then kill.
const (
	sentinelGrace  = 5 * time.Second
	terminateGrace = 3 * time.Second
)

// workerHandle is the Dispatcher-side state for one spawned worker
// subprocess: its descriptor, the live OS process, and the IPC framing
// wrapping its stdin/stdout pipes.
type workerHandle struct {
	descriptor *WorkerDescriptor
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	enc        *ipc.Encoder
	dec        *ipc.Decoder
	done       chan struct{}
	watchOnce  sync.Once
}

// startWatch begins watchForExit for h at most once, however it is
// triggered: either forwardTasks observed the sentinel leave (or the pipe
// die) first, or the Monitor Loop started the grace-window watchdog
// directly because the forwarder itself never got that far — e.g. it is
// stuck writing to a worker that has stopped reading its stdin entirely.
func (d *Dispatcher) startWatch(h *workerHandle) {
	h.watchOnce.Do(func() { go d.watchForExit(h) })
}

// spawnWorker re-execs the current binary as a worker subprocess pinned to
// deviceID, wired for the given class, seed and config. Spawn failure (the
// executable could not even be started) is reported to the caller, which
// treats it as equivalent to a SetupFailed worker.
func (d *Dispatcher) spawnWorker(deviceID int, seed int64, taskTimeout time.Duration, setupConfig map[string]any) (*workerHandle, error) {
	configJSON, err := json.Marshal(setupConfig)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode setup config: %w", err)
	}

	cmd := exec.Command(d.selfPath)
	cmd.Env = append(d.baseEnv,
		envWorkerMode+"=1",
		envWorkerClass+"="+d.workerClass,
		envDeviceID+"="+strconv.Itoa(deviceID),
		envSeed+"="+strconv.FormatInt(seed, 10),
		envTaskTimeout+"="+taskTimeout.String(),
		envSetupConfig+"="+string(configJSON),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("dispatch: open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("dispatch: open stdout pipe: %w", err)
	}
	cmd.Stderr = d.workerStderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("dispatch: start worker process for device %d: %w", deviceID, err)
	}

	desc := newWorkerDescriptor(deviceID)
	desc.cmd, desc.stdin, desc.stdout = cmd, stdin, stdout
	desc.setState(WorkerSetupRunning)

	return &workerHandle{
		descriptor: desc,
		cmd:        cmd,
		stdin:      stdin,
		enc:        ipc.NewEncoder(stdin),
		dec:        ipc.NewDecoder(stdout),
		done:       make(chan struct{}),
	}, nil
}

// forwardTasks is the per-worker consumer goroutine competing against every
// other live worker's forwarder for entries on the shared Task Queue. A
// dead downstream pipe (the worker already exited, e.g. after SetupFailed)
// is detected by a failed Encode; a real task is put back for another
// worker to pick up, but a poison sentinel is simply dropped since the
// worker it was meant for is already gone.
//
// spec.md's "payload must be serializable, else a TaskError with a
// serialization diagnostic" applies here too: a *ipc.MarshalError means the
// envelope never reached the wire at all, so the worker and its pipe are
// still perfectly healthy — that task alone fails, and the forwarder keeps
// serving the queue instead of tearing the worker down.
func (d *Dispatcher) forwardTasks(h *workerHandle) {
	for {
		env, err := d.taskQueue.Get(context.Background())
		if err != nil {
			return
		}

		if err := h.enc.Encode(env); err != nil {
			var marshalErr *ipc.MarshalError
			if errors.As(err, &marshalErr) && !env.Poison {
				d.resultQueue.Put(outcome.TaskError{
					TaskID:    env.Task.ID,
					ErrorText: fmt.Sprintf("payload failed to serialize: %s", marshalErr.Error()),
					WorkerID:  h.descriptor.DeviceID,
				})
				continue
			}

			if !env.Poison {
				_ = d.taskQueue.Put(context.Background(), env)
			}
			d.startWatch(h)
			return
		}

		if env.Poison {
			_ = h.stdin.Close()
			d.startWatch(h)
			return
		}
	}
}

// readOutcomes is the per-worker producer goroutine relaying decoded
// Outcome Protocol frames onto the shared Result Queue until its worker's
// stdout closes or a frame fails to decode.
func (d *Dispatcher) readOutcomes(h *workerHandle) {
	for {
		msg, err := ipc.DecodeOutcome(h.dec)
		if err != nil {
			close(h.done)
			return
		}
		d.resultQueue.Put(msg)
	}
}

// watchForExit waits for a worker that has already been told to stop
// (sentinel delivered, or its pipe already broken) to actually terminate,
// escalating through SIGTERM and finally SIGKILL if it does not respond
// within the grace windows (spec §4.5, §9 "shutdown escalation").
func (d *Dispatcher) watchForExit(h *workerHandle) {
	if !waitOrTimeout(h.done, sentinelGrace) {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
		if !waitOrTimeout(h.done, terminateGrace) {
			_ = h.cmd.Process.Kill()
			<-h.done
		}
	}

	_ = h.cmd.Wait()
	h.descriptor.setState(WorkerTerminated)
	d.workerExited <- h.descriptor.DeviceID
}

func waitOrTimeout(done <-chan struct{}, d time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
