package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/maumercado/accel-dispatch/internal/ipc"
	"github.com/maumercado/accel-dispatch/internal/logger"
	"github.com/maumercado/accel-dispatch/internal/worker"
)

// The controlling process and every worker are the same compiled binary,
// re-exec'd with a marker environment variable (spec §9: "serialize only
// the class identity and re-instantiate remotely"). A worker class is
// registered under a name by both the controller and the worker — they run
// identical init() code, so the registry is always populated the same way
// on both sides of the fork.
const (
	envWorkerMode  = "ACCEL_DISPATCH_WORKER"
	envWorkerClass = "ACCEL_DISPATCH_WORKER_CLASS"
	envDeviceID    = "ACCEL_DISPATCH_DEVICE_ID"
	envSeed        = "ACCEL_DISPATCH_SEED"
	envTaskTimeout = "ACCEL_DISPATCH_TASK_TIMEOUT"
	envSetupConfig = "ACCEL_DISPATCH_SETUP_CONFIG"
)

var (
	registryMu sync.Mutex
	factories  = map[string]worker.Factory{}
)

// Register associates a name with a worker.Factory. Call it from an init()
// or early in main(), before constructing a Dispatcher or calling
// RunWorkerIfRequested — both the controller and every worker subprocess
// need the same name to resolve to an equivalent Lifecycle.
func Register(name string, factory worker.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

func lookupFactory(name string) (worker.Factory, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("dispatch: no worker class registered under %q", name)
	}
	return f, nil
}

// RunWorkerIfRequested checks whether this process was re-exec'd as a
// worker subprocess. Call it at the very top of main(), before any other
// setup. When this process is a worker, it runs the full worker lifecycle
// against its inherited stdin/stdout and terminates the process directly —
// it never returns in that case. When this process is the controller, it
// returns immediately and the caller proceeds to its normal main().
func RunWorkerIfRequested() {
	if os.Getenv(envWorkerMode) == "" {
		return
	}

	os.Exit(runWorkerSubprocess())
}

func runWorkerSubprocess() int {
	class := os.Getenv(envWorkerClass)
	factory, err := lookupFactory(class)
	if err != nil {
		fmt.Fprintf(os.Stderr, "accel-dispatch worker: %v\n", err)
		return 1
	}

	deviceID, err := strconv.Atoi(os.Getenv(envDeviceID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "accel-dispatch worker: invalid device id: %v\n", err)
		return 1
	}
	seed, err := strconv.ParseInt(os.Getenv(envSeed), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "accel-dispatch worker: invalid seed: %v\n", err)
		return 1
	}
	var taskTimeout time.Duration
	if raw := os.Getenv(envTaskTimeout); raw != "" {
		taskTimeout, err = time.ParseDuration(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "accel-dispatch worker: invalid task timeout: %v\n", err)
			return 1
		}
	}

	config := map[string]any{}
	if raw := os.Getenv(envSetupConfig); raw != "" {
		if err := json.Unmarshal([]byte(raw), &config); err != nil {
			fmt.Fprintf(os.Stderr, "accel-dispatch worker: invalid setup config: %v\n", err)
			return 1
		}
	}

	// stdout carries the Outcome frames back to the controller, so the
	// worker's logger must write to stderr instead.
	ipcOut := os.Stdout
	os.Stdout = os.Stderr
	logger.Init("info", false)

	rt := &worker.Runtime{
		DeviceID:    deviceID,
		WorkerID:    deviceID,
		Seed:        seed,
		Config:      config,
		TaskTimeout: taskTimeout,
		In:          ipc.NewDecoder(os.Stdin),
		Out:         ipc.NewEncoder(ipcOut),
	}

	if err := rt.Run(factory()); err != nil {
		fmt.Fprintf(os.Stderr, "accel-dispatch worker: %v\n", err)
		return 1
	}
	return 0
}
