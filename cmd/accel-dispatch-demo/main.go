// Command accel-dispatch-demo is a runnable example of the dispatch
// library: it registers a simulated accelerator Lifecycle, feeds it a
// batch of synthetic jobs, and serves the admin introspection server
// alongside the run. It is also the worker subprocess entry point — the
// same compiled binary re-execs itself per spec §9's "serialize the class
// identity, not the instance", so there is no separate worker binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/accel-dispatch/internal/admin"
	"github.com/maumercado/accel-dispatch/internal/config"
	"github.com/maumercado/accel-dispatch/internal/dispatch"
	"github.com/maumercado/accel-dispatch/internal/ipc"
	"github.com/maumercado/accel-dispatch/internal/logger"
	"github.com/maumercado/accel-dispatch/internal/registry"
	"github.com/maumercado/accel-dispatch/internal/telemetry"
	"github.com/maumercado/accel-dispatch/internal/worker"
)

const workerClassName = "sim-device"

func init() {
	dispatch.Register(workerClassName, func() worker.Lifecycle {
		return newSimDevice()
	})
	// simDevice's jobs and results are map[string]any values.
	ipc.Register(map[string]any{})
}

func main() {
	// Must run before anything else: when this process is a re-exec'd
	// worker subprocess, it never returns from here.
	dispatch.RunWorkerIfRequested()

	jobCount := flag.Int("jobs", 20, "number of synthetic jobs to dispatch")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting accel-dispatch-demo")

	workerClass := cfg.Dispatcher.WorkerClass
	if workerClass == "" {
		workerClass = workerClassName
	}

	dispatcher, err := dispatch.New(workerClass, cfg.Dispatcher.DeviceIDs, cfg.Dispatcher.QueueSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct dispatcher")
	}

	observers := telemetry.Fanout{telemetry.NewRecorder()}

	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminServer = admin.NewServer(cfg.Admin, dispatcher)
		observers = append(observers, adminServer.Hub())
	}

	var reg *registry.Registry
	if cfg.Registry.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Registry.Addr,
			Password:     cfg.Registry.Password,
			DB:           cfg.Registry.DB,
			PoolSize:     cfg.Registry.PoolSize,
			DialTimeout:  cfg.Registry.DialTimeout,
		})
		reg = registry.New(client)
		observers = append(observers, reg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if adminServer != nil {
		if err := adminServer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start admin server")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutdown signal received")
		dispatcher.Shutdown()
	}()

	runErr := dispatcher.Run(ctx, dispatch.RunOptions{
		Generator:   newCountGenerator(*jobCount),
		BaseSeed:    cfg.Dispatcher.BaseSeed,
		TaskTimeout: cfg.Dispatcher.TaskTimeout,
		Observer:    observers,
		OnTaskStart: func(taskID uint64, workerID int) {
			log.Debug().Uint64("task_id", taskID).Int("worker_id", workerID).Msg("task started")
		},
		OnSuccess: func(taskID uint64, result any, workerID int) {
			log.Info().Uint64("task_id", taskID).Int("worker_id", workerID).Interface("result", result).Msg("task succeeded")
		},
		OnError: func(taskID uint64, errorText string, workerID int) {
			log.Error().Uint64("task_id", taskID).Int("worker_id", workerID).Str("error", errorText).Msg("task failed")
		},
		OnTimeout: func(taskID uint64, timeoutSeconds float64, workerID int) {
			log.Warn().Uint64("task_id", taskID).Int("worker_id", workerID).Float64("timeout_seconds", timeoutSeconds).Msg("task timed out")
		},
		OnSetupFail: func(deviceID int, errorText string) {
			log.Error().Int("device_id", deviceID).Str("error", errorText).Msg("worker setup failed")
		},
		OnExit: func() {
			log.Info().Msg("all workers terminated")
		},
	})
	if runErr != nil {
		log.Error().Err(runErr).Msg("dispatcher run error")
	}

	if adminServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Dispatcher.ShutdownTimeout)
		if err := adminServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("admin server shutdown error")
		}
		shutdownCancel()
	}
	if reg != nil {
		reg.Close()
	}

	log.Info().Msg("accel-dispatch-demo stopped")
}
