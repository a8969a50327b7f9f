// cmd/dispatchd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "timed-dispatch/internal/api/http"
	"timed-dispatch/internal/config"
	"timed-dispatch/internal/dispatch"
	"timed-dispatch/internal/domain"
	"timed-dispatch/internal/health"
	"timed-dispatch/internal/infra/etcd"
	http_infra "timed-dispatch/internal/infra/http"
	"timed-dispatch/internal/infra/memory"
	shell_infra "timed-dispatch/internal/infra/shell"
	"timed-dispatch/internal/logging"
	"timed-dispatch/internal/queue"
	"timed-dispatch/internal/scheduler"
	"timed-dispatch/internal/tracing"
	"timed-dispatch/internal/usecase"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	dispatcherStopTimeout = 10 * time.Second
	serverStopTimeout     = 5 * time.Second
)

// backend bundles the store-specific implementations.
type backend struct {
	jobRepo  domain.JobRepository
	execRepo domain.ExecutionRepository
	locker   domain.Locker
	election domain.LeaderElectionManager
	close    func() error
}

func openBackend(cfg *config.Config, nodeID string, logger *slog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendEtcd:
		client, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return nil, err
		}
		return &backend{
			jobRepo:  etcd.NewEtcdJobRepository(client, logger),
			execRepo: etcd.NewEtcdExecutionRepository(client, logger),
			locker:   etcd.NewEtcdLocker(client),
			election: etcd.NewEtcdLeaderElectionManager(client, nodeID, cfg.LeaderElectionTTL, logger),
			close:    client.Close,
		}, nil
	case config.BackendMemory:
		return &backend{
			jobRepo:  memory.NewJobRepository(),
			execRepo: memory.NewExecutionRepository(memory.DefaultHistoryLimit),
			locker:   memory.NewLocker(),
			election: memory.NewLeaderElectionManager(nodeID),
			close:    func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// corsMiddleware wraps an http.Handler with CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	// 1. Load configuration and set up logging
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := logging.Get()

	tracerShutdown, err := tracing.InitTracer(cfg.ServiceName, os.Stderr)
	if err != nil {
		fatal(logger, "failed to initialize tracer", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Warn("failed to shut down tracer", "error", err)
		}
	}()

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	logger = logger.With("node_id", nodeID)
	logger.Info("starting timed dispatch node", "store_backend", cfg.StoreBackend)

	// 2. Root context cancelled on SIGINT/SIGTERM
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	// 3. Storage, locks and election
	store, err := openBackend(cfg, nodeID, logger)
	if err != nil {
		fatal(logger, "failed to open store backend", err)
	}
	defer func() {
		if err := store.close(); err != nil {
			logger.Warn("failed to close store backend", "error", err)
		}
	}()

	// 4. Ready queue and its single consumer. Diagnostics bind on first report.
	readyQueue := queue.New()
	diagnostics := logging.Lazy(func() domain.DiagnosticLogger {
		return logging.NewDiagnostics(logging.WithComponent("dispatcher"))
	})
	dispatcher := dispatch.Start(readyQueue, diagnostics, logging.WithComponent("dispatch"),
		dispatch.WithSlowTaskThreshold(cfg.SlowTaskThreshold),
	)

	// 5. Producers: cron scheduler behind leader election
	executors := map[domain.ExecutorType]domain.TaskExecutor{
		domain.ExecutorTypeHTTP:  http_infra.NewHttpTaskExecutor(nil),
		domain.ExecutorTypeShell: shell_infra.NewShellTaskExecutor(shell_infra.DefaultTimeout, logger),
	}
	factory := scheduler.NewTaskFactory(executors, store.locker, store.execRepo, nodeID, logger)
	cronScheduler := scheduler.NewCronScheduler(readyQueue, factory, logger)
	jobService := usecase.NewJobService(store.jobRepo, store.execRepo, cronScheduler, logger)
	schedulerService := usecase.NewSchedulerService(store.election, cronScheduler, store.jobRepo, nodeID, logger)

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := schedulerService.Start(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler service stopped with error", "error", err)
		}
	}()

	// 6. HTTP API and metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	http_api.NewJobHandler(jobService, logger).RegisterRoutes(mux)
	http_api.NewDispatcherHandler(dispatcher).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP API server", "addr", cfg.HttpListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// 7. gRPC health, SERVING while the dispatch loop runs
	healthServer := health.NewServer(logger)
	healthServer.TrackDispatcher(dispatcher.Done())
	lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
	if err != nil {
		fatal(logger, "failed to listen for gRPC", err)
	}
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			logger.Error("gRPC health server failed", "error", err)
		}
	}()

	// 8. Block until shutdown
	<-rootCtx.Done()
	logger.Info("shutting down gracefully...")

	// producers first so nothing new is scheduled, then the consumer
	<-schedulerDone
	dispatcher.Shutdown()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), dispatcherStopTimeout)
	defer stopCancel()
	if err := dispatcher.Wait(stopCtx); err != nil {
		logger.Error("dispatcher did not stop in time, a task is still running", "error", err)
	}
	for _, task := range readyQueue.Drain() {
		logger.Warn("abandoned pending task", "task_id", dispatch.TaskID(task))
	}
	stats := dispatcher.Stats()
	logger.Info("dispatcher stopped",
		"fired", stats.Fired, "failed", stats.Failed, "panicked", stats.Panicked, "slow", stats.Slow)

	serverCtx, serverCancel := context.WithTimeout(context.Background(), serverStopTimeout)
	defer serverCancel()
	if err := server.Shutdown(serverCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	healthServer.Stop()

	logger.Info("node shut down")
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
