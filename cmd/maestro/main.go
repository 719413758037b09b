// Maestro server — provides the HTTP API, runs the execution engine and
// workflow orchestrator, and streams events over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/maestro-sh/maestro/pkg/api"
	"github.com/maestro-sh/maestro/pkg/cleanup"
	"github.com/maestro-sh/maestro/pkg/config"
	"github.com/maestro-sh/maestro/pkg/database"
	"github.com/maestro-sh/maestro/pkg/engine"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/orchestrator"
	"github.com/maestro-sh/maestro/pkg/runner"
	"github.com/maestro-sh/maestro/pkg/services"
	"github.com/maestro-sh/maestro/pkg/store"
	"github.com/maestro-sh/maestro/pkg/version"
)

const (
	wsWriteTimeout  = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_FILE", "./maestro.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting maestro",
		"version", version.Version,
		"commit", version.GitCommit,
		"http_port", httpPort,
		"config", *configPath)

	// Parent context is cancelled on SIGINT/SIGTERM; everything below
	// drains from it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to database", "driver", dbClient.Driver())

	st := store.New(dbClient.DB())

	// One-time reconciliation of state left behind by a previous process.
	reconciler := cleanup.NewReconciler(st, cfg.Retention, nil)
	if err := reconciler.StartupSweep(ctx); err != nil {
		slog.Error("Startup sweep failed", "error", err)
		// Non-fatal — continue
	}

	bus := events.NewBus(nil)
	defer bus.Close()
	connManager := events.NewConnectionManager(wsWriteTimeout)

	primary := runner.NewSubprocessRunner(cfg.Engine.RunnerCommand, cfg.Engine.MaxTurns, nil)
	fallback := runner.NewFallbackResponder()
	eng := engine.New(st, bus, primary, fallback, cfg.Engine, nil)
	core := orchestrator.New(st, bus, eng, cfg.Orchestrator, nil)

	httpServer := &http.Server{
		Addr: ":" + httpPort,
		Handler: api.NewServer(api.Config{
			Agents:      services.NewAgentService(st, bus, eng, nil),
			Tasks:       services.NewTaskService(st, bus, nil),
			Executions:  services.NewExecutionService(st, bus, eng, nil),
			Workflows:   services.NewWorkflowService(st, bus, core, nil),
			System:      services.NewSystemService(st, bus, connManager, eng, core, dbClient, nil),
			ConnManager: connManager,
			DBClient:    dbClient,
		}).Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Bridge bus events onto WebSocket connections until shutdown.
		connManager.Run(gctx, bus)
		return nil
	})
	g.Go(func() error {
		// Periodic retention: abort stale runs, prune aged terminal ones.
		reconciler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop accepting work, then drain supervised workflows before the
	// engine so children observe their cancellations in order.
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := core.Shutdown(drainCtx); err != nil {
		slog.Warn("Orchestrator shutdown incomplete", "error", err)
	}
	if err := eng.Shutdown(drainCtx); err != nil {
		slog.Warn("Engine shutdown incomplete", "error", err)
	}

	slog.Info("Shutdown complete")
}
