// IATS server — ingests alerts, runs the background triage pipeline, and
// serves the lifecycle and review API.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/incidentops/iats/pkg/api"
	"github.com/incidentops/iats/pkg/cleanup"
	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/database"
	"github.com/incidentops/iats/pkg/evidence"
	"github.com/incidentops/iats/pkg/ingest"
	"github.com/incidentops/iats/pkg/llm"
	"github.com/incidentops/iats/pkg/notify"
	"github.com/incidentops/iats/pkg/queue"
	"github.com/incidentops/iats/pkg/redact"
	"github.com/incidentops/iats/pkg/store"
	"github.com/incidentops/iats/pkg/triage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	settings, err := config.Load()
	if err != nil {
		slog.Error("Failed to load settings", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting IATS",
		"app", settings.AppName,
		"http_addr", settings.HTTPAddr,
		"llm_provider", settings.LLMProvider,
		"fixture_mode", settings.FixtureMode)

	ctx := context.Background()

	registry, err := config.LoadServiceRegistry(settings.ServiceRegistryPath)
	if err != nil {
		slog.Error("Failed to load service registry", "path", settings.ServiceRegistryPath, "error", err)
		os.Exit(1)
	}
	queries, err := config.LoadQueryLibrary(settings.QueryLibraryPath)
	if err != nil {
		slog.Error("Failed to load query library", "path", settings.QueryLibraryPath, "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, database.DefaultConfig(settings.DatabaseURL))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.DB())

	var logs evidence.LogsFetcher
	if settings.FixtureMode {
		logs = evidence.NewFixtureLogsFetcher(settings.FixtureLogsPath)
		slog.Info("Fixture mode: log queries served from disk", "path", settings.FixtureLogsPath)
	} else {
		cw, err := evidence.NewCloudWatchLogsFetcher(ctx, settings.AWSRegion)
		if err != nil {
			slog.Error("Failed to initialize CloudWatch Logs client", "error", err)
			os.Exit(1)
		}
		logs = cw
	}
	builder := evidence.NewBuilder(settings, queries, logs, evidence.NewGitSnippetFetcher())

	gateway, err := llm.New(settings)
	if err != nil {
		slog.Error("Failed to initialize LLM gateway", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM gateway initialized", "provider", settings.LLMProvider)

	redactor := redact.NewService()
	notifier := notify.NewService(settings.SlackWebhookURL, settings.TicketSinkEnabled)

	ingestSvc := ingest.NewService(st, registry, settings)
	runner := triage.NewRunner(st, settings, registry, builder, gateway, redactor, notifier)

	workerPool := queue.NewWorkerPool(st, settings, runner)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	retention := cleanup.NewService(st, settings.DataRetentionDays)
	retention.Start(ctx)

	server := api.NewServer(settings, dbClient, st, registry, ingestSvc)
	httpServer := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", settings.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("IATS started successfully", "workers", settings.WorkerConcurrency)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, running tasks will be stale-swept on restart")
	}

	retention.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
