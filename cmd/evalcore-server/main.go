// Command evalcore-server runs the HTTP API plus an embedded evaluation
// worker. Deployments that need more execution capacity add evalcore-worker
// processes against the same database; the queue claim keeps them from
// colliding.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evalcore/internal/adapters/httpapi"
	"evalcore/internal/config"
	"evalcore/internal/core"
	"evalcore/internal/infra/persistence"
	"evalcore/internal/llm"
	"evalcore/internal/playground"
	"evalcore/internal/reportarchive"
	"evalcore/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	settings := config.Load()
	ctx := context.Background()

	store, err := persistence.Open(ctx, settings)
	if err != nil {
		logger.Error("open store failed", "driver", settings.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	service := core.NewService(store)
	invoker := llm.NewClient(
		settings.OpenAIAPIKey, settings.AnthropicAPIKey, settings.GeminiAPIKey,
		settings.DefaultModel, settings.EvalTimeout)
	pg := playground.NewService(store, invoker)

	var archiver *reportarchive.Archiver
	objectStore, err := reportarchive.OpenObjectStore(ctx, settings)
	if err != nil {
		logger.Error("open archive store failed", "driver", settings.ArchiveDriver, "error", err)
		os.Exit(1)
	}
	if objectStore != nil {
		archiver = reportarchive.NewArchiver(store, objectStore, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := worker.NewPrometheusMetrics(registry)

	executor := worker.NewExecutor(store, invoker,
		settings.EvalConcurrencyLimit, settings.EvalMaxRetries, metrics, logger)
	scheduler := worker.NewScheduler(store, executor,
		settings.PollInterval, settings.StaleRunThreshold, logger)
	scheduler.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", httpapi.NewHandler(service, pg, archiver, logger))

	server := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", settings.HTTPAddr, "store", settings.StoreDriver)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("worker shutdown timed out", "error", err)
	}
}
