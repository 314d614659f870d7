// Command evalcore-worker runs a standalone evaluation worker against a
// shared database. It serves only /metrics and /healthz over HTTP.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evalcore/internal/config"
	"evalcore/internal/infra/persistence"
	"evalcore/internal/llm"
	"evalcore/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	settings := config.Load()
	ctx := context.Background()

	if settings.StoreDriver == "memory" {
		logger.Error("memory store cannot be shared with a standalone worker")
		os.Exit(1)
	}

	store, err := persistence.Open(ctx, settings)
	if err != nil {
		logger.Error("open store failed", "driver", settings.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	invoker := llm.NewClient(
		settings.OpenAIAPIKey, settings.AnthropicAPIKey, settings.GeminiAPIKey,
		settings.DefaultModel, settings.EvalTimeout)

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
	logger.Info("worker started", "store", settings.StoreDriver,
		"concurrency", settings.EvalConcurrencyLimit)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("worker shutdown timed out", "error", err)
	}
}
