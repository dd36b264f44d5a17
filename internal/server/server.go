package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nholik/stack-updater/internal/healthcheck"
	"github.com/nholik/stack-updater/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Config selects listening ports. Equal ports share one listener; a zero
// port disables that listener.
type Config struct {
	APIPort     int
	MetricsPort int
	// ShutdownTimeout bounds graceful shutdown. It should exceed the longest
	// expected update so in-flight runs can finish.
	ShutdownTimeout time.Duration
}

// Start launches the API/health and metrics HTTP servers. It returns a
// function that blocks until every started server has shut down after ctx is
// canceled.
func Start(ctx context.Context, logger zerolog.Logger, cfg Config, service StackService, tracker *healthcheck.Tracker, metricsCollector *metrics.Metrics) (wait func()) {
	var wg sync.WaitGroup
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = shutdownTimeout
	}

	if cfg.APIPort > 0 && cfg.APIPort == cfg.MetricsPort {
		mux := http.NewServeMux()
		registerAPIRoutes(mux, logger, service)
		registerHealthRoutes(mux, tracker)
		registerMetricsRoute(mux, metricsCollector)
		startServer(ctx, &wg, logger, mux, cfg.APIPort, "api/metrics", timeout)
		return wg.Wait
	}

	if cfg.APIPort > 0 {
		mux := http.NewServeMux()
		registerAPIRoutes(mux, logger, service)
		registerHealthRoutes(mux, tracker)
		startServer(ctx, &wg, logger, mux, cfg.APIPort, "api", timeout)
	}

	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		registerMetricsRoute(mux, metricsCollector)
		startServer(ctx, &wg, logger, mux, cfg.MetricsPort, "metrics", timeout)
	}
	return wg.Wait
}

func registerHealthRoutes(mux *http.ServeMux, tracker *healthcheck.Tracker) {
	mux.HandleFunc("GET /healthz", healthcheck.HealthHandler(tracker))
	mux.HandleFunc("GET /readyz", healthcheck.ReadyHandler(tracker))
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("GET /metrics", metricsCollector.Handler())
}

func startServer(ctx context.Context, wg *sync.WaitGroup, logger zerolog.Logger, handler http.Handler, port int, label string, timeout time.Duration) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server shutdown failed")
		}
	}()
}
