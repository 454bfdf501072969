package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/deusflow/newsrepost/internal/logger"
	"github.com/deusflow/newsrepost/internal/metrics"
)

// usageFunc reports extra usage counters for /metrics.
type usageFunc func() map[string]interface{}

func startMonitoringServer(ctx context.Context, port string, usage usageFunc) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(metrics.Global))
	mux.HandleFunc("/metrics", metricsHandler(metrics.Global, usage))

	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting monitoring server", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Monitoring server error", "err", err)
	}
}

func healthHandler(m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := m.GetStats()

		status := "ok"
		code := http.StatusOK
		if healthy, _ := stats["is_healthy"].(bool); !healthy {
			status = "error"
			code = http.StatusServiceUnavailable
		}

		response := map[string]interface{}{
			"status":     status,
			"last_run":   stats["last_run_time"],
			"last_error": stats["last_error"],
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
	}
}

func metricsHandler(m *metrics.Metrics, usage usageFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := m.GetStats()
		if usage != nil {
			if u := usage(); u != nil {
				stats["ai_usage"] = u
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}
