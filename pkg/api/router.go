package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netraid/netraid/internal/logger"
	"github.com/netraid/netraid/pkg/api/handlers"
	"github.com/netraid/netraid/pkg/metrics"
	"github.com/netraid/netraid/pkg/registry"
)

// NewRouter builds the read-only admin HTTP surface: liveness, cluster
// status, Prometheus metrics, and a config snapshot. None of it is
// authenticated — operators are expected to keep it behind their own
// network boundary, same as the metrics port.
//
// Routes:
//   - GET /healthz  - liveness probe
//   - GET /status   - server directory as known to the registry
//   - GET /metrics  - Prometheus exposition (empty if metrics disabled)
//   - GET /config   - redacted running configuration snapshot
func NewRouter(reg *registry.Registry, configSnapshot any) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(reg)
	configHandler := handlers.NewConfigHandler(configSnapshot)

	r.Get("/healthz", healthHandler.Liveness)
	r.Get("/status", healthHandler.Status)
	r.Get("/config", configHandler.Get)

	if metrics.IsEnabled() {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	} else {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/healthz", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs request start/completion through the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
