package api

import (
	"net/http"
	"time"

	"querybroker/pkg/logger"
	"querybroker/pkg/metrics"
	"querybroker/pkg/telemetry"
)

// statusRecorder captures the status code written by the wrapped handler so
// downstream middleware can observe it after ServeHTTP returns.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RecoveryMiddleware turns a panic in the handler chain into a 500 response
// instead of crashing the server. Always first in the chain so every
// downstream middleware runs under its protection.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered in http handler", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// TracingMiddleware opens a span for the request, named "http." plus the
// raw request path (not the route pattern).
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.StartSpan(r.Context(), "http."+r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MetricsMiddleware records request count/duration/status to Prometheus.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			if m.InFlight != nil {
				m.InFlight.Start(r.URL.Path)
				defer m.InFlight.End(r.URL.Path)
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.RecordHTTPRequest(http.StatusText(rec.status), time.Since(start))
		})
	}
}

// LoggingMiddleware logs one line per request with method, path, status and
// duration, the fields the teacher's gateway logging interceptor records.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// Chain applies middleware in the order Recovery -> Tracing -> Metrics ->
// Logging, mirroring the interceptor ordering the gRPC services in this
// codebase use, re-expressed for the broker's plain HTTP surface.
func Chain(m *metrics.Metrics, handler http.Handler) http.Handler {
	h := handler
	h = LoggingMiddleware(h)
	h = MetricsMiddleware(m)(h)
	h = TracingMiddleware(h)
	h = RecoveryMiddleware(h)
	return h
}
