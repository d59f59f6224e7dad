package http

import (
	"net/http"
	"time"
)

// MetricsMiddleware records request counts and latency. The metrics and
// health endpoints themselves are excluded so scrapes do not inflate
// the series.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			metrics.RequestsTotal.WithLabelValues(r.Method, statusToLabel(rec.status)).Inc()
			metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

// statusRecorder captures the response status for metric labels.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func statusToLabel(status int) string {
	if status >= 200 && status < 400 {
		return "ok"
	}
	return "error"
}
