// Package middleware provides composable HTTP middleware constructors that
// follow the standard func(http.Handler) http.Handler pattern.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"
)

// responseRecorder wraps http.ResponseWriter to capture the status code and
// number of bytes written by the downstream handler.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

// Logger returns a middleware that emits one structured JSON log line per
// request, including the admin operation it served, status, response size,
// and latency. It also generates a unique X-Request-Id header that is
// forwarded upstream and returned in the response for end-to-end tracing.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := newRequestID()

		r.Header.Set("X-Request-Id", reqID)
		w.Header().Set("X-Request-Id", reqID)

		rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rr, r)

		slog.Info("admin operation",
			"request_id", reqID,
			"operation", adminOperation(r.Method, r.URL.Path),
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"status", rr.status,
			"bytes", rr.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// adminOperation names the balancer admin-surface operation a request maps
// to, for log lines that read as domain events rather than raw HTTP access
// logs. Unrecognized routes fall back to "method path".
func adminOperation(method, path string) string {
	switch {
	case method == http.MethodGet && path == "/api/state":
		return "read_backend_state"
	case method == http.MethodGet && path == "/api/stats":
		return "read_pool_stats"
	case method == http.MethodPost && path == "/api/faults":
		return "inject_fault"
	case method == http.MethodGet && path == "/healthz":
		return "healthz"
	case method == http.MethodGet && path == "/metrics":
		return "metrics_scrape"
	default:
		return method + " " + path
	}
}

func newRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
