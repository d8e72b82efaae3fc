package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP handlers with request counters and latency.
// basePath is the upload API mount point, used to normalize routes.
func Middleware(basePath string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		route := normalizeRoute(basePath, r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// normalizeRoute replaces upload ids and chunk indices with placeholders so
// metric label cardinality stays bounded.
func normalizeRoute(basePath, path string) string {
	if !strings.HasPrefix(path, basePath) {
		return path
	}
	rest := strings.Trim(strings.TrimPrefix(path, basePath), "/")
	if rest == "" {
		return basePath
	}
	parts := strings.Split(rest, "/")
	parts[0] = ":uploadId"
	if len(parts) == 3 && parts[1] == "chunks" {
		parts[2] = ":index"
	}
	return basePath + "/" + strings.Join(parts, "/")
}
