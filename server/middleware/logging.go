package middleware

import (
	"net/http"
	"time"

	"github.com/kbukum/nodegraph/logger"
)

// quietPaths are polled constantly by the UI and health checkers.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/version": true,
}

// RequestLogger logs every request with method, path, status and duration.
// Health checks are skipped.
func RequestLogger(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if quietPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			fields := logger.MergeWithDuration(logger.Fields(
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
			), time.Since(start))
			if id := r.Header.Get(RequestIDHeader); id != "" {
				fields["request_id"] = id
			}
			logByStatus(log, fields, sw.status)
		})
	}
}

func logByStatus(log *logger.Logger, fields map[string]interface{}, status int) {
	switch {
	case status >= 500:
		log.Error("Request completed", fields)
	case status >= 400:
		log.Warn("Request completed", fields)
	default:
		log.Debug("Request completed", fields)
	}
}
