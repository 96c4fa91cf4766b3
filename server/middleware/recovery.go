package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/logger"
)

// Recovery turns a handler panic into a 500 with an EXECUTION_FAILURE body
// and logs the stack.
func Recovery(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("Panic recovered", logger.Fields(
						logger.FieldError, fmt.Sprint(rec),
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
						"method", r.Method,
					))
					writeJSON(w, http.StatusInternalServerError, nerrors.Failure("Internal server error").ToResponse())
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
