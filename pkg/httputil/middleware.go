package httputil

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/invoicely/gatekeeper/pkg/observability"
)

// LoggingMiddleware logs one line per HTTP request
func LoggingMiddleware(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			entry := logger.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      m.Code,
				"bytes":       m.Written,
				"duration_ms": m.Duration.Milliseconds(),
				"request_id":  w.Header().Get(HeaderRequestID),
			})
			switch {
			case m.Code >= http.StatusInternalServerError:
				entry.Error("request completed")
			case m.Code >= http.StatusBadRequest:
				entry.Warn("request completed")
			default:
				entry.Info("request completed")
			}
		})
	}
}

// RecoveryMiddleware recovers from panics outside the guard pipeline and returns a 500
func RecoveryMiddleware(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					observability.LogPanic(logger, r.URL.Path, rec)
					WriteError(w, http.StatusInternalServerError, ErrorResponse{
						RequestID: w.Header().Get(HeaderRequestID),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Chain chains multiple middleware together
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
