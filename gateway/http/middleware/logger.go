package middleware

import (
	"net/http"
	"time"

	"github.com/julienstroheker/HexRelay/internal/logging"
)

// responseWriter captures the status code written by the handler
type responseWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Logger stores a request-scoped logger in the context and logs one line per
// status request once the response is written. Status endpoints are polled,
// so successful requests log at debug and failures at warn.
func Logger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestLogger := logger
			if requestID := GetRequestID(r.Context()); requestID != "" {
				requestLogger = logger.With(logging.String("request_id", requestID))
			}
			r = r.WithContext(logging.WithContext(r.Context(), requestLogger))

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.String("remote_addr", r.RemoteAddr),
				logging.Int("status", rw.statusCode),
				logging.Duration("duration", time.Since(start)),
			}
			if rw.statusCode >= http.StatusBadRequest {
				requestLogger.Warn("Status request failed", fields...)
				return
			}
			requestLogger.Debug("Status request", fields...)
		})
	}
}
