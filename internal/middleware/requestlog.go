package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/xymarket/node/internal/logging"
	"github.com/xymarket/node/internal/metrics"
)

// RequestLog logs one line per request and feeds the HTTP request counter.
// Header values go through the masker so payment proofs and buyer secrets
// never reach the log.
func RequestLog(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("remote", clientAddr(r)),
			)
			if logger.Enabled(r.Context(), slog.LevelDebug) {
				logger.Debug("http request headers",
					slog.String("path", r.URL.Path),
					slog.Any("headers", logging.MaskHeaders(r.Header)),
				)
			}
			if m != nil {
				m.HTTPRequests.WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(status)).Inc()
			}
		})
	}
}

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}
