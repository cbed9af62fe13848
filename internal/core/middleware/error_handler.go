package middleware

import (
	"net/http"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// WithErrorHandler logs every failed response: 5xx as errors, 4xx as warnings.
func WithErrorHandler(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)

			fields := []logger.Field{
				logger.StringField("method", r.Method),
				logger.StringField("path", r.URL.Path),
				logger.IntField("status", sr.status),
				logger.DurationField("duration", time.Since(start)),
			}
			switch {
			case sr.status >= http.StatusInternalServerError:
				log.Error("request failed", fields...)
			case sr.status >= http.StatusBadRequest:
				log.Warn("request rejected", fields...)
			}
		})
	}
}
