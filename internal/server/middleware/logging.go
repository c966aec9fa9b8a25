package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"ledgerguard/backend/internal/logger"
	"ledgerguard/backend/internal/telemetry"
)

// RequestLogger logs each HTTP request after it completes and counts it in metrics. metrics may be nil.
func RequestLogger(log *zap.Logger, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Duration("duration", time.Since(start)),
					logger.IP(ClientIP(r)),
					zap.String("request_id", chimw.GetReqID(r.Context())),
				}
				if id, ok := IdentityFrom(r.Context()); ok {
					fields = append(fields, logger.UserID(id.UserID))
				}
				if status >= http.StatusInternalServerError {
					log.Warn("http request", fields...)
				} else {
					log.Info("http request", fields...)
				}
				metrics.HTTPRequest(r.Context(), r.Method, status)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
