package middleware

import (
	"net/http"

	"ledgerguard/backend/internal/telemetry"
)

// KeyedAllower admits or rejects one request for a key.
type KeyedAllower interface {
	Allow(key string) bool
}

// PerIPRateLimit rejects requests with 429 once the client IP exhausts its bucket. metrics may be nil.
func PerIPRateLimit(limiter KeyedAllower, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(ClientIP(r)) {
				metrics.RateLimited(r.Context(), "http")
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
