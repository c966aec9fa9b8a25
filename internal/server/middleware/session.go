package middleware

import (
	"context"
	"errors"
	"net/http"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/security"
)

// SessionChecker reports whether the session named by an access token may still be used.
type SessionChecker interface {
	CheckSession(ctx context.Context, id security.Identity, ip, userAgent string) error
}

// RequireSession rejects requests whose token names an ended, expired, idle or re-homed session.
// It must run after Authenticate. A failing session store gets 503; anything else that is not
// a pass gets 401.
func RequireSession(sessions SessionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or invalid authorization")
				return
			}
			err := sessions.CheckSession(r.Context(), id, ClientIP(r), r.UserAgent())
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, apperr.ErrStorage):
				writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			default:
				writeError(w, http.StatusUnauthorized, "session is no longer valid")
			}
		})
	}
}
