package middleware

import (
	"net/http"
)

// CSRFHeader carries the CSRF token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// CSRFVerifier reports whether token is acceptable for the session.
type CSRFVerifier func(token, sessionID string) bool

// CSRF rejects unsafe requests whose X-CSRF-Token fails verify with 403. It must run after
// Authenticate so the session id is available. A nil verify disables the check.
func CSRF(verify CSRFVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verify == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			id, _ := IdentityFrom(r.Context())
			if !verify(r.Header.Get(CSRFHeader), id.SessionID) {
				writeError(w, http.StatusForbidden, "invalid csrf token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
