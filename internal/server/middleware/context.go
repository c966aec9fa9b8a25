package middleware

import (
	"context"
	"net"
	"net/http"

	"ledgerguard/backend/internal/security"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// WithIdentity returns a context carrying the authenticated identity.
// Handlers read it via IdentityFrom.
func WithIdentity(ctx context.Context, id security.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity from context and true if set; otherwise a zero Identity, false.
func IdentityFrom(ctx context.Context) (security.Identity, bool) {
	v, ok := ctx.Value(identityKey).(security.Identity)
	return v, ok
}

// ClientIP returns the request's remote address without the port. chi's RealIP middleware
// has already replaced RemoteAddr with X-Real-IP or X-Forwarded-For when present.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
