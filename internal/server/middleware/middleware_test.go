package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgerguard/backend/internal/ratelimit"
	"ledgerguard/backend/internal/security"
)

func okHandler(t *testing.T, want *security.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if want != nil {
			got, ok := IdentityFrom(r.Context())
			require.True(t, ok)
			require.Equal(t, want.UserID, got.UserID)
			require.Equal(t, want.SessionID, got.SessionID)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	token, _, err := tokens.IssueAccess("sess-1", "user-1", []string{"user"})
	require.NoError(t, err)
	h := Authenticate(tokens)(okHandler(t, &security.Identity{UserID: "user-1", SessionID: "sess-1"}))

	testCases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid bearer", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusUnauthorized {
				require.JSONEq(t, `{"error":"missing or invalid authorization"}`, rec.Body.String())
			}
		})
	}
}

func TestCSRF(t *testing.T) {
	binder, err := security.NewCSRFBinder("s3cret")
	require.NoError(t, err)
	h := CSRF(binder.Verify)(okHandler(t, nil))
	id := security.Identity{UserID: "user-1", SessionID: "sess-1"}

	send := func(method, token string) int {
		req := httptest.NewRequest(method, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), id))
		if token != "" {
			req.Header.Set(CSRFHeader, token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusNoContent, send(http.MethodGet, ""), "safe methods pass")
	require.Equal(t, http.StatusForbidden, send(http.MethodPost, ""))
	require.Equal(t, http.StatusForbidden, send(http.MethodPost, binder.Issue("sess-2")))
	require.Equal(t, http.StatusNoContent, send(http.MethodPost, binder.Issue("sess-1")))
}

func TestCSRF_Legacy(t *testing.T) {
	h := CSRF(security.ValidateCSRFToken)(okHandler(t, nil))
	tok, err := security.GenerateSecureToken(32)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), security.Identity{UserID: "u", SessionID: "s"}))
	req.Header.Set(CSRFHeader, tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCSRF_DisabledWhenNil(t *testing.T) {
	h := CSRF(nil)(okHandler(t, nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPerIPRateLimit(t *testing.T) {
	bucket := ratelimit.NewKeyedTokenBucket(0.001, 2, time.Minute)
	h := PerIPRateLimit(bucket, nil)(okHandler(t, nil))
	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	require.Equal(t, http.StatusNoContent, send("192.0.2.1:1000").Code)
	require.Equal(t, http.StatusNoContent, send("192.0.2.1:1001").Code)
	rec := send("192.0.2.1:1002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.Equal(t, http.StatusNoContent, send("192.0.2.2:1000").Code, "buckets are per IP")
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	h := RequestLogger(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	require.Equal(t, "2001:db8::1", ClientIP(req))
	req.RemoteAddr = "198.51.100.4"
	require.Equal(t, "198.51.100.4", ClientIP(req))
}
