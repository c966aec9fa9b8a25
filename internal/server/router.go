// Package server assembles the HTTP router.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"ledgerguard/backend/internal/config"
	facadehandler "ledgerguard/backend/internal/facade/handler"
	"ledgerguard/backend/internal/security"
	"ledgerguard/backend/internal/server/middleware"
	"ledgerguard/backend/internal/telemetry"
)

// Deps holds what the router needs. Health, Limiter, CSRF and Metrics may be nil; Sessions may not.
type Deps struct {
	Security *facadehandler.Handler
	Health   http.Handler
	Tokens   middleware.TokenValidator
	// Sessions gates every authenticated route on the token's session.
	Sessions middleware.SessionChecker
	// Limiter is the per-IP bucket in front of every route. If nil, no global limit applies.
	Limiter middleware.KeyedAllower
	// CSRF is the session-bound binder used when CSRFMode is hmac.
	CSRF     *security.CSRFBinder
	CSRFMode string
	Origins  []string
	Timeout  time.Duration
	Metrics  *telemetry.Metrics
	Log      *zap.Logger
}

// NewRouter returns the HTTP handler: GET /health, POST /security/login, and the
// authenticated /security routes behind JWT and CSRF checks.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Log, d.Metrics))
	r.Use(chimw.Recoverer)
	if d.Timeout > 0 {
		r.Use(chimw.Timeout(d.Timeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins(d.Origins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.CSRFHeader, facadehandler.SessionHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if d.Limiter != nil {
		r.Use(middleware.PerIPRateLimit(d.Limiter, d.Metrics))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	if d.Health != nil {
		r.Method(http.MethodGet, "/health", d.Health)
	}
	r.Route("/security", func(r chi.Router) {
		d.Security.PublicRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(d.Tokens))
			r.Use(middleware.RequireSession(d.Sessions))
			r.Use(middleware.CSRF(csrfVerifier(d.CSRFMode, d.CSRF)))
			d.Security.Routes(r)
		})
	})
	return r
}

// csrfVerifier picks the check for mode. An unknown mode falls back to legacy.
func csrfVerifier(mode string, binder *security.CSRFBinder) middleware.CSRFVerifier {
	switch mode {
	case config.CSRFModeOff:
		return nil
	case config.CSRFModeHMAC:
		if binder != nil {
			return binder.Verify
		}
	}
	return security.ValidateCSRFToken
}

func origins(o []string) []string {
	if len(o) == 0 {
		return []string{"*"}
	}
	return o
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
