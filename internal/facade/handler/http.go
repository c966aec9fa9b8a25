// Package handler exposes the security facade over HTTP under /security.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/audit"
	"ledgerguard/backend/internal/facade"
	"ledgerguard/backend/internal/logger"
	"ledgerguard/backend/internal/server/middleware"
)

// SessionHeader names the session a request refers to.
const SessionHeader = "X-Session-Id"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 16

// Facade is the service surface the handlers call.
type Facade interface {
	Login(ctx context.Context, email, password, ip, userAgent string) (*facade.LoginResult, error)
	ValidateSession(ctx context.Context, c facade.Caller, sessionID string) (*facade.ValidateResult, error)
	Logout(ctx context.Context, c facade.Caller, sessionID string) error
	LogoutAll(ctx context.Context, c facade.Caller) (int, error)
	ListSessions(ctx context.Context, c facade.Caller) ([]facade.SessionView, error)
	TerminateSession(ctx context.Context, c facade.Caller, sessionID string) error
	AuditLogs(ctx context.Context, c facade.Caller, hours, limit int) ([]facade.AuditEventView, error)
	SecurityStatus(ctx context.Context, c facade.Caller) (*facade.Status, error)
	ValidatePassword(ctx context.Context, c facade.Caller, password string) (*facade.PasswordResult, error)
	ChangePassword(ctx context.Context, c facade.Caller, current, next string) error
	AuthorizeComplianceReport(ctx context.Context, c facade.Caller) error
	ComplianceReport(ctx context.Context, c facade.Caller, start, end time.Time, userID string) (*audit.ComplianceReport, error)
	LockAccount(ctx context.Context, c facade.Caller, userID, reason string) (*facade.AccountLockResult, error)
	UnlockAccount(ctx context.Context, c facade.Caller, userID string) error
	IssueCSRFToken(ctx context.Context, c facade.Caller) (string, error)
}

// Handler serves the /security routes.
type Handler struct {
	svc Facade
	log *zap.Logger
}

// New returns a handler over svc. log may be nil.
func New(svc Facade, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: logger.OrNop(log)}
}

// PublicRoutes registers routes that do not require an access token.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/login", h.Login)
}

// Routes registers the authenticated routes. The caller installs auth and CSRF middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/validate-session", h.ValidateSession)
	r.Post("/logout", h.Logout)
	r.Post("/logout-all", h.LogoutAll)
	r.Get("/sessions", h.ListSessions)
	r.Post("/sessions/{id}/terminate", h.TerminateSession)
	r.Get("/audit-logs", h.AuditLogs)
	r.Get("/security-status", h.SecurityStatus)
	r.Post("/validate-password", h.ValidatePassword)
	r.Post("/change-password", h.ChangePassword)
	r.Get("/compliance-report", h.ComplianceReport)
	r.Get("/csrf-token", h.CSRFToken)
	r.Post("/admin/accounts/{userID}/lock", h.LockAccount)
	r.Post("/admin/accounts/{userID}/unlock", h.UnlockAccount)
}

func caller(r *http.Request) facade.Caller {
	id, _ := middleware.IdentityFrom(r.Context())
	return facade.Caller{
		UserID:    id.UserID,
		SessionID: id.SessionID,
		Roles:     id.Roles,
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// statusFor maps an apperr kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("security request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: apperr.MessageOf(err), Details: apperr.DetailsOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON body")
	}
	return nil
}

// queryInt parses an integer query parameter; a missing or malformed value is 0.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}
