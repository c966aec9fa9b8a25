package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/audit"
	auditdomain "ledgerguard/backend/internal/audit/domain"
	"ledgerguard/backend/internal/facade"
	"ledgerguard/backend/internal/security"
	"ledgerguard/backend/internal/server/middleware"
)

// stubFacade records the last caller and returns canned results.
type stubFacade struct {
	err         error
	authzErr    error
	reports     int
	lockedUser  string
	lockReason  string
	caller      facade.Caller
	sessionID   string
	hours       int
	limit       int
	start, end  time.Time
	reportUser  string
	newPassword string
}

func (s *stubFacade) Login(ctx context.Context, email, password, ip, ua string) (*facade.LoginResult, error) {
	s.caller = facade.Caller{IP: ip, UserAgent: ua}
	if s.err != nil {
		return nil, s.err
	}
	return &facade.LoginResult{AccessToken: "tok", SessionID: "sess-1", UserID: "u1"}, nil
}

func (s *stubFacade) ValidateSession(ctx context.Context, c facade.Caller, id string) (*facade.ValidateResult, error) {
	s.caller, s.sessionID = c, id
	if id == "" {
		return nil, apperr.Validation("X-Session-Id header is required")
	}
	return &facade.ValidateResult{Valid: true, Timestamp: time.Unix(0, 0).UTC()}, s.err
}

func (s *stubFacade) Logout(ctx context.Context, c facade.Caller, id string) error {
	s.caller, s.sessionID = c, id
	return s.err
}

func (s *stubFacade) LogoutAll(ctx context.Context, c facade.Caller) (int, error) {
	s.caller = c
	return 3, s.err
}

func (s *stubFacade) ListSessions(ctx context.Context, c facade.Caller) ([]facade.SessionView, error) {
	return []facade.SessionView{{ID: "sess-1", IPAddress: "10.0.xxx.xxx", Current: true}}, s.err
}

func (s *stubFacade) TerminateSession(ctx context.Context, c facade.Caller, id string) error {
	s.sessionID = id
	return s.err
}

func (s *stubFacade) AuditLogs(ctx context.Context, c facade.Caller, hours, limit int) ([]facade.AuditEventView, error) {
	s.hours, s.limit = hours, limit
	return []facade.AuditEventView{}, s.err
}

func (s *stubFacade) SecurityStatus(ctx context.Context, c facade.Caller) (*facade.Status, error) {
	return &facade.Status{SecurityScore: 100, Recommendations: []string{"ok"}}, s.err
}

func (s *stubFacade) ValidatePassword(ctx context.Context, c facade.Caller, pw string) (*facade.PasswordResult, error) {
	res := security.ValidateStrength(pw)
	return &facade.PasswordResult{StrengthResult: res, Strength: security.StrengthLabel(res.Score)}, s.err
}

func (s *stubFacade) ChangePassword(ctx context.Context, c facade.Caller, current, next string) error {
	s.newPassword = next
	return s.err
}

func (s *stubFacade) AuthorizeComplianceReport(ctx context.Context, c facade.Caller) error {
	s.caller = c
	return s.authzErr
}

func (s *stubFacade) LockAccount(ctx context.Context, c facade.Caller, userID, reason string) (*facade.AccountLockResult, error) {
	s.caller, s.lockedUser, s.lockReason = c, userID, reason
	if s.err != nil {
		return nil, s.err
	}
	return &facade.AccountLockResult{UserID: userID, Changed: true}, nil
}

func (s *stubFacade) UnlockAccount(ctx context.Context, c facade.Caller, userID string) error {
	s.caller, s.lockedUser = c, userID
	return s.err
}

func (s *stubFacade) ComplianceReport(ctx context.Context, c facade.Caller, start, end time.Time, userID string) (*audit.ComplianceReport, error) {
	s.reports++
	s.start, s.end, s.reportUser = start, end, userID
	if s.err != nil {
		return nil, s.err
	}
	return &audit.ComplianceReport{
		Start: start, End: end, UserID: userID, Total: 1,
		Events:      []*auditdomain.AuditEvent{{ID: "e1", UserID: "u1", Action: auditdomain.ActionLoginSuccess, IPAddress: "10.0.0.1", RiskLevel: auditdomain.RiskLow}},
		ByRiskLevel: map[auditdomain.RiskLevel]int{auditdomain.RiskLow: 1},
		ByAction:    map[auditdomain.Action]int{auditdomain.ActionLoginSuccess: 1},
	}, nil
}

func (s *stubFacade) IssueCSRFToken(ctx context.Context, c facade.Caller) (string, error) {
	return strings.Repeat("a", 64), s.err
}

var testIdentity = security.Identity{UserID: "u1", SessionID: "sess-1", Roles: []string{"user"}}

func newRouter(svc Facade) http.Handler {
	h := New(svc, nil)
	r := chi.NewRouter()
	r.Route("/security", func(r chi.Router) {
		h.PublicRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					next.ServeHTTP(w, req.WithContext(middleware.WithIdentity(req.Context(), testIdentity)))
				})
			})
			h.Routes(r)
		})
	})
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("User-Agent", "test-agent")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestValidateSession_MissingHeader(t *testing.T) {
	rec := do(t, newRouter(&stubFacade{}), http.MethodPost, "/security/validate-session", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "X-Session-Id header is required", decodeBody(t, rec)["error"])
}

func TestValidateSession_UsesIdentityAndIP(t *testing.T) {
	svc := &stubFacade{}
	rec := do(t, newRouter(svc), http.MethodPost, "/security/validate-session", "", map[string]string{SessionHeader: "sess-9"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["valid"])
	require.Contains(t, body, "timestamp")
	require.Equal(t, "sess-9", svc.sessionID)
	require.Equal(t, "u1", svc.caller.UserID)
	require.Equal(t, "10.0.0.1", svc.caller.IP)
	require.Equal(t, "test-agent", svc.caller.UserAgent)
}

func TestLogout_FallsBackToCurrentSession(t *testing.T) {
	svc := &stubFacade{}
	rec := do(t, newRouter(svc), http.MethodPost, "/security/logout", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "sess-1", svc.sessionID)
}

func TestLogoutAll(t *testing.T) {
	rec := do(t, newRouter(&stubFacade{}), http.MethodPost, "/security/logout-all", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 3, decodeBody(t, rec)["sessionsInvalidated"])
}

func TestTerminateSession_PathParam(t *testing.T) {
	svc := &stubFacade{}
	rec := do(t, newRouter(svc), http.MethodPost, "/security/sessions/abc123/terminate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "abc123", svc.sessionID)
}

func TestAuditLogs_ClampsQuery(t *testing.T) {
	svc := &stubFacade{}
	rec := do(t, newRouter(svc), http.MethodGet, "/security/audit-logs?hours=1000&limit=abc", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 168, svc.hours)
	require.Equal(t, 50, svc.limit)
}

func TestComplianceReport_Dates(t *testing.T) {
	svc := &stubFacade{}
	h := newRouter(svc)

	rec := do(t, h, http.MethodGet, "/security/compliance-report?startDate=yesterday&endDate=2024-06-02", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/security/compliance-report?startDate=2024-06-01&endDate=2024-06-02&userId=u7", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), svc.start)
	require.Equal(t, time.Date(2024, 6, 2, 23, 59, 59, 999999999, time.UTC), svc.end)
	require.Equal(t, "u7", svc.reportUser)
	body := decodeBody(t, rec)
	require.EqualValues(t, 1, body["totalEvents"])
	events := body["events"].([]any)
	require.Equal(t, "10.0.0.1", events[0].(map[string]any)["ipAddress"])

	rec = do(t, h, http.MethodGet, "/security/compliance-report?startDate=2024-06-01T10:00:00Z&endDate=2024-06-01T12:00:00%2B02:00", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), svc.end)
}

func TestComplianceReport_RoleCheckedBeforeDates(t *testing.T) {
	svc := &stubFacade{authzErr: apperr.Authorization("compliance_report is not permitted")}
	h := newRouter(svc)

	rec := do(t, h, http.MethodGet, "/security/compliance-report?startDate=yesterday&endDate=soon", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "u1", svc.caller.UserID)

	rec = do(t, h, http.MethodGet, "/security/compliance-report?startDate=2024-06-01&endDate=2024-06-02", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, svc.reports)
}

func TestLockAccount(t *testing.T) {
	svc := &stubFacade{}
	h := newRouter(svc)

	rec := do(t, h, http.MethodPost, "/security/admin/accounts/u7/lock", `{"reason":"fraud review"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u7", svc.lockedUser)
	require.Equal(t, "fraud review", svc.lockReason)
	body := decodeBody(t, rec)
	require.Equal(t, "u7", body["userId"])
	require.Equal(t, true, body["changed"])

	rec = do(t, h, http.MethodPost, "/security/admin/accounts/u8/lock", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, "the body is optional")
	require.Empty(t, svc.lockReason)

	rec = do(t, h, http.MethodPost, "/security/admin/accounts/u8/lock", `{oops`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnlockAccount(t *testing.T) {
	svc := &stubFacade{}
	rec := do(t, newRouter(svc), http.MethodPost, "/security/admin/accounts/u7/unlock", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u7", svc.lockedUser)
	require.Equal(t, "u1", svc.caller.UserID)
	require.Equal(t, true, decodeBody(t, rec)["success"])

	svc = &stubFacade{err: apperr.Authorization("unlock_account is not permitted")}
	rec = do(t, newRouter(svc), http.MethodPost, "/security/admin/accounts/u7/unlock", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestValidatePassword(t *testing.T) {
	rec := do(t, newRouter(&stubFacade{}), http.MethodPost, "/security/validate-password", `{"password":"Aa1!Aa1!Aa1!"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["isValid"])
	require.EqualValues(t, 7, body["score"])
	require.Equal(t, "Very Strong", body["strength"])
}

func TestChangePassword_BadJSON(t *testing.T) {
	rec := do(t, newRouter(&stubFacade{}), http.MethodPost, "/security/change-password", `{not json`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangePassword_ValidationDetails(t *testing.T) {
	svc := &stubFacade{err: apperr.Validation("password does not meet the strength policy", security.FeedbackLength)}
	rec := do(t, newRouter(svc), http.MethodPost, "/security/change-password",
		`{"currentPassword":"a","newPassword":"b"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, []any{security.FeedbackLength}, body["details"])
	require.Equal(t, "b", svc.newPassword)
}

func TestLogin(t *testing.T) {
	svc := &stubFacade{}
	rec := do(t, newRouter(svc), http.MethodPost, "/security/login", `{"email":"a@b.c","password":"x"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tok", decodeBody(t, rec)["accessToken"])
	require.Equal(t, "10.0.0.1", svc.caller.IP)
}

func TestCSRFToken(t *testing.T) {
	rec := do(t, newRouter(&stubFacade{}), http.MethodGet, "/security/csrf-token", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["csrfToken"], 64)
}

func TestErrorStatusMapping(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.Validation("bad"), http.StatusBadRequest},
		{"unauthenticated", apperr.Unauthenticated("who"), http.StatusUnauthorized},
		{"authorization", apperr.Authorization("no"), http.StatusForbidden},
		{"not found", apperr.NotFound("session not found"), http.StatusNotFound},
		{"locked", apperr.AccountLocked("locked"), http.StatusLocked},
		{"rate limited", apperr.RateLimited("slow down"), http.StatusTooManyRequests},
		{"storage", apperr.Storage("session get", errors.New("db down")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, newRouter(&stubFacade{err: tc.err}), http.MethodPost, "/security/sessions/x/terminate", "", nil)
			require.Equal(t, tc.want, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			msg := decodeBody(t, rec)["error"].(string)
			require.NotContains(t, msg, "db down", "causes are not leaked to clients")
		})
	}
}
