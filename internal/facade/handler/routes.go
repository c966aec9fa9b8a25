package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/audit"
	"ledgerguard/backend/internal/facade"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c := caller(r)
	res, err := h.svc.Login(r.Context(), req.Email, req.Password, c.IP, c.UserAgent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ValidateSession(r.Context(), caller(r), r.Header.Get(SessionHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Logout ends the session named by X-Session-Id, or the caller's own session when the header is absent.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		sessionID = c.SessionID
	}
	if err := h.svc.Logout(r.Context(), c, sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Logged out successfully"})
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.LogoutAll(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionsInvalidated": n})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListSessions(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.TerminateSession(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Session terminated"})
}

func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	hours, limit := facade.ClampAudit(queryInt(r, "hours"), queryInt(r, "limit"))
	logs, err := h.svc.AuditLogs(r.Context(), caller(r), hours, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs), "hours": hours, "limit": limit})
}

func (h *Handler) SecurityStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.SecurityStatus(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) ValidatePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.ValidatePassword(r.Context(), caller(r), req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), caller(r), req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Password changed"})
}

type reportEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	IPAddress string         `json:"ipAddress"`
	UserAgent string         `json:"userAgent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RiskLevel string         `json:"riskLevel"`
}

type reportResponse struct {
	StartDate   time.Time      `json:"startDate"`
	EndDate     time.Time      `json:"endDate"`
	UserID      string         `json:"userId,omitempty"`
	TotalEvents int            `json:"totalEvents"`
	ByRiskLevel map[string]int `json:"byRiskLevel"`
	ByAction    map[string]int `json:"byAction"`
	Events      []reportEvent  `json:"events"`
}

// ComplianceReport accepts RFC 3339 timestamps or YYYY-MM-DD dates; a date-only endDate covers the whole day.
// The caller's role is checked before the dates are parsed, so a denied caller is recorded even when
// the dates are malformed.
func (h *Handler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.AuthorizeComplianceReport(r.Context(), caller(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	start, err := parseDate(q.Get("startDate"), false)
	if err != nil {
		h.writeError(w, r, apperr.Validation("startDate must be an RFC 3339 timestamp or YYYY-MM-DD date"))
		return
	}
	end, err := parseDate(q.Get("endDate"), true)
	if err != nil {
		h.writeError(w, r, apperr.Validation("endDate must be an RFC 3339 timestamp or YYYY-MM-DD date"))
		return
	}
	report, err := h.svc.ComplianceReport(r.Context(), caller(r), start, end, q.Get("userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(report))
}

type lockRequest struct {
	Reason string `json:"reason"`
}

// LockAccount locks the account in the path. The JSON body with a reason is optional.
func (h *Handler) LockAccount(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if r.ContentLength > 0 {
		if err := decode(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	res, err := h.svc.LockAccount(r.Context(), caller(r), chi.URLParam(r, "userID"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.UnlockAccount(r.Context(), caller(r), chi.URLParam(r, "userID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Account unlocked"})
}

func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.svc.IssueCSRFToken(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": tok})
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func toReportResponse(rep *audit.ComplianceReport) reportResponse {
	out := reportResponse{
		StartDate:   rep.Start,
		EndDate:     rep.End,
		UserID:      rep.UserID,
		TotalEvents: rep.Total,
		ByRiskLevel: make(map[string]int, len(rep.ByRiskLevel)),
		ByAction:    make(map[string]int, len(rep.ByAction)),
		Events:      make([]reportEvent, 0, len(rep.Events)),
	}
	for k, v := range rep.ByRiskLevel {
		out.ByRiskLevel[string(k)] = v
	}
	for k, v := range rep.ByAction {
		out.ByAction[string(k)] = v
	}
	for _, e := range rep.Events {
		out.Events = append(out.Events, reportEvent{
			ID:        e.ID,
			UserID:    e.UserID,
			Action:    string(e.Action),
			Resource:  e.Resource,
			IPAddress: e.IPAddress,
			UserAgent: e.UserAgent,
			Metadata:  e.Metadata,
			Timestamp: e.Timestamp,
			RiskLevel: string(e.RiskLevel),
		})
	}
	return out
}
