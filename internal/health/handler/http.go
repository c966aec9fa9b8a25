// Package handler serves the readiness endpoint.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger checks a backing store (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks the policy engine (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// PingFunc adapts a function to Pinger, for clients such as redis whose Ping has another shape.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

const checkTimeout = 2 * time.Second

// Handler reports SERVING when every configured dependency responds, NOT_SERVING otherwise.
type Handler struct {
	db     Pinger
	cache  Pinger
	policy PolicyChecker
}

// New returns a health handler. Nil dependencies are skipped.
func New(db, cache Pinger, policy PolicyChecker) *Handler {
	return &Handler{db: db, cache: cache, policy: policy}
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := response{Status: "SERVING", Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			resp.Status = "NOT_SERVING"
			resp.Checks[name] = "unavailable"
			return
		}
		resp.Checks[name] = "ok"
	}
	if h.db != nil {
		check("database", h.db.PingContext(ctx))
	}
	if h.cache != nil {
		check("redis", h.cache.PingContext(ctx))
	}
	if h.policy != nil {
		check("policy", h.policy.HealthCheck(ctx))
	}

	code := http.StatusOK
	if resp.Status != "SERVING" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
