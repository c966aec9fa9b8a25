package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"ledgerguard/backend/internal/policy/repository"
)

const allowQuery = "data.ledgerguard.access.allow"

// Built-in access policy. Custom modules in the same package may add allow rules; none can remove these.
const defaultRegoPolicy = `package ledgerguard.access

default allow := false

report_roles := {"admin", "compliance"}

allow if {
	input.action == "compliance_report"
	some role in input.roles
	report_roles[role]
}

account_admin_actions := {"lock_account", "unlock_account"}

allow if {
	account_admin_actions[input.action]
	"admin" in input.roles
}
`

// OPAEvaluator evaluates access rules with OPA Rego. The prepared query is rebuilt on Reload.
type OPAEvaluator struct {
	policyRepo repository.Repository
	log        *zap.Logger

	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
}

// NewOPAEvaluator returns an OPA-based access evaluator loaded with the built-in policy.
// policyRepo may be nil; Reload then only compiles the built-in policy.
func NewOPAEvaluator(ctx context.Context, policyRepo repository.Repository, log *zap.Logger) (*OPAEvaluator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &OPAEvaluator{policyRepo: policyRepo, log: log}
	pq, err := prepare(ctx, map[string]string{"policy_0.rego": defaultRegoPolicy})
	if err != nil {
		return nil, err
	}
	e.prepared = pq
	return e, nil
}

// Reload compiles the built-in policy together with every enabled custom module.
// If the custom set fails to load or compile, the previous query stays in place and the error is returned.
func (e *OPAEvaluator) Reload(ctx context.Context) error {
	modules := map[string]string{"policy_0.rego": defaultRegoPolicy}
	if e.policyRepo != nil {
		policies, err := e.policyRepo.ListEnabled(ctx)
		if err != nil {
			return fmt.Errorf("load policies: %w", err)
		}
		for i, p := range policies {
			if p.Module == "" {
				continue
			}
			modules[fmt.Sprintf("policy_%d.rego", i+1)] = p.Module
		}
	}
	pq, err := prepare(ctx, modules)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.prepared = pq
	e.mu.Unlock()
	e.log.Info("access policies loaded", zap.Int("modules", len(modules)))
	return nil
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and evaluate the default policy.
// Does not call the policy repo or database. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	pq, err := prepare(ctx, map[string]string{"policy_0.rego": defaultRegoPolicy})
	if err != nil {
		return err
	}
	rs, err := pq.Eval(ctx, rego.EvalInput(buildInput(AccessInput{Action: "health"})))
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return errors.New("policy query returned no result")
	}
	return nil
}

// Allow evaluates the access policy. Any evaluation failure or non-boolean result denies.
func (e *OPAEvaluator) Allow(ctx context.Context, in AccessInput) (bool, error) {
	e.mu.RLock()
	pq := e.prepared
	e.mu.RUnlock()
	if pq == nil {
		return false, errors.New("policy: evaluator not initialised")
	}
	rs, err := pq.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		e.log.Warn("policy evaluation failed", zap.String("action", in.Action), zap.Error(err))
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}

func prepare(ctx context.Context, modules map[string]string) (*rego.PreparedEvalQuery, error) {
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	pq, err := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy query: %w", err)
	}
	return &pq, nil
}

func buildInput(in AccessInput) map[string]interface{} {
	roles := make([]interface{}, 0, len(in.Roles))
	for _, r := range in.Roles {
		roles = append(roles, r)
	}
	return map[string]interface{}{
		"user_id": in.UserID,
		"roles":   roles,
		"action":  in.Action,
	}
}
