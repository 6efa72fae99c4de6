// Package engine evaluates operator authorization for the admin API with OPA Rego.
package engine

import (
	"context"
	"fmt"

	"cdr.dev/slog/v3"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const allowQuery = "data.club.activity.admin.allow"

// DefaultPolicy lets operators run every admin action and viewers read stats only.
const DefaultPolicy = `package club.activity.admin

default allow := false

allow if {
	input.operator.role == "operator"
}

allow if {
	input.operator.role == "viewer"
	input.action == "stats.read"
}
`

// OPAEvaluator evaluates a Rego policy prepared once at construction.
type OPAEvaluator struct {
	query  rego.PreparedEvalQuery
	logger slog.Logger
}

// NewOPAEvaluator compiles policy (DefaultPolicy when empty). The policy must define
// data.club.activity.admin.allow.
func NewOPAEvaluator(ctx context.Context, policy string, logger slog.Logger) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"admin.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile admin policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare admin policy: %w", err)
	}
	return &OPAEvaluator{query: q, logger: logger.Named("policy")}, nil
}

// HealthCheck evaluates a minimal request to verify the prepared policy still answers.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(Request{Action: ActionReadStats})))
	if err != nil {
		return fmt.Errorf("eval admin policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// Authorize reports whether req is allowed. Evaluation errors deny.
func (e *OPAEvaluator) Authorize(ctx context.Context, req Request) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(req)))
	if err != nil {
		e.logger.Warn(ctx, "policy evaluation failed, denying", slog.F("action", req.Action), slog.Error(err))
		return false, fmt.Errorf("eval admin policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

func buildInput(req Request) map[string]interface{} {
	return map[string]interface{}{
		"operator": map[string]interface{}{
			"subject": req.Subject,
			"role":    req.Role,
		},
		"action": req.Action,
	}
}
