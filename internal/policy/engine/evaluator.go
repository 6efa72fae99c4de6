package engine

import "context"

// Admin actions checked against policy.
const (
	ActionReadStats  = "stats.read"
	ActionRunCleanup = "cleanup.run"
	ActionReadAudit  = "audit.read"
)

// Request is the input for one authorization decision.
type Request struct {
	Subject string
	Role    string
	Action  string
}

// Evaluator decides whether an operator may perform an admin action.
type Evaluator interface {
	Authorize(ctx context.Context, req Request) (bool, error)
}
