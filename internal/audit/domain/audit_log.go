package domain

import "time"

// Outcomes recorded for an operator action.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// AuditLog is one operator action against the admin API (an operator_audit_logs row).
type AuditLog struct {
	ID        string    `json:"id"`
	Operator  string    `json:"operator"`
	Role      string    `json:"role,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Outcome   string    `json:"outcome"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
