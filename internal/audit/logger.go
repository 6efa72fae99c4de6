// Package audit records operator actions against the admin API.
package audit

import (
	"context"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"club-manager/backend/internal/audit/domain"
	auditrepo "club-manager/backend/internal/audit/repository"
)

// AnonymousOperator is recorded when the caller has not authenticated (e.g. a failed token request).
const AnonymousOperator = "_anonymous"

// Event describes one operator action.
type Event struct {
	Operator string
	Role     string
	Action   string
	Resource string
	Outcome  string
	IP       string
	Metadata string
}

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are logged and do
// not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, e Event)
}

// Logger implements AuditLogger on top of an audit repository.
type Logger struct {
	repo   auditrepo.Repository
	clock  quartz.Clock
	logger slog.Logger
}

// NewLogger returns a Logger persisting to repo. clock may be nil.
func NewLogger(repo auditrepo.Repository, clock quartz.Clock, logger slog.Logger) *Logger {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Logger{repo: repo, clock: clock, logger: logger.Named("audit")}
}

func (l *Logger) LogEvent(ctx context.Context, e Event) {
	if l == nil || l.repo == nil {
		return
	}
	if e.Operator == "" {
		e.Operator = AnonymousOperator
	}
	if e.IP == "" {
		e.IP = "unknown"
	}
	if e.Outcome == "" {
		e.Outcome = domain.OutcomeSuccess
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		Operator:  e.Operator,
		Role:      e.Role,
		Action:    e.Action,
		Resource:  e.Resource,
		Outcome:   e.Outcome,
		IP:        e.IP,
		Metadata:  e.Metadata,
		CreatedAt: l.clock.Now("audit", "now").UTC().Truncate(time.Microsecond),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.logger.Warn(ctx, "failed to record audit event",
			slog.F("action", e.Action),
			slog.F("resource", e.Resource),
			slog.Error(err),
		)
	}
}
