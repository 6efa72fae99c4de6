package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"club-manager/backend/internal/audit/domain"
	auditrepo "club-manager/backend/internal/audit/repository"
)

type failingRepo struct{}

func (failingRepo) Create(context.Context, *domain.AuditLog) error {
	return errors.New("connection reset")
}

func (failingRepo) ListRecent(context.Context, int) ([]*domain.AuditLog, error) {
	return nil, nil
}

func TestLogger_LogEvent(t *testing.T) {
	ctx := context.Background()
	clk := quartz.NewMock(t)
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	clk.Set(now).MustWait(ctx)
	repo := auditrepo.NewMemoryRepository()
	l := NewLogger(repo, clk, slogtest.Make(t, nil))

	l.LogEvent(ctx, Event{
		Operator: "ops",
		Role:     "operator",
		Action:   "cleanup.run",
		Resource: "/api/admin/activity/cleanup",
		IP:       "10.0.0.9",
		Metadata: "closed 3 stale sessions",
	})

	list, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	_, err = uuid.Parse(got.ID)
	assert.NoError(t, err)
	assert.Equal(t, "ops", got.Operator)
	assert.Equal(t, domain.OutcomeSuccess, got.Outcome)
	assert.Equal(t, "10.0.0.9", got.IP)
	assert.Equal(t, now, got.CreatedAt)
}

func TestLogger_Defaults(t *testing.T) {
	ctx := context.Background()
	repo := auditrepo.NewMemoryRepository()
	l := NewLogger(repo, nil, slogtest.Make(t, nil))

	l.LogEvent(ctx, Event{Action: "token.issue", Resource: "/api/admin/token", Outcome: domain.OutcomeFailure})

	list, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, AnonymousOperator, list[0].Operator)
	assert.Equal(t, "unknown", list[0].IP)
	assert.Equal(t, domain.OutcomeFailure, list[0].Outcome)
}

func TestLogger_RepoFailureIsSwallowed(t *testing.T) {
	l := NewLogger(failingRepo{}, nil, slogtest.Make(t, nil))
	l.LogEvent(context.Background(), Event{Action: "stats.read"})

	var nilLogger *Logger
	nilLogger.LogEvent(context.Background(), Event{Action: "stats.read"})
}

func TestMemoryRepository_ListRecent(t *testing.T) {
	ctx := context.Background()
	repo := auditrepo.NewMemoryRepository()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, &domain.AuditLog{ID: id}))
	}
	require.Error(t, repo.Create(ctx, &domain.AuditLog{}))

	list, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}
