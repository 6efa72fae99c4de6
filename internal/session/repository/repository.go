package repository

import (
	"context"
	"errors"
	"time"

	"club-manager/backend/internal/session/domain"
)

// ErrNotFound is returned when an update or delete matches no open session row.
var ErrNotFound = errors.New("activity session not found or already closed")

// Repository defines persistence for activity sessions (the user_activity_logs table).
// Every mutation only touches rows whose logout_time is still NULL.
type Repository interface {
	// Create inserts s and fills in ID, LoginTime (server default when zero) and UpdatedAt.
	Create(ctx context.Context, s *domain.Session) error
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id int64) (*domain.Session, error)
	// RecordPageView increments page_views and sets last_activity in one update.
	RecordPageView(ctx context.Context, id int64, at time.Time) error
	// UpdateLastActivity sets last_activity.
	UpdateLastActivity(ctx context.Context, id int64, at time.Time) error
	// Close sets logout_time and duration_minutes.
	Close(ctx context.Context, id int64, c domain.Close) error
	// Delete removes an open session row.
	Delete(ctx context.Context, id int64) error
	// ListStale returns up to limit open sessions with login_time before cutoff, oldest first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Session, error)
	// ListOpen returns up to limit open sessions, most recent login first.
	ListOpen(ctx context.Context, limit int) ([]*domain.Session, error)
	// ListSince returns all sessions with login_time >= since, most recent login first.
	ListSince(ctx context.Context, since time.Time) ([]*domain.Session, error)
}
