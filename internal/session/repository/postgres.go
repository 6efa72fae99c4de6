package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"club-manager/backend/internal/metrics"
	"club-manager/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, user_name, session_id, ip_address, user_agent, device_type,
	login_time, logout_time, duration_minutes, page_views, last_activity, updated_at`

// sessionRow is the scan target for user_activity_logs.
type sessionRow struct {
	ID              int64          `db:"id"`
	UserID          sql.NullString `db:"user_id"`
	UserName        string         `db:"user_name"`
	SessionID       string         `db:"session_id"`
	IPAddress       sql.NullString `db:"ip_address"`
	UserAgent       sql.NullString `db:"user_agent"`
	DeviceType      string         `db:"device_type"`
	LoginTime       time.Time      `db:"login_time"`
	LogoutTime      sql.NullTime   `db:"logout_time"`
	DurationMinutes sql.NullInt64  `db:"duration_minutes"`
	PageViews       int            `db:"page_views"`
	LastActivity    sql.NullTime   `db:"last_activity"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
// db must have been opened with the pgx driver (see internal/db.Open).
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlx.NewDb(db, "pgx")}
}

// Create inserts the session. login_time falls back to the server clock when s.LoginTime is zero.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	defer metrics.TrackStoreOperation("insert").ObserveDuration()

	if s == nil || s.UserName == "" || s.SessionID == "" {
		return fmt.Errorf("create activity session: invalid session: missing required fields")
	}
	args := map[string]interface{}{
		"user_id":       nullString(s.UserID),
		"user_name":     s.UserName,
		"session_id":    s.SessionID,
		"ip_address":    nullString(s.IPAddress),
		"user_agent":    nullString(s.UserAgent),
		"device_type":   string(s.DeviceType),
		"login_time":    nullTime(s.LoginTime),
		"page_views":    s.PageViews,
		"last_activity": nullTime(s.LastActivity),
	}
	query, bound, err := sqlx.Named(`INSERT INTO user_activity_logs
		(user_id, user_name, session_id, ip_address, user_agent, device_type, login_time, page_views, last_activity)
		VALUES (:user_id, :user_name, :session_id, :ip_address, :user_agent, :device_type,
			COALESCE(:login_time, now()), :page_views, COALESCE(:last_activity, now()))
		RETURNING `+sessionColumns, args)
	if err != nil {
		return fmt.Errorf("create activity session: %w", err)
	}
	var row sessionRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), bound...); err != nil {
		metrics.TrackStoreError("insert")
		return fmt.Errorf("create activity session: %w", err)
	}
	*s = *row.toDomain()
	return nil
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Session, error) {
	defer metrics.TrackStoreOperation("get").ObserveDuration()

	var row sessionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM user_activity_logs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		metrics.TrackStoreError("get")
		return nil, fmt.Errorf("get activity session %d: %w", id, err)
	}
	return row.toDomain(), nil
}

// RecordPageView increments page_views and refreshes last_activity for an open session.
func (r *PostgresRepository) RecordPageView(ctx context.Context, id int64, at time.Time) error {
	return r.execOpen(ctx, "page_view", `UPDATE user_activity_logs
		SET page_views = page_views + 1, last_activity = $2, updated_at = now()
		WHERE id = $1 AND logout_time IS NULL`, id, at)
}

// UpdateLastActivity sets last_activity for an open session.
func (r *PostgresRepository) UpdateLastActivity(ctx context.Context, id int64, at time.Time) error {
	return r.execOpen(ctx, "last_activity", `UPDATE user_activity_logs
		SET last_activity = $2, updated_at = now()
		WHERE id = $1 AND logout_time IS NULL`, id, at)
}

// Close sets logout_time and duration_minutes exactly once.
func (r *PostgresRepository) Close(ctx context.Context, id int64, c domain.Close) error {
	return r.execOpen(ctx, "close", `UPDATE user_activity_logs
		SET logout_time = $2, duration_minutes = $3, updated_at = now()
		WHERE id = $1 AND logout_time IS NULL`, id, c.LogoutTime, c.DurationMinutes)
}

// Delete removes an open session row.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	return r.execOpen(ctx, "delete", `DELETE FROM user_activity_logs WHERE id = $1 AND logout_time IS NULL`, id)
}

// ListStale returns open sessions that logged in before cutoff, oldest first.
func (r *PostgresRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Session, error) {
	return r.list(ctx, "list_stale", `SELECT `+sessionColumns+` FROM user_activity_logs
		WHERE logout_time IS NULL AND login_time < $1
		ORDER BY login_time ASC LIMIT $2`, cutoff, limit)
}

// ListOpen returns open sessions, most recent login first.
func (r *PostgresRepository) ListOpen(ctx context.Context, limit int) ([]*domain.Session, error) {
	return r.list(ctx, "list_open", `SELECT `+sessionColumns+` FROM user_activity_logs
		WHERE logout_time IS NULL
		ORDER BY login_time DESC LIMIT $1`, limit)
}

// ListSince returns sessions that logged in at or after since, most recent first.
func (r *PostgresRepository) ListSince(ctx context.Context, since time.Time) ([]*domain.Session, error) {
	return r.list(ctx, "list_since", `SELECT `+sessionColumns+` FROM user_activity_logs
		WHERE login_time >= $1
		ORDER BY login_time DESC`, since)
}

func (r *PostgresRepository) execOpen(ctx context.Context, op, query string, args ...interface{}) error {
	defer metrics.TrackStoreOperation(op).ObserveDuration()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		metrics.TrackStoreError(op)
		return fmt.Errorf("%s activity session: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		metrics.TrackStoreError(op)
		return fmt.Errorf("%s activity session: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Session, error) {
	defer metrics.TrackStoreOperation(op).ObserveDuration()

	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		metrics.TrackStoreError(op)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]*domain.Session, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (row *sessionRow) toDomain() *domain.Session {
	s := &domain.Session{
		ID:         row.ID,
		SessionID:  row.SessionID,
		UserID:     row.UserID.String,
		UserName:   row.UserName,
		DeviceType: domain.DeviceType(row.DeviceType),
		IPAddress:  row.IPAddress.String,
		UserAgent:  row.UserAgent.String,
		LoginTime:  row.LoginTime,
		PageViews:  row.PageViews,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.LogoutTime.Valid {
		t := row.LogoutTime.Time
		s.LogoutTime = &t
	}
	if row.DurationMinutes.Valid {
		d := int(row.DurationMinutes.Int64)
		s.DurationMinutes = &d
	}
	if row.LastActivity.Valid {
		s.LastActivity = row.LastActivity.Time
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
