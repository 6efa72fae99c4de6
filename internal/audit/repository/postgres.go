package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"club-manager/backend/internal/audit/domain"
	"club-manager/backend/internal/metrics"
)

type auditRow struct {
	ID        string         `db:"id"`
	Operator  string         `db:"operator"`
	Role      sql.NullString `db:"role"`
	Action    string         `db:"action"`
	Resource  string         `db:"resource"`
	Outcome   string         `db:"outcome"`
	IP        string         `db:"ip"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlx.NewDb(db, "pgx")}
}

func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	defer metrics.TrackStoreOperation("audit_insert").ObserveDuration()

	row := auditRow{
		ID:        a.ID,
		Operator:  a.Operator,
		Role:      sql.NullString{String: a.Role, Valid: a.Role != ""},
		Action:    a.Action,
		Resource:  a.Resource,
		Outcome:   a.Outcome,
		IP:        a.IP,
		Metadata:  sql.NullString{String: a.Metadata, Valid: a.Metadata != ""},
		CreatedAt: a.CreatedAt,
	}
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO operator_audit_logs
		(id, operator, role, action, resource, outcome, ip, metadata, created_at)
		VALUES (:id, :operator, :role, :action, :resource, :outcome, :ip, :metadata, :created_at)`, row)
	if err != nil {
		metrics.TrackStoreError("audit_insert")
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*domain.AuditLog, error) {
	defer metrics.TrackStoreOperation("audit_list").ObserveDuration()

	var rows []auditRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, operator, role, action, resource, outcome, ip, metadata, created_at
		FROM operator_audit_logs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		metrics.TrackStoreError("audit_list")
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	out := make([]*domain.AuditLog, len(rows))
	for i, row := range rows {
		out[i] = &domain.AuditLog{
			ID:        row.ID,
			Operator:  row.Operator,
			Role:      row.Role.String,
			Action:    row.Action,
			Resource:  row.Resource,
			Outcome:   row.Outcome,
			IP:        row.IP,
			Metadata:  row.Metadata.String,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}
