package repository

import (
	"context"

	"club-manager/backend/internal/audit/domain"
)

// Repository defines persistence for operator audit logs.
type Repository interface {
	// Create stores a. ID and CreatedAt must be set.
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListRecent returns up to limit entries, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.AuditLog, error)
}
