package repository

import (
	"context"
	"errors"
	"sync"

	"club-manager/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory (development and tests).
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	if a == nil || a.ID == "" {
		return errors.New("create audit log: missing id")
	}
	c := *a
	r.mu.Lock()
	r.entries = append(r.entries, &c)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListRecent(_ context.Context, limit int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AuditLog, 0, min(limit, len(r.entries)))
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		c := *r.entries[i]
		out = append(out, &c)
	}
	return out, nil
}
