package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"

	"club-manager/backend/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory. It backs local development when no
// DATABASE_URL is configured and is the store used by service tests.
type MemoryRepository struct {
	clock quartz.Clock

	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Session
}

// NewMemoryRepository returns an empty in-memory repository. clock supplies the server-side
// defaults for login_time, last_activity and updated_at; nil uses the real clock.
func NewMemoryRepository(clock quartz.Clock) *MemoryRepository {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &MemoryRepository{clock: clock, rows: make(map[int64]*domain.Session)}
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	if s == nil || s.UserName == "" || s.SessionID == "" {
		return fmt.Errorf("create activity session: invalid session: missing required fields")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.nextID++
	s.ID = r.nextID
	if s.LoginTime.IsZero() {
		s.LoginTime = now
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = now
	}
	if s.PageViews == 0 {
		s.PageViews = 1
	}
	s.LogoutTime = nil
	s.DurationMinutes = nil
	s.UpdatedAt = now
	r.rows[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id int64) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].Clone(), nil
}

func (r *MemoryRepository) RecordPageView(_ context.Context, id int64, at time.Time) error {
	return r.mutateOpen(id, func(s *domain.Session) {
		s.PageViews++
		s.LastActivity = at
	})
}

func (r *MemoryRepository) UpdateLastActivity(_ context.Context, id int64, at time.Time) error {
	return r.mutateOpen(id, func(s *domain.Session) {
		s.LastActivity = at
	})
}

func (r *MemoryRepository) Close(_ context.Context, id int64, c domain.Close) error {
	return r.mutateOpen(id, func(s *domain.Session) {
		t := c.LogoutTime
		d := c.DurationMinutes
		s.LogoutTime = &t
		s.DurationMinutes = &d
	})
}

func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || !s.Open() {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *MemoryRepository) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*domain.Session, error) {
	out := r.filter(func(s *domain.Session) bool {
		return s.Open() && s.LoginTime.Before(cutoff)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].LoginTime.Before(out[j].LoginTime) })
	return truncate(out, limit), nil
}

func (r *MemoryRepository) ListOpen(_ context.Context, limit int) ([]*domain.Session, error) {
	out := r.filter(func(s *domain.Session) bool { return s.Open() })
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (r *MemoryRepository) ListSince(_ context.Context, since time.Time) ([]*domain.Session, error) {
	out := r.filter(func(s *domain.Session) bool { return !s.LoginTime.Before(since) })
	sortNewestFirst(out)
	return out, nil
}

// Len returns the number of stored rows.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Insert stores s as-is (including LoginTime and LogoutTime) and assigns an ID. Used by seeding
// and tests to build historical rows that Create would never produce.
func (r *MemoryRepository) Insert(s *domain.Session) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = r.clock.Now()
	}
	r.rows[s.ID] = s.Clone()
	return s.Clone()
}

func (r *MemoryRepository) mutateOpen(id int64, fn func(s *domain.Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || !s.Open() {
		return ErrNotFound
	}
	fn(s)
	s.UpdatedAt = r.clock.Now()
	return nil
}

func (r *MemoryRepository) filter(keep func(s *domain.Session) bool) []*domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Session, 0, len(r.rows))
	for _, s := range r.rows {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	return out
}

func sortNewestFirst(list []*domain.Session) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].LoginTime.Equal(list[j].LoginTime) {
			return list[i].ID > list[j].ID
		}
		return list[i].LoginTime.After(list[j].LoginTime)
	})
}

func truncate(list []*domain.Session, limit int) []*domain.Session {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
