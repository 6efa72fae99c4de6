package maintenance

import (
	"context"
	"errors"
	"time"

	"cdr.dev/slog/v3"

	"club-manager/backend/internal/metrics"
	"club-manager/backend/internal/session/domain"
	"club-manager/backend/internal/session/repository"
	"club-manager/backend/internal/telemetry"
	telemetrydomain "club-manager/backend/internal/telemetry/domain"
)

// DuplicateRepo is the minimal repository needed by the collapser.
type DuplicateRepo interface {
	ListOpen(ctx context.Context, limit int) ([]*domain.Session, error)
	Delete(ctx context.Context, id int64) error
}

// CollapseResult reports a collapser run. Deleted counts only rows actually removed.
type CollapseResult struct {
	Success bool `json:"success"`
	Deleted int  `json:"deleted"`
}

// Collapser deletes all but the most recent open session per user and login day.
type Collapser struct {
	repo DuplicateRepo
	opts Options
	b    batcher
}

// NewCollapser returns a Collapser; Limit defaults to 100.
func NewCollapser(repo DuplicateRepo, opts Options) *Collapser {
	opts = opts.withDefaults(100)
	opts.Logger = opts.Logger.Named("collapser")
	return &Collapser{
		repo: repo,
		opts: opts,
		b:    batcher{clock: opts.Clock, size: opts.BatchSize, pause: opts.BatchPause},
	}
}

// Run scans up to Limit open sessions, newest first, and deletes the duplicates.
func (c *Collapser) Run(ctx context.Context) CollapseResult {
	rows, err := c.repo.ListOpen(ctx, c.opts.Limit)
	if err != nil {
		c.opts.Logger.Error(ctx, "list open sessions failed", slog.Error(err))
		return CollapseResult{}
	}
	dups := Duplicates(rows, c.opts.Location)
	if len(dups) == 0 {
		return CollapseResult{Success: true}
	}

	now := c.opts.Clock.Now("collapser", "now")
	deleted := c.b.run(ctx, dups, func(ctx context.Context, s *domain.Session) bool {
		if err := c.repo.Delete(ctx, s.ID); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				c.opts.Logger.Warn(ctx, "delete duplicate session failed",
					slog.F("session_row_id", s.ID), slog.F("user_name", s.UserName), slog.Error(err))
			}
			return false
		}
		metrics.DuplicatesRemoved.Inc()
		telemetry.EmitAsync(c.opts.Logger, c.opts.Events, &telemetrydomain.Event{
			Type:       telemetrydomain.EventDuplicateRemoved,
			Source:     "collapser",
			ID:         s.ID,
			SessionID:  s.SessionID,
			UserName:   s.UserName,
			DeviceType: string(s.DeviceType),
			PageViews:  s.PageViews,
			CreatedAt:  now,
		})
		return true
	})

	c.opts.Logger.Info(ctx, "duplicate sessions collapsed",
		slog.F("scanned", len(rows)), slog.F("duplicates", len(dups)), slog.F("deleted", deleted))
	return CollapseResult{Success: true, Deleted: deleted}
}

// Duplicates returns the rows to delete from rows, which must be ordered by login time descending:
// the first row seen per (user name, login day) is kept and every later one is returned.
func Duplicates(rows []*domain.Session, loc *time.Location) []*domain.Session {
	type key struct{ user, day string }
	seen := make(map[key]bool, len(rows))
	var out []*domain.Session
	for _, s := range rows {
		k := key{s.UserName, domain.DayKey(s.LoginTime, loc)}
		if seen[k] {
			out = append(out, s)
			continue
		}
		seen[k] = true
	}
	return out
}
