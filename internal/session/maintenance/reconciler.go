// Package maintenance holds the batch jobs that repair user_activity_logs: closing sessions left open
// past their login day and removing duplicate open sessions.
package maintenance

import (
	"context"
	"errors"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"club-manager/backend/internal/metrics"
	"club-manager/backend/internal/session/domain"
	"club-manager/backend/internal/session/repository"
	"club-manager/backend/internal/telemetry"
	telemetrydomain "club-manager/backend/internal/telemetry/domain"
)

// StaleRepo is the minimal repository needed by the reconciler.
type StaleRepo interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Session, error)
	Close(ctx context.Context, id int64, c domain.Close) error
}

// ReconcileResult reports a reconciler run. Processed counts only rows actually closed.
type ReconcileResult struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
}

// Options holds the settings shared by the maintenance jobs.
type Options struct {
	Clock quartz.Clock
	// Location defines calendar-day boundaries. Nil uses time.Local.
	Location *time.Location
	// Limit caps the rows handled per run.
	Limit int
	// BatchSize and BatchPause shape the write load.
	BatchSize  int
	BatchPause time.Duration
	Logger     slog.Logger
	Events     telemetry.EventEmitter
}

func (o Options) withDefaults(limit int) Options {
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Limit <= 0 {
		o.Limit = limit
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	return o
}

// Reconciler closes sessions still open from a previous calendar day at the end of their login day.
type Reconciler struct {
	repo StaleRepo
	opts Options
	b    batcher
}

// NewReconciler returns a Reconciler; Limit defaults to 50.
func NewReconciler(repo StaleRepo, opts Options) *Reconciler {
	opts = opts.withDefaults(50)
	opts.Logger = opts.Logger.Named("reconciler")
	return &Reconciler{
		repo: repo,
		opts: opts,
		b:    batcher{clock: opts.Clock, size: opts.BatchSize, pause: opts.BatchPause},
	}
}

// Run closes up to Limit stale sessions, oldest first. A failing row is logged and skipped; the
// next run picks it up again.
func (r *Reconciler) Run(ctx context.Context) ReconcileResult {
	now := r.opts.Clock.Now("reconciler", "now")
	cutoff := domain.Day(now, r.opts.Location)
	rows, err := r.repo.ListStale(ctx, cutoff, r.opts.Limit)
	if err != nil {
		r.opts.Logger.Error(ctx, "list stale sessions failed", slog.Error(err))
		return ReconcileResult{}
	}
	if len(rows) == 0 {
		return ReconcileResult{Success: true}
	}

	processed := r.b.run(ctx, rows, func(ctx context.Context, s *domain.Session) bool {
		c := domain.CloseAt(s.LoginTime, now, r.opts.Location)
		if err := r.repo.Close(ctx, s.ID, c); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.opts.Logger.Debug(ctx, "stale session already closed", slog.F("session_row_id", s.ID))
			} else {
				r.opts.Logger.Warn(ctx, "close stale session failed",
					slog.F("session_row_id", s.ID), slog.F("user_name", s.UserName), slog.Error(err))
			}
			return false
		}
		metrics.TrackSessionClosed("stale")
		telemetry.EmitAsync(r.opts.Logger, r.opts.Events, &telemetrydomain.Event{
			Type:            telemetrydomain.EventStaleReconciled,
			Source:          "reconciler",
			ID:              s.ID,
			SessionID:       s.SessionID,
			UserName:        s.UserName,
			DeviceType:      string(s.DeviceType),
			Reason:          "stale",
			DurationMinutes: &c.DurationMinutes,
			PageViews:       s.PageViews,
			CreatedAt:       now,
		})
		return true
	})

	r.opts.Logger.Info(ctx, "stale sessions reconciled",
		slog.F("eligible", len(rows)), slog.F("processed", processed))
	return ReconcileResult{Success: true, Processed: processed}
}
