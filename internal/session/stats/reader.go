// Package stats reads recent sessions for operators and summarizes them.
package stats

import (
	"context"
	"sort"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"club-manager/backend/internal/session/domain"
)

// SessionLister is the minimal repository needed by the Reader.
type SessionLister interface {
	ListSince(ctx context.Context, since time.Time) ([]*domain.Session, error)
}

// Reader returns sessions whose login time falls within a trailing window.
type Reader struct {
	repo   SessionLister
	clock  quartz.Clock
	loc    *time.Location
	logger slog.Logger
}

// NewReader returns a Reader. A nil clock uses the real clock; a nil location uses time.Local.
func NewReader(repo SessionLister, clock quartz.Clock, loc *time.Location, logger slog.Logger) *Reader {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Reader{repo: repo, clock: clock, loc: loc, logger: logger.Named("stats")}
}

// Sessions returns sessions with login_time >= now - days, newest first. It returns nil on failure
// and for a non-positive window.
func (r *Reader) Sessions(ctx context.Context, days int) []*domain.Session {
	if days <= 0 {
		return nil
	}
	since := r.clock.Now("stats", "now").AddDate(0, 0, -days)
	list, err := r.repo.ListSince(ctx, since)
	if err != nil {
		r.logger.Error(ctx, "list sessions failed", slog.F("days", days), slog.Error(err))
		return nil
	}
	return list
}

// DayCount is the number of sessions opened on one calendar day.
type DayCount struct {
	Day      string `json:"day" yaml:"day"`
	Sessions int    `json:"sessions" yaml:"sessions"`
}

// Summary aggregates a list of sessions.
type Summary struct {
	TotalSessions          int                       `json:"totalSessions" yaml:"totalSessions"`
	UniqueUsers            int                       `json:"uniqueUsers" yaml:"uniqueUsers"`
	OpenSessions           int                       `json:"openSessions" yaml:"openSessions"`
	AverageDurationMinutes float64                   `json:"averageDurationMinutes" yaml:"averageDurationMinutes"`
	TotalPageViews         int                       `json:"totalPageViews" yaml:"totalPageViews"`
	ByDevice               map[domain.DeviceType]int `json:"byDevice" yaml:"byDevice"`
	ByDay                  []DayCount                `json:"byDay" yaml:"byDay"`
}

// Summarize aggregates sessions. The average covers closed sessions only; ByDay is ordered by day
// ascending using loc for day boundaries.
func Summarize(sessions []*domain.Session, loc *time.Location) Summary {
	sum := Summary{ByDevice: make(map[domain.DeviceType]int), ByDay: []DayCount{}}
	users := make(map[string]struct{})
	days := make(map[string]int)
	closed, minutes := 0, 0
	for _, s := range sessions {
		if s == nil {
			continue
		}
		sum.TotalSessions++
		sum.TotalPageViews += s.PageViews
		sum.ByDevice[s.DeviceType]++
		users[s.UserName] = struct{}{}
		days[domain.DayKey(s.LoginTime, loc)]++
		if s.Open() {
			sum.OpenSessions++
			continue
		}
		if s.DurationMinutes != nil {
			closed++
			minutes += *s.DurationMinutes
		}
	}
	sum.UniqueUsers = len(users)
	if closed > 0 {
		sum.AverageDurationMinutes = float64(minutes) / float64(closed)
	}
	for day, n := range days {
		sum.ByDay = append(sum.ByDay, DayCount{Day: day, Sessions: n})
	}
	sort.Slice(sum.ByDay, func(i, j int) bool { return sum.ByDay[i].Day < sum.ByDay[j].Day })
	return sum
}
