// Package monitor tracks the last moment a client showed user activity and persists it to the
// session row at a bounded rate.
package monitor

import (
	"context"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
)

// Kind is an interaction signal reported by the client.
type Kind string

const (
	PointerDown      Kind = "pointerdown"
	PointerMove      Kind = "pointermove"
	KeyPress         Kind = "keypress"
	Scroll           Kind = "scroll"
	TouchStart       Kind = "touchstart"
	Click            Kind = "click"
	VisibilityChange Kind = "visibilitychange"
)

// Kinds lists every accepted signal.
var Kinds = []Kind{PointerDown, PointerMove, KeyPress, Scroll, TouchStart, Click, VisibilityChange}

// Valid reports whether k is an accepted signal.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ActivitySignal is anything that can be told "the user just did something".
type ActivitySignal interface {
	MarkNow()
}

// Persister writes last_activity for the open session, if any.
type Persister interface {
	TouchActivity(ctx context.Context, at time.Time)
}

// Options configures a Monitor.
type Options struct {
	Clock quartz.Clock
	// FlushInterval bounds last_activity writes to one per interval. Defaults to one minute.
	FlushInterval time.Duration
	Persister     Persister
	// OnVisible runs after the client reports it became visible again (an immediate idle check).
	OnVisible func(ctx context.Context)
	Logger    slog.Logger
	// WriteTimeout bounds one persistence call. Defaults to 5s.
	WriteTimeout time.Duration
}

// Monitor holds lastActivityTime for one client. Marking is a pure in-memory update; a pending flush
// timer carries the newest timestamp to the Persister once per interval.
type Monitor struct {
	clock         quartz.Clock
	flushInterval time.Duration
	writeTimeout  time.Duration
	persister     Persister
	onVisible     func(ctx context.Context)
	logger        slog.Logger

	mu      sync.Mutex
	last    time.Time
	pending *quartz.Timer
	stopped bool
	flushes sync.WaitGroup
}

var _ ActivitySignal = (*Monitor)(nil)

func New(opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Minute
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Monitor{
		clock:         opts.Clock,
		flushInterval: opts.FlushInterval,
		writeTimeout:  opts.WriteTimeout,
		persister:     opts.Persister,
		onVisible:     opts.OnVisible,
		logger:        opts.Logger.Named("monitor"),
		last:          opts.Clock.Now(),
	}
}

// MarkNow records activity at the current time.
func (m *Monitor) MarkNow() {
	now := m.clock.Now("monitor", "mark")
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.After(m.last) {
		m.last = now
	}
	if m.stopped || m.persister == nil || m.pending != nil {
		return
	}
	m.pending = m.clock.AfterFunc(m.flushInterval, m.flush, "monitor", "flush")
}

// Mark records a signal. Unknown kinds are ignored and reported as false.
func (m *Monitor) Mark(kind Kind) bool {
	if !kind.Valid() {
		return false
	}
	m.MarkNow()
	return true
}

// Visibility handles a visibilitychange signal. Both transitions count as activity. Becoming
// visible first runs OnVisible against the previous activity time so an expired session is closed
// right away.
func (m *Monitor) Visibility(ctx context.Context, visible bool) {
	if visible && m.onVisible != nil {
		m.onVisible(ctx)
	}
	m.MarkNow()
}

// LastActivity returns the most recent activity time.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Resume re-arms persistence after Stop and counts the call as activity. Called when a session opens.
func (m *Monitor) Resume() {
	m.mu.Lock()
	m.stopped = false
	m.mu.Unlock()
	m.MarkNow()
}

// Stop cancels any pending flush. Marks keep updating the timestamp but are no longer persisted
// until Resume.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	m.mu.Unlock()
}

// Wait blocks until in-flight flushes return.
func (m *Monitor) Wait() {
	m.flushes.Wait()
}

func (m *Monitor) flush() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	at := m.last
	m.flushes.Add(1)
	m.mu.Unlock()
	defer m.flushes.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()
	m.persister.TouchActivity(ctx, at)
	m.logger.Debug(ctx, "last activity flushed", slog.F("at", at))
}
