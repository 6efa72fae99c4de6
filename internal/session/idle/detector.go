// Package idle closes sessions whose client has shown no activity for longer than the idle timeout.
package idle

import (
	"context"
	"errors"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
)

// errExpired ends the ticker after the session was closed.
var errExpired = errors.New("session expired")

// Activity reports the last time the user did something.
type Activity interface {
	LastActivity() time.Time
}

// Options configures a Detector.
type Options struct {
	Clock quartz.Clock
	// Timeout is the inactivity threshold. Defaults to 30 minutes.
	Timeout time.Duration
	// Interval is the check period. Defaults to 5 minutes.
	Interval time.Duration
	Activity Activity
	// OnExpire closes the session. It runs on the ticker goroutine and must not call Stop.
	OnExpire func(ctx context.Context)
	Logger   slog.Logger
}

// Detector runs a periodic idle check while a session is open.
type Detector struct {
	clock    quartz.Clock
	timeout  time.Duration
	interval time.Duration
	activity Activity
	onExpire func(ctx context.Context)
	logger   slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	waiter quartz.Waiter
}

func New(opts Options) *Detector {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	return &Detector{
		clock:    opts.Clock,
		timeout:  opts.Timeout,
		interval: opts.Interval,
		activity: opts.Activity,
		onExpire: opts.OnExpire,
		logger:   opts.Logger.Named("idle"),
	}
}

// Start begins periodic checks. Calling Start while running is a no-op.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.gen++
	gen := d.gen
	d.cancel = cancel
	d.waiter = d.clock.TickerFunc(ctx, d.interval, func() error {
		if d.check(ctx) {
			d.release(gen)
			return errExpired
		}
		return nil
	}, "idle", "check")
}

// release forgets the ticker started as generation gen after it expired on its own.
func (d *Detector) release(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen || d.cancel == nil {
		return
	}
	d.cancel()
	d.cancel, d.waiter = nil, nil
}

// Stop cancels the ticker and waits for an in-flight check to return.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel, waiter := d.cancel, d.waiter
	d.cancel, d.waiter = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = waiter.Wait()
}

// Running reports whether periodic checks are active.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// CheckNow runs one check immediately (e.g. when the client becomes visible again) and stops the
// ticker if the session expired. Must not be called from OnExpire.
func (d *Detector) CheckNow(ctx context.Context) bool {
	if !d.check(ctx) {
		return false
	}
	d.Stop()
	return true
}

// check closes the session if the last activity is more than the timeout ago.
func (d *Detector) check(ctx context.Context) bool {
	now := d.clock.Now("idle", "now")
	last := d.activity.LastActivity()
	idleFor := now.Sub(last)
	if idleFor <= d.timeout {
		return false
	}
	d.logger.Info(ctx, "session idle, closing", slog.F("idle_for", idleFor), slog.F("last_activity", last))
	if d.onExpire != nil {
		d.onExpire(ctx)
	}
	return true
}
