// Package hub keeps one tracking client per browser instance: its session manager, activity monitor
// and idle detector, wired together.
package hub

import (
	"context"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"club-manager/backend/internal/correlation"
	"club-manager/backend/internal/metrics"
	"club-manager/backend/internal/session/domain"
	"club-manager/backend/internal/session/idle"
	"club-manager/backend/internal/session/monitor"
	"club-manager/backend/internal/session/service"
	"club-manager/backend/internal/telemetry"
)

// Config holds the dependencies and timings shared by every client.
type Config struct {
	Repo        service.SessionRepo
	Correlation correlation.Store
	Clock       quartz.Clock
	Location    *time.Location
	Logger      slog.Logger
	Events      telemetry.EventEmitter

	IdleTimeout   time.Duration
	IdleInterval  time.Duration
	FlushInterval time.Duration
	BeaconTimeout time.Duration
}

// Registry maps client ids to live clients. A client is dropped once its session closes; a later
// request with the same id gets a fresh client that resumes from the correlation store.
type Registry struct {
	cfg    Config
	logger slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	return &Registry{
		cfg:     cfg,
		logger:  cfg.Logger.Named("hub"),
		clients: make(map[string]*Client),
	}
}

// Get returns the client for id, creating it on first use. It returns nil after FlushAll.
func (r *Registry) Get(id string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if c, ok := r.clients[id]; ok {
		return c
	}
	c := r.newClient(id)
	r.clients[id] = c
	metrics.LiveClients.Set(float64(len(r.clients)))
	return c
}

// Lookup returns the client for id without creating one.
func (r *Registry) Lookup(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

// Len returns the number of live clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// FlushAll is the shutdown hook: every client's timers are stopped and its open session is flushed
// with the unload handshake. It blocks until the flushes finish or time out.
func (r *Registry) FlushAll() {
	r.mu.Lock()
	r.closed = true
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*Client)
	metrics.LiveClients.Set(0)
	r.mu.Unlock()

	for _, c := range clients {
		c.stopTimers()
		c.Manager.Flush()
	}
	for _, c := range clients {
		c.Manager.WaitFlushed()
		c.Monitor.Wait()
	}
	r.logger.Info(context.Background(), "flushed live clients", slog.F("count", len(clients)))
}

func (r *Registry) forget(id string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.clients[id]; ok && cur == c {
		delete(r.clients, id)
		metrics.LiveClients.Set(float64(len(r.clients)))
	}
}

func (r *Registry) newClient(id string) *Client {
	c := &Client{ID: id, registry: r}
	c.Manager = service.New(service.Options{
		ClientID:      id,
		Repo:          r.cfg.Repo,
		Correlation:   r.cfg.Correlation,
		Clock:         r.cfg.Clock,
		Location:      r.cfg.Location,
		Logger:        r.cfg.Logger,
		Events:        r.cfg.Events,
		BeaconTimeout: r.cfg.BeaconTimeout,
	})
	c.Monitor = monitor.New(monitor.Options{
		Clock:         r.cfg.Clock,
		FlushInterval: r.cfg.FlushInterval,
		Persister:     c.Manager,
		OnVisible:     c.checkIdle,
		Logger:        r.cfg.Logger,
	})
	c.Idle = idle.New(idle.Options{
		Clock:    r.cfg.Clock,
		Timeout:  r.cfg.IdleTimeout,
		Interval: r.cfg.IdleInterval,
		Activity: c.Monitor,
		OnExpire: c.expire,
		Logger:   r.cfg.Logger,
	})
	return c
}

// Client is one browser instance.
type Client struct {
	ID       string
	Manager  *service.SessionManager
	Monitor  *monitor.Monitor
	Idle     *idle.Detector
	registry *Registry
}

// Login opens or resumes the user's session for today and arms the activity timers.
func (c *Client) Login(ctx context.Context, info service.UserInfo) *domain.Session {
	s := c.Manager.Login(ctx, info)
	if s == nil {
		return nil
	}
	c.Monitor.Resume()
	c.Idle.Start()
	return s
}

// PageView counts a navigation and is also an activity signal.
func (c *Client) PageView(ctx context.Context) {
	c.Manager.RecordPageView(ctx)
	c.Monitor.MarkNow()
}

// Signal forwards an interaction signal. It reports false for unknown kinds.
func (c *Client) Signal(ctx context.Context, kind monitor.Kind, visible bool) bool {
	if kind == monitor.VisibilityChange {
		c.Monitor.Visibility(ctx, visible)
		return true
	}
	return c.Monitor.Mark(kind)
}

// Logout closes the session and drops the client.
func (c *Client) Logout(ctx context.Context) {
	c.stopTimers()
	c.Manager.Logout(ctx)
	c.registry.forget(c.ID, c)
}

// LogoutUser closes userName's session when this client holds no session in memory, then drops it.
func (c *Client) LogoutUser(ctx context.Context, userName string) {
	c.stopTimers()
	c.Manager.LogoutUser(ctx, userName)
	c.registry.forget(c.ID, c)
}

// Beacon runs the unload handshake and drops the client. It never blocks on the store.
func (c *Client) Beacon() {
	c.stopTimers()
	c.Manager.Flush()
	c.registry.forget(c.ID, c)
}

func (c *Client) stopTimers() {
	c.Idle.Stop()
	c.Monitor.Stop()
}

// checkIdle runs when the page becomes visible again.
func (c *Client) checkIdle(ctx context.Context) {
	if !c.Idle.Running() {
		return
	}
	if c.Idle.CheckNow(ctx) {
		c.registry.forget(c.ID, c)
	}
}

// expire runs on the idle ticker goroutine, so it must not stop the detector itself.
func (c *Client) expire(ctx context.Context) {
	c.Manager.ExpireIdle(ctx)
	c.Monitor.Stop()
	c.registry.forget(c.ID, c)
}
