// Package service implements the per-client session recorder: the ABSENT, OPEN, CLOSED lifecycle of a
// user's daily activity session.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"club-manager/backend/internal/correlation"
	"club-manager/backend/internal/metrics"
	"club-manager/backend/internal/session/domain"
	"club-manager/backend/internal/session/repository"
	"club-manager/backend/internal/telemetry"
	telemetrydomain "club-manager/backend/internal/telemetry/domain"
)

// Reason records why a session was closed.
type Reason string

const (
	ReasonLogout     Reason = "logout"
	ReasonIdle       Reason = "idle_timeout"
	ReasonRollover   Reason = "rollover"
	ReasonUnload     Reason = "unload"
	ReasonUserSwitch Reason = "user_switch"
)

// SessionRepo is the minimal session repository needed by the session manager.
type SessionRepo interface {
	Create(ctx context.Context, s *domain.Session) error
	RecordPageView(ctx context.Context, id int64, at time.Time) error
	UpdateLastActivity(ctx context.Context, id int64, at time.Time) error
	Close(ctx context.Context, id int64, c domain.Close) error
}

// UserInfo identifies the actor and the device context captured at login.
type UserInfo struct {
	UserID     string
	UserName   string
	DeviceType domain.DeviceType
	IPAddress  string
	UserAgent  string
}

// Options configures a SessionManager. Repo, Correlation and ClientID are required.
type Options struct {
	// ClientID namespaces correlation entries; one client instance per browser profile.
	ClientID    string
	Repo        SessionRepo
	Correlation correlation.Store
	Clock       quartz.Clock
	// Location defines calendar-day boundaries. Nil uses time.Local.
	Location *time.Location
	Logger   slog.Logger
	Events   telemetry.EventEmitter
	// BeaconTimeout bounds the unload flush. Defaults to 5s.
	BeaconTimeout time.Duration
}

// SessionManager owns the session of one client instance. Every state transition holds mu, so calls
// from one client are serialized. Remote failures are logged and swallowed: tracking never blocks the
// caller's primary flow.
type SessionManager struct {
	clientID      string
	repo          SessionRepo
	store         correlation.Store
	clock         quartz.Clock
	loc           *time.Location
	logger        slog.Logger
	events        telemetry.EventEmitter
	beaconTimeout time.Duration

	mu      sync.Mutex
	current *domain.Session
	user    UserInfo

	flushes sync.WaitGroup
}

// New returns a SessionManager in the ABSENT state.
func New(opts Options) *SessionManager {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.BeaconTimeout <= 0 {
		opts.BeaconTimeout = 5 * time.Second
	}
	return &SessionManager{
		clientID:      opts.ClientID,
		repo:          opts.Repo,
		store:         opts.Correlation,
		clock:         opts.Clock,
		loc:           opts.Location,
		logger:        opts.Logger.Named("session").With(slog.F("client_id", opts.ClientID)),
		events:        opts.Events,
		beaconTimeout: opts.BeaconTimeout,
	}
}

// Login returns the user's open session for today, creating one if needed. A same-day open session
// (in memory or in the correlation store) is returned unchanged without touching the remote store.
// A session left open from a previous day is closed at the end of its login day first.
// Returns nil when the session could not be created.
func (m *SessionManager) Login(ctx context.Context, info UserInfo) *domain.Session {
	if info.UserName == "" {
		m.logger.Warn(ctx, "login without user name ignored")
		return nil
	}
	if !info.DeviceType.Valid() {
		info.DeviceType = domain.DeviceDesktop
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()

	if m.current != nil {
		switch {
		case m.current.UserName != info.UserName:
			m.closeLocked(ctx, ReasonUserSwitch, now)
		case domain.SameDay(m.current.LoginTime, now, m.loc):
			return m.current.Clone()
		default:
			m.closeLocked(ctx, ReasonRollover, now)
		}
	}

	if s := m.resumeLocked(ctx, info, now); s != nil {
		return s.Clone()
	}
	return m.createLocked(ctx, info, now).Clone()
}

// RecordPageView increments the open session's page views. A session whose login day is not today is
// never incremented: it is closed at the end of its login day and a fresh session is opened instead.
func (m *SessionManager) RecordPageView(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	now := m.clock.Now()
	if !domain.SameDay(m.current.LoginTime, now, m.loc) {
		m.closeLocked(ctx, ReasonRollover, now)
		if m.resumeLocked(ctx, m.user, now) == nil {
			m.createLocked(ctx, m.user, now)
		}
		return
	}

	err := m.repo.RecordPageView(ctx, m.current.ID, now)
	if err != nil {
		m.handleUpdateErrorLocked(ctx, "record page view", err)
		return
	}
	m.current.PageViews++
	m.current.LastActivity = now
	m.saveEntry(ctx, m.current)
	m.emit(telemetrydomain.EventPageView, m.current, "")
}

// Logout closes the open session. The correlation entry is cleared whatever the remote outcome.
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.closeLocked(ctx, ReasonLogout, m.clock.Now())
}

// LogoutUser closes userName's session for a client with no in-memory state, such as one whose server
// restarted. The session is resumed from the correlation entry first; a previous-day entry is closed at
// the end of its login day as on login. An open session for another user is left alone.
func (m *SessionManager) LogoutUser(ctx context.Context, userName string) {
	if userName == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if m.current == nil {
		m.resumeLocked(ctx, UserInfo{UserName: userName, DeviceType: domain.DeviceDesktop}, now)
	}
	if m.current == nil || m.current.UserName != userName {
		return
	}
	m.closeLocked(ctx, ReasonLogout, now)
}

// ExpireIdle closes the open session after the inactivity threshold passed.
func (m *SessionManager) ExpireIdle(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.closeLocked(ctx, ReasonIdle, m.clock.Now())
}

// TouchActivity persists last_activity for the open session. Writes for a session whose login day
// has passed are skipped; the next recorder operation rolls it over.
func (m *SessionManager) TouchActivity(ctx context.Context, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !domain.SameDay(m.current.LoginTime, at, m.loc) {
		return
	}
	if err := m.repo.UpdateLastActivity(ctx, m.current.ID, at); err != nil {
		m.handleUpdateErrorLocked(ctx, "update last activity", err)
		return
	}
	m.current.LastActivity = at
}

// Flush is the unload handshake: the close values are computed now and the correlation entry is
// marked closed before returning, so a login that follows a reload never adopts the row being closed.
// A single best-effort remote update is dispatched in the background with a bounded timeout. There is
// no retry and no result; rows the update misses are closed later by the stale session reconciler.
func (m *SessionManager) Flush() {
	m.mu.Lock()
	s := m.current
	if s == nil {
		m.mu.Unlock()
		return
	}
	c := domain.CloseAt(s.LoginTime, m.clock.Now(), m.loc)
	m.current = nil
	closed := s.Clone()
	closed.LogoutTime = &c.LogoutTime
	closed.DurationMinutes = &c.DurationMinutes

	entryCtx, cancelEntry := context.WithTimeout(context.Background(), m.beaconTimeout)
	if entry, err := m.store.Get(entryCtx, m.clientID, s.UserName); err == nil && entry != nil && entry.ID == s.ID {
		m.saveEntry(entryCtx, closed)
	}
	cancelEntry()
	m.mu.Unlock()

	m.flushes.Add(1)
	go func() {
		defer m.flushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.beaconTimeout)
		defer cancel()

		if err := m.repo.Close(ctx, s.ID, c); err != nil {
			m.logger.Debug(ctx, "unload flush failed", slog.F("session_row_id", s.ID), slog.Error(err))
			return
		}
		metrics.TrackSessionClosed(string(ReasonUnload))
		m.emit(telemetrydomain.EventSessionClosed, closed, ReasonUnload)
	}()
}

// WaitFlushed blocks until dispatched unload flushes finish. Each is bounded by the beacon timeout.
func (m *SessionManager) WaitFlushed() {
	m.flushes.Wait()
}

// Current returns a copy of the open session, or nil in the ABSENT state.
func (m *SessionManager) Current() *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// resumeLocked consults the correlation entry for info.UserName. A same-day open entry becomes the
// current session. A previous-day entry is closed remotely. Anything else is discarded.
func (m *SessionManager) resumeLocked(ctx context.Context, info UserInfo, now time.Time) *domain.Session {
	entry, err := m.store.Get(ctx, m.clientID, info.UserName)
	if err != nil {
		m.logger.Warn(ctx, "correlation entry unreadable, discarding",
			slog.F("user_name", info.UserName), slog.Error(err))
		m.deleteEntry(ctx, info.UserName, 0)
		return nil
	}
	if entry == nil {
		return nil
	}
	if entry.Closed() {
		m.deleteEntry(ctx, info.UserName, 0)
		return nil
	}

	s := &domain.Session{
		ID:           entry.ID,
		SessionID:    entry.SessionID,
		UserID:       info.UserID,
		UserName:     info.UserName,
		DeviceType:   info.DeviceType,
		IPAddress:    info.IPAddress,
		UserAgent:    info.UserAgent,
		LoginTime:    entry.LoginTime,
		PageViews:    entry.PageViews,
		LastActivity: now,
	}
	if domain.SameDay(entry.LoginTime, now, m.loc) {
		m.current = s
		m.user = info
		return s
	}

	c := domain.CloseAt(entry.LoginTime, now, m.loc)
	if err := m.repo.Close(ctx, entry.ID, c); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			m.logger.Error(ctx, "close previous-day session failed",
				slog.F("session_row_id", entry.ID), slog.Error(err))
		}
	} else {
		s.LogoutTime = &c.LogoutTime
		s.DurationMinutes = &c.DurationMinutes
		metrics.TrackSessionClosed(string(ReasonRollover))
		m.emit(telemetrydomain.EventSessionClosed, s, ReasonRollover)
	}
	m.deleteEntry(ctx, info.UserName, 0)
	return nil
}

func (m *SessionManager) createLocked(ctx context.Context, info UserInfo, now time.Time) *domain.Session {
	s := &domain.Session{
		SessionID:    NewSessionToken(now),
		UserID:       info.UserID,
		UserName:     info.UserName,
		DeviceType:   info.DeviceType,
		IPAddress:    info.IPAddress,
		UserAgent:    info.UserAgent,
		LoginTime:    now,
		PageViews:    1,
		LastActivity: now,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		m.logger.Error(ctx, "create session failed", slog.F("user_name", info.UserName), slog.Error(err))
		return nil
	}
	m.current = s
	m.user = info
	m.saveEntry(ctx, s)
	metrics.SessionsOpened.Inc()
	m.emit(telemetrydomain.EventSessionOpened, s, "")
	m.logger.Debug(ctx, "session opened", slog.F("session_row_id", s.ID), slog.F("user_name", s.UserName))
	return s
}

// closeLocked closes the current session at now, or at the end of its login day when now is on a
// later day, and returns the manager to ABSENT.
func (m *SessionManager) closeLocked(ctx context.Context, reason Reason, now time.Time) {
	s := m.current
	m.current = nil
	c := domain.CloseAt(s.LoginTime, now, m.loc)
	err := m.repo.Close(ctx, s.ID, c)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		m.logger.Debug(ctx, "session already closed or removed", slog.F("session_row_id", s.ID))
	case err != nil:
		m.logger.Error(ctx, "close session failed",
			slog.F("session_row_id", s.ID), slog.F("reason", reason), slog.Error(err))
	default:
		s.LogoutTime = &c.LogoutTime
		s.DurationMinutes = &c.DurationMinutes
		metrics.TrackSessionClosed(string(reason))
		m.emit(telemetrydomain.EventSessionClosed, s, reason)
	}
	m.deleteEntry(ctx, s.UserName, s.ID)
}

// handleUpdateErrorLocked drops the cached session when the row no longer matches an open session.
func (m *SessionManager) handleUpdateErrorLocked(ctx context.Context, op string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		m.logger.Info(ctx, "cached session no longer open, discarding",
			slog.F("op", op), slog.F("session_row_id", m.current.ID))
		m.deleteEntry(ctx, m.current.UserName, m.current.ID)
		m.current = nil
		return
	}
	m.logger.Error(ctx, op+" failed", slog.F("session_row_id", m.current.ID), slog.Error(err))
}

func (m *SessionManager) saveEntry(ctx context.Context, s *domain.Session) {
	entry := &correlation.Entry{
		ID:              s.ID,
		SessionID:       s.SessionID,
		LoginTime:       s.LoginTime,
		LogoutTime:      s.LogoutTime,
		DurationMinutes: s.DurationMinutes,
		PageViews:       s.PageViews,
	}
	if err := m.store.Set(ctx, m.clientID, s.UserName, entry); err != nil {
		m.logger.Warn(ctx, "save correlation entry failed", slog.F("user_name", s.UserName), slog.Error(err))
	}
}

// deleteEntry clears the user's correlation entry. A non-zero id only clears an entry that still
// points at that row, so a stale in-memory session cannot drop the entry of a newer one.
func (m *SessionManager) deleteEntry(ctx context.Context, userName string, id int64) {
	if id != 0 {
		if entry, err := m.store.Get(ctx, m.clientID, userName); err == nil && entry != nil && entry.ID != id {
			return
		}
	}
	if err := m.store.Delete(ctx, m.clientID, userName); err != nil {
		m.logger.Warn(ctx, "clear correlation entry failed", slog.F("user_name", userName), slog.Error(err))
	}
}

func (m *SessionManager) emit(typ telemetrydomain.EventType, s *domain.Session, reason Reason) {
	telemetry.EmitAsync(m.logger, m.events, &telemetrydomain.Event{
		Type:            typ,
		Source:          "server",
		ClientID:        m.clientID,
		ID:              s.ID,
		SessionID:       s.SessionID,
		UserName:        s.UserName,
		DeviceType:      string(s.DeviceType),
		Reason:          string(reason),
		DurationMinutes: s.DurationMinutes,
		PageViews:       s.PageViews,
		CreatedAt:       m.clock.Now(),
	})
}
