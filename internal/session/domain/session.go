package domain

import (
	"errors"
	"math"
	"time"
)

// DeviceType is the coarse device class recorded at session start.
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

// Valid reports whether d is one of the known device classes.
func (d DeviceType) Valid() bool {
	switch d {
	case DeviceMobile, DeviceTablet, DeviceDesktop:
		return true
	}
	return false
}

// ErrSessionClosed is returned when a mutation targets a session whose logout time is already set.
var ErrSessionClosed = errors.New("session already closed")

// Session is one tracked presence of a user for a single calendar day (a user_activity_logs row).
type Session struct {
	ID              int64
	SessionID       string // client-generated correlation token
	UserID          string // empty when unknown
	UserName        string
	DeviceType      DeviceType
	IPAddress       string
	UserAgent       string
	LoginTime       time.Time
	LogoutTime      *time.Time // nil while open
	DurationMinutes *int       // nil while open
	PageViews       int
	LastActivity    time.Time
	UpdatedAt       time.Time
}

// Open reports whether the session has not been closed yet.
func (s *Session) Open() bool {
	return s != nil && s.LogoutTime == nil
}

// Clone returns a deep copy so callers can hand out sessions without sharing pointers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.LogoutTime != nil {
		t := *s.LogoutTime
		c.LogoutTime = &t
	}
	if s.DurationMinutes != nil {
		d := *s.DurationMinutes
		c.DurationMinutes = &d
	}
	return &c
}

// Close describes the values written when a session is closed.
type Close struct {
	LogoutTime      time.Time
	DurationMinutes int
}

// CloseAt computes the close values for a session that logged in at loginTime and ends at end.
// When end falls on a later calendar day than loginTime (in loc), the session is closed at the
// last millisecond of its login day instead, so the duration only counts time open on that day.
func CloseAt(loginTime, end time.Time, loc *time.Location) Close {
	if end.Before(loginTime) {
		end = loginTime
	}
	if !SameDay(loginTime, end, loc) {
		end = EndOfDay(loginTime, loc)
	}
	return Close{LogoutTime: end, DurationMinutes: DurationMinutes(loginTime, end)}
}

// DurationMinutes returns round((end - start) / 1m), clamped at zero.
func DurationMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Minutes()))
}
