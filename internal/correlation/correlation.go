// Package correlation persists, per client profile, the identifiers of the session a user currently
// holds so a reopened client can find and close or resume it. Entries are keyed by user name inside a
// client namespace.
package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEntry is returned by Get when a stored value cannot be decoded into a usable Entry.
// Callers treat it like a miss and delete the key.
var ErrMalformedEntry = errors.New("correlation: malformed entry")

// Entry is the cached correlation value for one user.
type Entry struct {
	ID              int64      `json:"id"`
	SessionID       string     `json:"sessionId"`
	LoginTime       time.Time  `json:"loginTime"`
	LogoutTime      *time.Time `json:"logoutTime"`
	DurationMinutes *int       `json:"durationMinutes"`
	PageViews       int        `json:"pageViews"`
}

// Closed reports whether the entry records a finished session.
func (e *Entry) Closed() bool {
	return e.LogoutTime != nil
}

// Store is a small key-value cache of correlation entries. Get returns nil, nil on a miss.
type Store interface {
	Get(ctx context.Context, namespace, userName string) (*Entry, error)
	Set(ctx context.Context, namespace, userName string, entry *Entry) error
	Delete(ctx context.Context, namespace, userName string) error
}

func encode(e *Entry) ([]byte, error) {
	if e == nil {
		return nil, errors.New("correlation: nil entry")
	}
	return json.Marshal(e)
}

func decode(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if e.ID <= 0 || e.SessionID == "" || e.LoginTime.IsZero() {
		return nil, fmt.Errorf("%w: missing identifiers", ErrMalformedEntry)
	}
	return &e, nil
}

func validKey(namespace, userName string) error {
	if namespace == "" || userName == "" {
		return errors.New("correlation: namespace and user name are required")
	}
	return nil
}
