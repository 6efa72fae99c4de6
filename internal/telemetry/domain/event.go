package domain

import "time"

// EventType names a session lifecycle transition.
type EventType string

const (
	EventSessionOpened    EventType = "session_opened"
	EventPageView         EventType = "page_view"
	EventSessionClosed    EventType = "session_closed"
	EventStaleReconciled  EventType = "stale_reconciled"
	EventDuplicateRemoved EventType = "duplicate_removed"
)

// Event is a session lifecycle event shipped to Kafka and OTel logs. The JSON form is the Kafka
// message value consumed by the worker.
type Event struct {
	Type            EventType `json:"eventType"`
	Source          string    `json:"source"` // server, reconciler, collapser
	ClientID        string    `json:"clientId,omitempty"`
	ID              int64     `json:"id,omitempty"`
	SessionID       string    `json:"sessionId,omitempty"`
	UserName        string    `json:"userName,omitempty"`
	DeviceType      string    `json:"deviceType,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	DurationMinutes *int      `json:"durationMinutes,omitempty"`
	PageViews       int       `json:"pageViews,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
