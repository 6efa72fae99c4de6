package otel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"club-manager/backend/internal/telemetry/domain"
)

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
	n   int
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.rec = rec
	r.n++
}

func attrs(rec otellog.Record) map[string]otellog.Value {
	out := make(map[string]otellog.Value)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value
		return true
	})
	return out
}

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	require.NotNil(t, em)
	assert.NoError(t, em.Emit(context.Background(), nil))
	assert.NoError(t, em.Emit(context.Background(), &domain.Event{Type: domain.EventPageView}))
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	assert.NoError(t, em.Emit(context.Background(), nil))
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	dur := 47
	created := time.Date(2024, 3, 1, 10, 47, 0, 0, time.UTC)
	event := &domain.Event{
		Type:            domain.EventSessionClosed,
		Source:          "server",
		ID:              7,
		SessionID:       "session_1709286000000_abc123def",
		UserName:        "kim",
		DeviceType:      "mobile",
		Reason:          "logout",
		DurationMinutes: &dur,
		CreatedAt:       created,
	}
	require.NoError(t, em.Emit(context.Background(), event))
	require.Equal(t, 1, capture.n)
	rec := capture.rec

	assert.True(t, rec.Timestamp().Equal(created))
	var body domain.Event
	require.NoError(t, json.Unmarshal(rec.Body().AsBytes(), &body))
	assert.Equal(t, "kim", body.UserName)

	a := attrs(rec)
	assert.Equal(t, "session_closed", a["event_type"].AsString())
	assert.Equal(t, "server", a["source"].AsString())
	assert.Equal(t, "kim", a["user_name"].AsString())
	assert.Equal(t, "mobile", a["device_type"].AsString())
	assert.Equal(t, "logout", a["reason"].AsString())
	assert.Equal(t, int64(7), a["session_row_id"].AsInt64())
	assert.Equal(t, int64(47), a["duration_minutes"].AsInt64())
}

func TestEmit_ZeroTimestamp_SetsCurrentTime(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	before := time.Now().UTC()
	require.NoError(t, em.Emit(context.Background(), &domain.Event{Type: domain.EventSessionOpened}))
	after := time.Now().UTC()

	ts := capture.rec.Timestamp()
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))

	a := attrs(capture.rec)
	_, hasReason := a["reason"]
	assert.False(t, hasReason)
	_, hasDuration := a["duration_minutes"]
	assert.False(t, hasDuration)
}
