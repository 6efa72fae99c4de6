package engine

import (
	"context"
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "", slogtest.Make(t, nil))
	require.NoError(t, err)
	require.NoError(t, e.HealthCheck(context.Background()))
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "", slogtest.Make(t, nil))
	require.NoError(t, err)

	testCases := []struct {
		role   string
		action string
		want   bool
	}{
		{"operator", ActionReadStats, true},
		{"operator", ActionRunCleanup, true},
		{"viewer", ActionReadStats, true},
		{"viewer", ActionRunCleanup, false},
		{"", ActionReadStats, false},
		{"member", ActionReadStats, false},
	}
	for _, tc := range testCases {
		t.Run(tc.role+"/"+tc.action, func(t *testing.T) {
			ok, err := e.Authorize(ctx, Request{Subject: "desk", Role: tc.role, Action: tc.action})
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	policy := `package club.activity.admin

default allow := false

allow if {
	input.operator.subject == "night-shift"
	input.action == "cleanup.run"
}
`
	e, err := NewOPAEvaluator(ctx, policy, slogtest.Make(t, nil))
	require.NoError(t, err)

	ok, err := e.Authorize(ctx, Request{Subject: "night-shift", Role: "viewer", Action: ActionRunCleanup})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Authorize(ctx, Request{Subject: "day-shift", Role: "operator", Action: ActionRunCleanup})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	_, err := NewOPAEvaluator(context.Background(), "package broken\nallow if {", slogtest.Make(t, nil))
	assert.Error(t, err)
}
