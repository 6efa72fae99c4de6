package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePinger struct {
	err   atomic.Value
	calls atomic.Int32
}

func (p *fakePinger) PingContext(context.Context) error {
	p.calls.Add(1)
	if err, ok := p.err.Load().(error); ok {
		return err
	}
	return nil
}

type fakePolicy struct{ err error }

func (p fakePolicy) HealthCheck(context.Context) error { return p.err }

func status(t *testing.T, c *Checker, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.GRPCServer().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestChecker_NotServingUntilChecked(t *testing.T) {
	c := NewChecker(Options{Logger: slogtest.Make(t, nil)})
	assert.Error(t, c.Err())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c, ""))

	require.NoError(t, c.Check(context.Background()))
	assert.NoError(t, c.Err())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c, ServiceName))
}

func TestChecker_Failures(t *testing.T) {
	p := &fakePinger{}
	p.err.Store(errors.New("connection refused"))
	c := NewChecker(Options{
		Pinger:        p,
		PolicyChecker: fakePolicy{err: errors.New("no result")},
		Logger:        slogtest.Make(t, nil),
	})

	err := c.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database: connection refused")
	assert.Contains(t, err.Error(), "policy: no result")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c, ServiceName))
}

func TestChecker_RunTicks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	clk := quartz.NewMock(t)
	p := &fakePinger{}
	c := NewChecker(Options{Pinger: p, Clock: clk, Interval: 15 * time.Second, Logger: slogtest.Make(t, nil)})

	trap := clk.Trap().TickerFunc("health", "check")
	defer trap.Close()

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	trap.MustWait(ctx).MustRelease(ctx)
	assert.EqualValues(t, 1, p.calls.Load())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, c, ""))

	p.err.Store(errors.New("db down"))
	clk.Advance(15 * time.Second).MustWait(ctx)
	assert.EqualValues(t, 2, p.calls.Load())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, c, ""))

	stop()
	require.NoError(t, <-done)
}
