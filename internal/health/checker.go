// Package health tracks readiness of the tracking backend (database and admin policy engine) and
// publishes it through the standard gRPC health service and the HTTP /healthz route.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the overall ("") status.
const ServiceName = "club.activity"

// Pinger is used for database readiness (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for policy engine readiness (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options configures a Checker. Nil Pinger or PolicyChecker skips that check.
type Options struct {
	Pinger        Pinger
	PolicyChecker PolicyChecker
	Clock         quartz.Clock
	// Interval is the period of background checks. Defaults to 15s.
	Interval time.Duration
	// Timeout bounds one check. Defaults to 3s.
	Timeout time.Duration
	Logger  slog.Logger
}

// Checker runs readiness checks and mirrors the result into a gRPC health server.
type Checker struct {
	opts Options
	srv  *grpchealth.Server

	mu      sync.Mutex
	lastErr error
	checked bool
}

func NewChecker(opts Options) *Checker {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	opts.Logger = opts.Logger.Named("health")
	srv := grpchealth.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Checker{opts: opts, srv: srv}
}

// GRPCServer returns the grpc.health.v1.Health implementation to register on a gRPC server.
func (c *Checker) GRPCServer() healthpb.HealthServer {
	return c.srv
}

// Check runs every configured check once, records the outcome and returns it.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var errs []error
	if c.opts.Pinger != nil {
		if err := c.opts.Pinger.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if c.opts.PolicyChecker != nil {
		if err := c.opts.PolicyChecker.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("policy: %w", err))
		}
	}
	err := errors.Join(errs...)

	c.mu.Lock()
	changed := !c.checked || (err == nil) != (c.lastErr == nil)
	c.lastErr, c.checked = err, true
	c.mu.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.srv.SetServingStatus("", status)
	c.srv.SetServingStatus(ServiceName, status)
	if changed {
		if err != nil {
			c.opts.Logger.Warn(ctx, "not ready", slog.Error(err))
		} else {
			c.opts.Logger.Info(ctx, "ready")
		}
	}
	return err
}

// Err returns the outcome of the last check; before the first check it reports not ready.
func (c *Checker) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.checked {
		return errors.New("not checked yet")
	}
	return c.lastErr
}

// Run checks immediately and then every Interval until ctx is done. It always returns nil.
func (c *Checker) Run(ctx context.Context) error {
	_ = c.Check(ctx)
	w := c.opts.Clock.TickerFunc(ctx, c.opts.Interval, func() error {
		_ = c.Check(ctx)
		return nil
	}, "health", "check")
	if err := w.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown marks every service NOT_SERVING so load balancers drain before the servers stop.
func (c *Checker) Shutdown() {
	c.srv.Shutdown()
}
