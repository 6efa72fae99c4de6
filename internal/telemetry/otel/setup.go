// Package otel provides OpenTelemetry TracerProvider, MeterProvider, and LoggerProvider
// configured with OTLP exporters, plus the OTel-logs session event emitter.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// TimezoneKey records the zone that defines calendar days for the sessions this process reports on.
const TimezoneKey = attribute.Key("club.activity.timezone")

const defaultMetricInterval = 10 * time.Second

// Options describes this process to the collector.
type Options struct {
	// Endpoint is the OTLP gRPC collector. Empty yields providers that record nothing remotely.
	Endpoint string
	// Insecure forces plaintext even for https endpoints (OTEL_EXPORTER_OTLP_INSECURE).
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	// Environment is the deployment environment (APP_ENV). Empty reports "development".
	Environment string
	// Timezone is the APP_TIMEZONE name; empty omits the attribute.
	Timezone       string
	MetricInterval time.Duration
}

// Providers holds the OpenTelemetry providers and a shutdown function.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Resource       *resource.Resource
	Shutdown       func(context.Context) error
}

// Resource returns the resource attached to every span, metric and session event record.
func Resource(opts Options) *resource.Resource {
	env := strings.TrimSpace(opts.Environment)
	if env == "" {
		env = "development"
	}
	version := strings.TrimSpace(opts.ServiceVersion)
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(opts.ServiceName),
		semconv.ServiceVersionKey.String(version),
		semconv.DeploymentEnvironmentNameKey.String(env),
	}
	if tz := strings.TrimSpace(opts.Timezone); tz != "" {
		attrs = append(attrs, TimezoneKey.String(tz))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// NewProviders creates providers exporting via OTLP to opts.Endpoint. Without an endpoint the providers
// still carry the resource so session event records are attributed, and Shutdown is a no-op.
func NewProviders(ctx context.Context, opts Options) (*Providers, error) {
	res := Resource(opts)
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return &Providers{
			TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithResource(res)),
			MeterProvider:  metric.NewMeterProvider(metric.WithResource(res)),
			LoggerProvider: sdklog.NewLoggerProvider(sdklog.WithResource(res)),
			Resource:       res,
			Shutdown:       func(context.Context) error { return nil },
		}, nil
	}

	target, plaintext, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	plaintext = plaintext || opts.Insecure
	interval := opts.MetricInterval
	if interval <= 0 {
		interval = defaultMetricInterval
	}

	var chain shutdownChain

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(target)}
	if plaintext {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}
	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	chain = append(chain, tp.Shutdown)

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(target)}
	if plaintext {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = chain.shutdown(ctx)
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(interval))),
	)
	chain = append(chain, mp.Shutdown)

	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(target)}
	if plaintext {
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}
	logExp, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		_ = chain.shutdown(ctx)
		return nil, fmt.Errorf("otlp log exporter: %w", err)
	}
	// Session events go out through this provider; the batch is drained on shutdown.
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
	chain = append(chain, lp.Shutdown)

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		LoggerProvider: lp,
		Resource:       res,
		Shutdown:       chain.shutdown,
	}, nil
}

// parseEndpoint reduces an OTLP endpoint to the host:port gRPC dials. A bare host:port or an http
// URL is plaintext; https uses TLS. Paths are dropped.
func parseEndpoint(endpoint string) (target string, plaintext bool, err error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme != "https", nil
}

// shutdownChain shuts providers down in reverse creation order.
type shutdownChain []func(context.Context) error

func (c shutdownChain) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetGlobal sets the global TracerProvider and MeterProvider so instrumentation (otelgrpc on the health
// server) uses them. It does not set a global LoggerProvider; pass LoggerProvider to NewEventEmitter.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
}
