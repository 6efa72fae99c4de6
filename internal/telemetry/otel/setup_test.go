package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

func TestResource_Attributes(t *testing.T) {
	res := Resource(Options{
		ServiceName:    "club-activity",
		ServiceVersion: "1.4.2",
		Environment:    "production",
		Timezone:       "Asia/Seoul",
	})
	set := res.Set()

	name, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "club-activity", name.AsString())
	ver, ok := set.Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	assert.Equal(t, "1.4.2", ver.AsString())
	env, ok := set.Value(semconv.DeploymentEnvironmentNameKey)
	require.True(t, ok)
	assert.Equal(t, "production", env.AsString())
	tz, ok := set.Value(TimezoneKey)
	require.True(t, ok)
	assert.Equal(t, "Asia/Seoul", tz.AsString())
}

func TestResource_Defaults(t *testing.T) {
	set := Resource(Options{ServiceName: "club-activity"}).Set()

	ver, _ := set.Value(semconv.ServiceVersionKey)
	assert.Equal(t, "dev", ver.AsString())
	env, _ := set.Value(semconv.DeploymentEnvironmentNameKey)
	assert.Equal(t, "development", env.AsString())
	_, ok := set.Value(TimezoneKey)
	assert.False(t, ok)
}

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Options{Endpoint: endpoint, ServiceName: "club-activity", Environment: "test"})
		require.NoError(t, err)
		require.NotNil(t, providers)
		assert.NotNil(t, providers.TracerProvider)
		assert.NotNil(t, providers.MeterProvider)
		assert.NotNil(t, providers.LoggerProvider)
		env, ok := providers.Resource.Set().Value(semconv.DeploymentEnvironmentNameKey)
		require.True(t, ok)
		assert.Equal(t, "test", env.AsString())
		assert.NoError(t, providers.Shutdown(ctx))
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	testCases := []struct {
		name     string
		endpoint string
	}{
		{"invalid characters", "://invalid"},
		{"malformed URL", "http://[invalid"},
		{"missing host", "http://"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			providers, err := NewProviders(context.Background(), Options{Endpoint: tc.endpoint, ServiceName: "club-activity"})
			require.Error(t, err)
			assert.Nil(t, providers)
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	testCases := []struct {
		endpoint  string
		target    string
		plaintext bool
	}{
		{"localhost:4317", "localhost:4317", true},
		{"http://localhost:4317", "localhost:4317", true},
		{"https://collector.example.com:4317", "collector.example.com:4317", false},
		{"http://localhost:4317/v1/traces", "localhost:4317", true},
	}
	for _, tc := range testCases {
		t.Run(tc.endpoint, func(t *testing.T) {
			target, plaintext, err := parseEndpoint(tc.endpoint)
			require.NoError(t, err)
			assert.Equal(t, tc.target, target)
			assert.Equal(t, tc.plaintext, plaintext)
		})
	}
}

func TestNewProviders_Endpoints(t *testing.T) {
	for _, opts := range []Options{
		{Endpoint: "localhost:4317"},
		{Endpoint: "https://collector.example.com:4317"},
		{Endpoint: "https://collector.example.com:4317", Insecure: true},
	} {
		ctx := context.Background()
		opts.ServiceName = "club-activity"
		providers, err := NewProviders(ctx, opts)
		require.NoError(t, err)
		require.NotNil(t, providers)
		assert.NotNil(t, providers.LoggerProvider)
		_ = providers.Shutdown(ctx)
	}
}

func TestSetGlobal_WithProviders(t *testing.T) {
	oldTracerProvider := otel.GetTracerProvider()
	oldMeterProvider := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTracerProvider)
		otel.SetMeterProvider(oldMeterProvider)
	}()

	providers, err := NewProviders(context.Background(), Options{ServiceName: "club-activity"})
	require.NoError(t, err)
	providers.SetGlobal()

	assert.Same(t, providers.TracerProvider, otel.GetTracerProvider())
	assert.Same(t, providers.MeterProvider, otel.GetMeterProvider())
}
