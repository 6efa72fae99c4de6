package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, CorrelationMemory, cfg.CorrelationBackend)
	assert.Equal(t, 50, cfg.ReconcileLimit)
	assert.Equal(t, 100, cfg.DuplicateScanLimit)
	assert.Equal(t, 10, cfg.CleanupBatchSize)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, "club-activity-events", cfg.ActivityKafkaTopic)
	assert.Equal(t, "club-activity-worker", cfg.KafkaGroupID)

	assert.Equal(t, 30*time.Minute, cfg.IdleTimeoutDuration())
	assert.Equal(t, 5*time.Minute, cfg.IdleCheckIntervalDuration())
	assert.Equal(t, time.Minute, cfg.ActivityFlushIntervalDuration())
	assert.Equal(t, 5*time.Second, cfg.BeaconTimeoutDuration())
	assert.Equal(t, 24*time.Hour, cfg.ReconcileIntervalDuration())
	assert.Equal(t, 100*time.Millisecond, cfg.CleanupBatchPauseDuration())
	assert.Equal(t, time.Hour, cfg.OperatorTokenTTLDuration())
	assert.Nil(t, cfg.KafkaBrokersList())
	assert.Nil(t, cfg.TrustedProxiesList())
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("APP_TIMEZONE", "Asia/Seoul")
	t.Setenv("RECONCILE_LIMIT", "200")
	t.Setenv("CLEANUP_BATCH_PAUSE", "0s")
	t.Setenv("IDLE_TIMEOUT", "45m")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, "Asia/Seoul", cfg.Location().String())
	assert.Equal(t, 200, cfg.ReconcileLimit)
	assert.Equal(t, time.Duration(0), cfg.CleanupBatchPauseDuration())
	assert.Equal(t, 45*time.Minute, cfg.IdleTimeoutDuration())
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokersList())
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.1"}, cfg.TrustedProxiesList())
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"production without database", map[string]string{"APP_ENV": "production"}},
		{"bad timezone", map[string]string{"APP_TIMEZONE": "Mars/Olympus"}},
		{"redis without url", map[string]string{"CORRELATION_BACKEND": "redis"}},
		{"unknown backend", map[string]string{"CORRELATION_BACKEND": "etcd"}},
		{"zero reconcile limit", map[string]string{"RECONCILE_LIMIT": "0"}},
		{"negative scan limit", map[string]string{"DUPLICATE_SCAN_LIMIT": "-1"}},
		{"zero batch size", map[string]string{"CLEANUP_BATCH_SIZE": "0"}},
		{"bcrypt too low", map[string]string{"BCRYPT_COST": "3"}},
		{"bcrypt too high", map[string]string{"BCRYPT_COST": "32"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), "config:")
		})
	}
}

func TestDurations_InvalidFallback(t *testing.T) {
	cfg := &Config{
		IdleTimeout:           "soon",
		IdleCheckInterval:     "-5m",
		ActivityFlushInterval: "",
		BeaconTimeout:         "0s",
		ReconcileInterval:     "daily",
		CleanupBatchPause:     "-1s",
		OperatorTokenTTL:      "x",
		Timezone:              "Nowhere/Land",
	}
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeoutDuration())
	assert.Equal(t, 5*time.Minute, cfg.IdleCheckIntervalDuration())
	assert.Equal(t, time.Minute, cfg.ActivityFlushIntervalDuration())
	assert.Equal(t, 5*time.Second, cfg.BeaconTimeoutDuration())
	assert.Equal(t, 24*time.Hour, cfg.ReconcileIntervalDuration())
	assert.Equal(t, 100*time.Millisecond, cfg.CleanupBatchPauseDuration())
	assert.Equal(t, time.Hour, cfg.OperatorTokenTTLDuration())
	assert.Equal(t, time.Local, cfg.Location())
}
