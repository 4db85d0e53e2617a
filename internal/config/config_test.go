package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.FanOutEnabled())
	assert.False(t, cfg.PollingEnabled())
	assert.Equal(t, 5*time.Second, cfg.Sensor.PollInterval)
	assert.Equal(t, "every_tick", cfg.Alerts.BreachPolicy)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "sensor-alerts", cfg.Kafka.Topic)
	assert.Equal(t, -1, cfg.Kafka.Producer.RequiredAcks)
	assert.Equal(t, 100*time.Millisecond, cfg.Kafka.Producer.BatchTimeout)
	assert.Equal(t, 5*time.Second, cfg.Sensor.PollInterval)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("SENSOR_API_URL", "https://sensors.example.com")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("BREACH_POLICY", "once_per_breach")
	t.Setenv("NOTIFICATION_MAX_ENTRIES", "500")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_COMPRESSION", "zstd")
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/alerts")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 2*time.Second, cfg.Sensor.PollInterval)
	assert.Equal(t, "once_per_breach", cfg.Alerts.BreachPolicy)
	assert.Equal(t, 500, cfg.Alerts.MaxEntries)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "zstd", cfg.Kafka.Producer.Compression)
	assert.Equal(t, "https://hooks.example.com/alerts", cfg.Webhook.URL)
	assert.True(t, cfg.FanOutEnabled())
	assert.True(t, cfg.PollingEnabled())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown policy", "BREACH_POLICY", "sometimes"},
		{"unknown backend", "STORAGE_BACKEND", "redis"},
		{"bad sensor url", "SENSOR_API_URL", "not a url"},
		{"bad compression", "KAFKA_COMPRESSION", "brotli"},
		{"bad duration", "POLL_INTERVAL", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", "test")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
