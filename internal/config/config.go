// Package config holds runtime configuration for sensorwatch.
//
// Values are resolved in this order, highest first:
//
//	CLI flags -> OS environment -> .env file -> struct defaults
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the service.
type Config struct {
	Env      string `envconfig:"ENV" default:"development" validate:"oneof=development production test"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	// NodeID tags fan-out envelopes; empty means the hostname.
	NodeID string `envconfig:"NODE_ID"`

	HTTP    HTTPConfig
	Storage StorageConfig
	Sensor  SensorConfig
	Alerts  AlertsConfig
	Kafka   KafkaConfig
	Webhook WebhookConfig
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr         string        `envconfig:"HTTP_ADDR" default:":8080" validate:"required"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	MaxBodySize  int64         `envconfig:"HTTP_MAX_BODY_SIZE" default:"1048576" validate:"gt=0"`
}

// StorageConfig selects where thresholds and history are kept.
type StorageConfig struct {
	Backend string `envconfig:"STORAGE_BACKEND" default:"sqlite" validate:"oneof=sqlite memory"`
	Path    string `envconfig:"STORAGE_PATH" default:"sensorwatch.db" validate:"required_if=Backend sqlite"`
	// Quota caps the memory backend in bytes; 0 is unlimited.
	Quota int `envconfig:"STORAGE_QUOTA" default:"0" validate:"min=0"`
}

// SensorConfig configures the polled reading source.
type SensorConfig struct {
	// APIURL is the sensor backend; polling is disabled when empty.
	APIURL   string `envconfig:"SENSOR_API_URL" validate:"omitempty,url"`
	Token    string `envconfig:"SENSOR_API_TOKEN"`
	Identity string `envconfig:"SENSOR_IDENTITY"`

	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"5s" validate:"gt=0"`
	Timeout          time.Duration `envconfig:"SENSOR_API_TIMEOUT" default:"4s" validate:"gt=0"`
	FailureThreshold uint32        `envconfig:"SENSOR_BREAKER_FAILURES" default:"5" validate:"min=1"`
	OpenTimeout      time.Duration `envconfig:"SENSOR_BREAKER_OPEN_TIMEOUT" default:"30s"`
}

// AlertsConfig holds evaluation and history settings.
type AlertsConfig struct {
	BreachPolicy string `envconfig:"BREACH_POLICY" default:"every_tick" validate:"oneof=every_tick once_per_breach"`
	MaxEntries   int    `envconfig:"NOTIFICATION_MAX_ENTRIES" default:"0" validate:"min=0"`
	// ThresholdsFile is imported at startup when set.
	ThresholdsFile string `envconfig:"THRESHOLDS_FILE"`
}

// KafkaConfig holds alert fan-out settings; fan-out is disabled without brokers.
type KafkaConfig struct {
	Brokers   []string `envconfig:"KAFKA_BROKERS"`
	Topic     string   `envconfig:"KAFKA_TOPIC" default:"sensor-alerts" validate:"required"`
	QueueSize int      `envconfig:"ALERT_QUEUE_SIZE" default:"1000" validate:"gt=0"`

	// ReadingsTopic, when set, is consumed as an additional reading source.
	ReadingsTopic string `envconfig:"KAFKA_READINGS_TOPIC"`
	GroupID       string `envconfig:"KAFKA_GROUP_ID" default:"sensorwatch"`

	Producer ProducerConfig
}

// ProducerConfig tunes the Kafka writers.
type ProducerConfig struct {
	PoolSize     int           `envconfig:"KAFKA_POOL_SIZE" default:"2" validate:"gt=0"`
	BatchSize    int           `envconfig:"KAFKA_BATCH_SIZE" default:"100" validate:"gt=0"`
	BatchTimeout time.Duration `envconfig:"KAFKA_BATCH_TIMEOUT" default:"100ms"`
	WriteTimeout time.Duration `envconfig:"KAFKA_WRITE_TIMEOUT" default:"10s"`
	RequiredAcks int           `envconfig:"KAFKA_REQUIRED_ACKS" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string        `envconfig:"KAFKA_COMPRESSION" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	MaxRetries   int           `envconfig:"KAFKA_MAX_RETRIES" default:"3" validate:"min=0"`
	RetryBackoff time.Duration `envconfig:"KAFKA_RETRY_BACKOFF" default:"100ms"`
}

// WebhookConfig configures the alert webhook; disabled when URL is empty.
type WebhookConfig struct {
	URL       string        `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	PerMinute int           `envconfig:"WEBHOOK_RATE_PER_MINUTE" default:"10" validate:"gt=0"`
	Burst     int           `envconfig:"WEBHOOK_BURST" default:"5" validate:"gt=0"`
	Timeout   time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		Env:      "development",
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodySize:  1 << 20,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "sensorwatch.db",
		},
		Sensor: SensorConfig{
			PollInterval:     5 * time.Second,
			Timeout:          4 * time.Second,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Alerts: AlertsConfig{
			BreachPolicy: "every_tick",
		},
		Kafka: KafkaConfig{
			Topic:     "sensor-alerts",
			QueueSize: 1000,
			GroupID:   "sensorwatch",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    100,
				BatchTimeout: 100 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		Webhook: WebhookConfig{
			PerMinute: 10,
			Burst:     5,
			Timeout:   10 * time.Second,
		},
	}
}

// Load reads an optional .env file and the environment into a validated Config.
func Load() (*Config, error) {
	// A missing .env file is fine; it never overrides the real environment.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of c.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// FanOutEnabled reports whether alerts are published to Kafka.
func (c *Config) FanOutEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// PollingEnabled reports whether the sensor backend is polled.
func (c *Config) PollingEnabled() bool {
	return c.Sensor.APIURL != ""
}
