package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
	"sensorwatch/internal/models"
	"sensorwatch/internal/sensor"
)

// ReadingSink accepts readings pushed by the consumer.
type ReadingSink interface {
	Ingest(ctx context.Context, r models.Reading) ([]models.AlertEvent, error)
}

// ConsumerConfig configures a reading consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// MaxWait bounds how long a fetch waits for new data (default 1s).
	MaxWait time.Duration
}

// Consumer reads sensor readings from a topic and feeds them to a sink.
// Each message value is one reading in the sensor API's JSON shape.
type Consumer struct {
	reader *kafka.Reader
	sink   ReadingSink
	now    func() time.Time

	consumed atomic.Uint64
	rejected atomic.Uint64
}

// NewConsumer creates a consumer group reader for cfg.Topic.
func NewConsumer(cfg ConsumerConfig, sink ReadingSink) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "sensorwatch"
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  cfg.MaxWait,
	})

	return &Consumer{reader: reader, sink: sink, now: time.Now}, nil
}

// Start consumes until ctx is done. Messages are committed after the sink
// has seen them, including rejected ones, so a bad reading is not redelivered.
func (c *Consumer) Start(ctx context.Context) error {
	log := logger.WithComponent("kafka_consumer")
	log.Info().Str("topic", c.reader.Config().Topic).Msg("reading consumer started")
	defer log.Info().Msg("reading consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			log.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("reading rejected")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
		}
	}
}

// handle decodes one message and passes the reading to the sink.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	receivedAt := msg.Time
	if receivedAt.IsZero() {
		receivedAt = c.now()
	}

	reading, err := sensor.DecodeReading(msg.Value, receivedAt)
	if err != nil {
		c.rejected.Add(1)
		metrics.ReadingsTotal.WithLabelValues("kafka", "rejected").Inc()
		return err
	}

	c.consumed.Add(1)
	metrics.ReadingsTotal.WithLabelValues("kafka", "accepted").Inc()

	_, err = c.sink.Ingest(ctx, reading)
	return err
}

// Stop closes the reader.
func (c *Consumer) Stop() error {
	return c.reader.Close()
}

// Stats returns consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Consumed: c.consumed.Load(),
		Rejected: c.rejected.Load(),
	}
}

// ConsumerStats holds consumer counters
type ConsumerStats struct {
	Consumed uint64 `json:"consumed"`
	Rejected uint64 `json:"rejected"`
}
