package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"sensorwatch/internal/config"
	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
	"sensorwatch/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
)

// Producer publishes alert envelopes to Kafka through a small pool of
// synchronous writers. Messages are keyed by metric.
type Producer struct {
	cfg     config.ProducerConfig
	brokers []string
	topic   string
	writers []*kafka.Writer
	pool    chan *kafka.Writer
	closed  atomic.Bool

	sent    atomic.Uint64
	failed  atomic.Uint64
	written atomic.Uint64
}

// NewProducer creates a producer for topic on brokers.
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}

	p := &Producer{
		cfg:     cfg,
		brokers: brokers,
		topic:   topic,
		writers: make([]*kafka.Writer, cfg.PoolSize),
		pool:    make(chan *kafka.Writer, cfg.PoolSize),
	}

	for i := range p.writers {
		w := &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  getCompression(cfg.Compression),
			// Retries are ours so they show up in logs and metrics.
			MaxAttempts: 1,
		}
		p.writers[i] = w
		p.pool <- w
	}

	return p, nil
}

func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// buildMessage serializes envelope into a message keyed by metric so the
// alerts of one metric stay ordered within a partition.
func buildMessage(envelope *models.Envelope) (kafka.Message, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	return kafka.Message{
		Key:   []byte(envelope.PartitionKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: "envelope_id", Value: []byte(envelope.ID)},
			{Key: "metric", Value: []byte(envelope.Alert.Metric)},
			{Key: "condition", Value: []byte(envelope.Alert.Condition)},
			{Key: "node", Value: []byte(envelope.Node)},
			{Key: "batch_id", Value: []byte(envelope.BatchID)},
		},
		Time: envelope.EmittedAt,
	}, nil
}

// Publish sends one envelope.
func (p *Producer) Publish(ctx context.Context, envelope *models.Envelope) error {
	return p.PublishBatch(ctx, []*models.Envelope{envelope})
}

// PublishBatch sends envelopes in one write. Envelopes that cannot be
// serialized are logged and counted as failed; the rest are still sent.
func (p *Producer) PublishBatch(ctx context.Context, envelopes []*models.Envelope) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	log := logger.WithComponent("kafka_producer")

	var serializeErr error
	messages := make([]kafka.Message, 0, len(envelopes))
	for _, env := range envelopes {
		msg, err := buildMessage(env)
		if err != nil {
			log.Error().Err(err).Str("envelope_id", env.ID).Msg("failed to serialize envelope")
			p.fail(1)
			serializeErr = err
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return serializeErr
	}

	writer, err := p.acquire(ctx)
	if err != nil {
		p.fail(len(messages))
		return err
	}
	defer p.release(writer)

	start := time.Now()
	err = p.writeWithRetry(ctx, writer, messages)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.fail(len(messages))
		return err
	}

	var bytes uint64
	for _, msg := range messages {
		bytes += uint64(len(msg.Value))
	}
	p.sent.Add(uint64(len(messages)))
	p.written.Add(bytes)
	metrics.KafkaPublishTotal.WithLabelValues("success").Add(float64(len(messages)))
	metrics.KafkaBytesWritten.Add(float64(bytes))

	log.Debug().
		Int("batch_size", len(messages)).
		Dur("duration", time.Since(start)).
		Msg("published alerts")
	return serializeErr
}

// writeWithRetry writes messages, backing off exponentially between attempts.
// Context errors are not retried.
func (p *Producer) writeWithRetry(ctx context.Context, writer *kafka.Writer, messages []kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	backoff := p.cfg.RetryBackoff
	attempts := p.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			metrics.KafkaPublishRetries.Inc()
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = writer.WriteMessages(ctx, messages...)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("batch_size", len(messages)).
			Dur("backoff", backoff).
			Msg("kafka write failed")
	}

	return fmt.Errorf("kafka write failed after %d attempts: %w", attempts, lastErr)
}

func (p *Producer) acquire(ctx context.Context) (*kafka.Writer, error) {
	select {
	case w := <-p.pool:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Producer) release(w *kafka.Writer) {
	p.pool <- w
}

func (p *Producer) fail(n int) {
	p.failed.Add(uint64(n))
	metrics.KafkaPublishTotal.WithLabelValues("failed").Add(float64(n))
}

// HealthCheck dials the brokers and succeeds as soon as one answers.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	var errs []error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}

// Close closes every writer. Pending writes are flushed by the writers.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns producer counters.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.sent.Load(),
		MessagesFailed: p.failed.Load(),
		BytesWritten:   p.written.Load(),
	}
}

// ProducerStats holds producer counters.
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
	BytesWritten   uint64 `json:"bytes_written"`
}
