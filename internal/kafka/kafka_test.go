package kafka

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorwatch/internal/config"
	"sensorwatch/internal/models"
)

// skipIfNoKafka skips the test if Kafka is not available
func skipIfNoKafka(t *testing.T) {
	if os.Getenv("KAFKA_TEST") != "1" {
		t.Skip("Skipping Kafka integration test. Set KAFKA_TEST=1 to run.")
	}
}

func testEnvelope() *models.Envelope {
	alert := models.NewAlertEvent(models.MetricHumidity, models.ConditionBelow, 30, 22, time.Now().UTC())
	return models.NewEnvelope(alert, "test-node").WithBatch("batch-1", 0)
}

func TestNewProducer_Validation(t *testing.T) {
	cfg := config.Default().Kafka.Producer

	_, err := NewProducer(nil, "sensor-alerts", cfg)
	assert.Error(t, err)

	_, err = NewProducer([]string{"localhost:9092"}, "", cfg)
	assert.Error(t, err)

	p, err := NewProducer([]string{"localhost:9092"}, "sensor-alerts", cfg)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Publish(context.Background(), testEnvelope()), ErrProducerClosed)
	assert.ErrorIs(t, p.PublishBatch(context.Background(), []*models.Envelope{testEnvelope()}), ErrProducerClosed)
	assert.NoError(t, p.Close(), "second close is a no-op")
}

func TestGetCompression(t *testing.T) {
	assert.Equal(t, compress.Snappy, getCompression("snappy"))
	assert.Equal(t, compress.Zstd, getCompression("zstd"))
	assert.Equal(t, compress.None, getCompression("none"))
	assert.Equal(t, compress.None, getCompression(""))
}

func TestBuildMessage(t *testing.T) {
	env := testEnvelope()

	msg, err := buildMessage(env)
	require.NoError(t, err)

	assert.Equal(t, []byte("humidity"), msg.Key)
	assert.Equal(t, env.EmittedAt, msg.Time)
	assert.Contains(t, string(msg.Value), `"message":"Humidity below 30%"`)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, env.ID, headers["envelope_id"])
	assert.Equal(t, "humidity", headers["metric"])
	assert.Equal(t, "below", headers["condition"])
	assert.Equal(t, "test-node", headers["node"])
	assert.Equal(t, "batch-1", headers["batch_id"])
}

func TestProducerPublish(t *testing.T) {
	skipIfNoKafka(t)

	cfg := config.Default()
	producer, err := NewProducer([]string{"localhost:9092"}, cfg.Kafka.Topic, cfg.Kafka.Producer)
	require.NoError(t, err)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, producer.Publish(ctx, testEnvelope()))
	require.NoError(t, producer.PublishBatch(ctx, []*models.Envelope{testEnvelope(), testEnvelope()}))

	stats := producer.Stats()
	assert.Equal(t, uint64(3), stats.MessagesSent)
	assert.NoError(t, producer.HealthCheck(ctx))
}

type sinkFunc func(ctx context.Context, r models.Reading) ([]models.AlertEvent, error)

func (f sinkFunc) Ingest(ctx context.Context, r models.Reading) ([]models.AlertEvent, error) {
	return f(ctx, r)
}

func TestConsumerHandle(t *testing.T) {
	var got []models.Reading
	c := &Consumer{
		sink: sinkFunc(func(ctx context.Context, r models.Reading) ([]models.AlertEvent, error) {
			got = append(got, r)
			return nil, nil
		}),
		now: time.Now,
	}

	sent := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.handle(context.Background(), kafka.Message{
		Value: []byte(`{"temperature":"31.5","humidity":40,"moisture":35}`),
		Time:  sent,
	}))

	err := c.handle(context.Background(), kafka.Message{Value: []byte(`{"temperature":20}`)})
	assert.ErrorIs(t, err, models.ErrMissingMetric)

	err = c.handle(context.Background(), kafka.Message{Value: []byte(`not json`)})
	assert.Error(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, 31.5, got[0].Temperature)
	assert.Equal(t, sent, got[0].Timestamp, "message time stamps a reading without timestamp")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Consumed)
	assert.Equal(t, uint64(2), stats.Rejected)
}

func TestConsumerHandle_SinkError(t *testing.T) {
	boom := errors.New("persist failed")
	c := &Consumer{
		sink: sinkFunc(func(ctx context.Context, r models.Reading) ([]models.AlertEvent, error) {
			return nil, boom
		}),
		now: time.Now,
	}

	err := c.handle(context.Background(), kafka.Message{
		Value: []byte(`{"temperature":1,"humidity":2,"moisture":3}`),
	})
	assert.ErrorIs(t, err, boom)
}

func TestNewConsumer_Validation(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{Topic: "sensor-readings"}, nil)
	assert.Error(t, err)

	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)
}
