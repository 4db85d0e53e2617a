package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status"},
	)

	// Reading metrics
	ReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorwatch_readings_total",
			Help: "Total number of readings received",
		},
		[]string{"source", "status"}, // source: poll, push, kafka; status: accepted, rejected, unavailable, empty
	)

	ReadingValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sensorwatch_reading_value",
			Help: "Latest accepted reading value per metric",
		},
		[]string{"metric"},
	)

	SourceFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sensorwatch_source_fetch_duration_seconds",
			Help:    "Time taken to fetch the latest reading from the sensor backend",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Alert metrics
	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorwatch_alerts_fired_total",
			Help: "Total number of alert events fired",
		},
		[]string{"metric", "condition"},
	)

	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorwatch_alerts_suppressed_total",
			Help: "Breaches suppressed by the breach policy",
		},
		[]string{"metric"},
	)

	NotificationLogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorwatch_notification_log_size",
			Help: "Current number of entries in the notification history",
		},
	)

	PersistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorwatch_persist_failures_total",
			Help: "Total number of failed writes to durable storage",
		},
		[]string{"target"}, // target: thresholds, notifications
	)

	// Fan-out metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorwatch_worker_queue_size",
			Help: "Current size of the alert publish queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorwatch_worker_queue_capacity",
			Help: "Capacity of the alert publish queue",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorwatch_worker_processed_total",
			Help: "Total number of alert envelopes published by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorwatch_worker_failed_total",
			Help: "Total number of alert envelopes workers failed to publish",
		},
	)

	WorkerBatchPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sensorwatch_worker_batch_publish_duration_seconds",
			Help:    "Time taken to publish a batch of alert envelopes",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorwatch_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sensorwatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish a batch to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorwatch_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorwatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorwatch_webhook_deliveries_total",
			Help: "Total number of webhook deliveries",
		},
		[]string{"status"}, // status: success, failed, rate_limited, dropped
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorwatch_stream_clients",
			Help: "Number of connected websocket clients",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
