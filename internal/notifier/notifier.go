// Package notifier delivers alert batches to external channels.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
	"sensorwatch/internal/models"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g., "webhook").
	Name() string
	// Send delivers one batch of alerts.
	Send(ctx context.Context, batch []models.AlertEvent) error
	// Close releases any resources.
	Close() error
}

// ErrRateLimited is returned when a batch is dropped due to rate limiting.
var ErrRateLimited = errors.New("notification rate limited")

// ErrQueueFull is returned when the dispatcher cannot accept another batch.
var ErrQueueFull = errors.New("notification queue full")

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	PerMinute int  // Batches allowed per minute (default: 10)
	Burst     int  // Burst size (default: PerMinute)
	Enabled   bool // Whether rate limiting is enabled
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PerMinute: 10,
		Burst:     10,
		Enabled:   true,
	}
}

func newLimiter(cfg RateLimitConfig) *rate.Limiter {
	if !cfg.Enabled {
		return nil
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.PerMinute
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), cfg.Burst)
}

// Dispatcher fans alert batches out to the registered notifiers.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	limiter   *rate.Limiter
	queue     chan []models.AlertEvent
	timeout   time.Duration

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	RateLimit RateLimitConfig
	QueueSize int
	// SendTimeout bounds a single batch delivery (default 10s).
	SendTimeout time.Duration
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		notifiers: make(map[string]Notifier),
		limiter:   newLimiter(cfg.RateLimit),
		queue:     make(chan []models.AlertEvent, cfg.QueueSize),
		timeout:   cfg.SendTimeout,
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Len returns the number of registered notifiers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.notifiers)
}

// Subscriber returns a notification log subscriber that queues every
// appended batch for delivery.
func (d *Dispatcher) Subscriber() alerts.Subscriber {
	return func(c alerts.Change) {
		if c.Kind != alerts.ChangeAppended {
			return
		}
		if err := d.Enqueue(c.Events); err != nil {
			log := logger.WithComponent("notifier")
			log.Warn().
				Err(err).
				Int("alerts", len(c.Events)).
				Msg("dropping alert batch")
		}
	}
}

// Enqueue queues batch without blocking.
func (d *Dispatcher) Enqueue(batch []models.AlertEvent) error {
	select {
	case d.queue <- batch:
		return nil
	default:
		d.dropped.Add(1)
		metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// Run delivers queued batches until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := logger.WithComponent("notifier")
	log.Info().Int("notifiers", d.Len()).Msg("notification dispatcher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("notification dispatcher stopped")
			return nil
		case batch := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			err := d.Dispatch(sendCtx, batch)
			cancel()
			if err != nil {
				log.Warn().Err(err).Int("alerts", len(batch)).Msg("alert batch not delivered")
			}
		}
	}
}

// Dispatch sends batch to every registered notifier.
// Returns ErrRateLimited if the batch is dropped due to rate limiting.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []models.AlertEvent) error {
	if len(batch) == 0 {
		return nil
	}

	if d.limiter != nil && !d.limiter.Allow() {
		d.dropped.Add(1)
		metrics.WebhookDeliveriesTotal.WithLabelValues("rate_limited").Inc()
		return ErrRateLimited
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Send(ctx, batch); err != nil {
			d.failed.Add(1)
			metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		d.sent.Add(1)
		metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	}

	return errors.Join(errs...)
}

// Stats returns dispatcher statistics
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
		Queued:  len(d.queue),
	}
}

// Stats holds dispatcher counters
type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)
	return errors.Join(errs...)
}
