// Package poller periodically fetches the latest sensor reading and feeds it
// to the alert engine.
package poller

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
	"sensorwatch/internal/models"
	"sensorwatch/internal/sensor"
)

// DefaultInterval is the polling period.
const DefaultInterval = 5 * time.Second

// Processor consumes validated readings.
type Processor interface {
	Process(ctx context.Context, r models.Reading) ([]models.AlertEvent, error)
}

// Config holds poller configuration
type Config struct {
	Source    sensor.Source
	Processor Processor
	Identity  string
	Interval  time.Duration
	// FetchTimeout bounds a single fetch (default: the interval).
	FetchTimeout time.Duration
}

// Poller drives the fetch, evaluate, record loop on a fixed tick.
type Poller struct {
	source       sensor.Source
	processor    Processor
	identity     string
	interval     time.Duration
	fetchTimeout time.Duration

	mu     sync.RWMutex
	latest *models.Reading

	polls   atomic.Uint64
	skipped atomic.Uint64
	alerts  atomic.Uint64
}

// New creates a poller
func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = cfg.Interval
	}
	return &Poller{
		source:       cfg.Source,
		processor:    cfg.Processor,
		identity:     cfg.Identity,
		interval:     cfg.Interval,
		fetchTimeout: cfg.FetchTimeout,
	}
}

// Run polls once immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	log := logger.WithComponent("poller")
	log.Info().
		Dur("interval", p.interval).
		Str("identity", p.identity).
		Msg("poller started")
	defer log.Info().Msg("poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick performs a single fetch and evaluation. Fetch failures skip the
// evaluation; the next tick is the retry.
func (p *Poller) Tick(ctx context.Context) {
	log := logger.WithComponent("poller")

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("poll panic recovered")
			metrics.PanicsRecovered.WithLabelValues("poller").Inc()
		}
	}()

	p.polls.Add(1)

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	reading, err := p.source.FetchLatest(fetchCtx, p.identity)
	cancel()

	if err != nil {
		p.skipped.Add(1)
		status := "unavailable"
		if errors.Is(err, sensor.ErrNoReading) {
			status = "empty"
		}
		metrics.ReadingsTotal.WithLabelValues("poll", status).Inc()
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("no reading this tick, skipping evaluation")
		}
		return
	}

	events, err := p.Ingest(ctx, reading)
	if err != nil {
		log.Error().Err(err).Msg("failed to process reading")
		return
	}
	metrics.ReadingsTotal.WithLabelValues("poll", "accepted").Inc()

	log.Debug().
		Float64("temperature", reading.Temperature).
		Float64("humidity", reading.Humidity).
		Float64("moisture", reading.Moisture).
		Int("alerts", len(events)).
		Msg("reading evaluated")
}

// Ingest validates r, records it as the latest reading and evaluates it.
// Pushed readings enter here as well as polled ones.
func (p *Poller) Ingest(ctx context.Context, r models.Reading) ([]models.AlertEvent, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	p.Observe(r)

	events, err := p.processor.Process(ctx, r)
	p.alerts.Add(uint64(len(events)))
	return events, err
}

// Observe records r as the latest reading.
func (p *Poller) Observe(r models.Reading) {
	for _, m := range models.Metrics {
		metrics.ReadingValue.WithLabelValues(string(m)).Set(r.Value(m))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil || !r.Timestamp.Before(p.latest.Timestamp) {
		latest := r
		p.latest = &latest
	}
}

// Latest returns the most recent reading, if any.
func (p *Poller) Latest() (models.Reading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return models.Reading{}, false
	}
	return *p.latest, true
}

// Stats returns poller statistics
func (p *Poller) Stats() Stats {
	return Stats{
		Polls:   p.polls.Load(),
		Skipped: p.skipped.Load(),
		Alerts:  p.alerts.Load(),
	}
}

// Stats holds poller counters
type Stats struct {
	Polls   uint64 `json:"polls"`
	Skipped uint64 `json:"skipped"`
	Alerts  uint64 `json:"alerts"`
}

var _ Processor = (*alerts.Engine)(nil)
