// Package worker batches alert envelopes and hands them to a Publisher.
package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
	"sensorwatch/internal/models"
)

// ErrQueueFull is returned by Submit when the queue has no room left.
var ErrQueueFull = errors.New("alert queue full")

// Publisher defines the interface for publishing envelopes
type Publisher interface {
	Publish(ctx context.Context, envelope *models.Envelope) error
	PublishBatch(ctx context.Context, envelopes []*models.Envelope) error
}

// Pool turns appended alert batches into envelopes and publishes them in
// batches from a fixed set of workers.
type Pool struct {
	publisher    Publisher
	queue        chan *models.Envelope
	workers      int
	batchSize    int
	batchTimeout time.Duration
	node         string

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Publisher    Publisher
	QueueSize    int
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
	// Node is stamped on every envelope.
	Node string
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		publisher:    cfg.Publisher,
		queue:        make(chan *models.Envelope, cfg.QueueSize),
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		node:         cfg.Node,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting worker pool")

	p.wg.Add(p.workers)
	for i := range p.workers {
		go p.worker(i)
	}
}

// Stop cancels the workers and waits until they have published everything
// still queued.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	log := logger.WithComponent("worker_pool")
	log.Info().Uint64("processed", p.processed.Load()).Msg("worker pool stopped")
}

// Submit wraps batch in envelopes sharing one batch id and queues them
// without blocking. Envelopes that do not fit are dropped.
func (p *Pool) Submit(batch []models.AlertEvent) error {
	batchID := uuid.New().String()
	for i, ev := range batch {
		envelope := models.NewEnvelope(ev, p.node).WithBatch(batchID, i)
		select {
		case p.queue <- envelope:
		default:
			dropped := len(batch) - i
			p.dropped.Add(uint64(dropped))
			metrics.WorkerFailedTotal.Add(float64(dropped))
			return ErrQueueFull
		}
	}
	metrics.WorkerQueueSize.Set(float64(len(p.queue)))
	return nil
}

// Subscriber returns a notification log subscriber that submits every
// appended batch.
func (p *Pool) Subscriber() alerts.Subscriber {
	return func(c alerts.Change) {
		if c.Kind != alerts.ChangeAppended {
			return
		}
		if err := p.Submit(c.Events); err != nil {
			log := logger.WithComponent("worker_pool")
			log.Warn().
				Err(err).
				Int("alerts", len(c.Events)).
				Msg("alert fan-out queue full")
		}
	}
}

// QueueLen returns the number of queued envelopes.
func (p *Pool) QueueLen() int {
	return len(p.queue)
}

// QueueCap returns the queue capacity.
func (p *Pool) QueueCap() int {
	return cap(p.queue)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
		}
	}()

	batch := make([]*models.Envelope, 0, p.batchSize)
	flush := func() {
		if len(batch) > 0 {
			p.publish(batch)
			batch = batch[:0]
		}
	}

	ticker := time.NewTicker(p.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			for {
				select {
				case env := <-p.queue:
					batch = append(batch, env)
					if len(batch) >= p.batchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return

		case env := <-p.queue:
			batch = append(batch, env)
			if len(batch) >= p.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// publish sends batch in one call and falls back to one call per envelope
// when that fails. Only envelopes that fail both ways count as failed.
func (p *Pool) publish(batch []*models.Envelope) {
	log := logger.WithComponent("worker")

	// Shutdown flushes after the pool context is cancelled.
	base := context.WithoutCancel(p.ctx)

	start := time.Now()
	ctx, cancel := context.WithTimeout(base, 10*time.Second)
	err := p.publisher.PublishBatch(ctx, batch)
	cancel()

	metrics.WorkerBatchPublishDuration.Observe(time.Since(start).Seconds())
	metrics.WorkerQueueSize.Set(float64(len(p.queue)))

	if err == nil {
		p.succeeded(len(batch))
		return
	}

	log.Warn().
		Err(err).
		Int("batch_size", len(batch)).
		Msg("batch publish failed, retrying envelopes one by one")

	for _, env := range batch {
		ctx, cancel := context.WithTimeout(base, 5*time.Second)
		err := p.publisher.Publish(ctx, env)
		cancel()

		if err != nil {
			log.Error().
				Err(err).
				Str("envelope_id", env.ID).
				Str("metric", string(env.Alert.Metric)).
				Msg("failed to publish alert")
			p.failed.Add(1)
			metrics.WorkerFailedTotal.Inc()
			continue
		}
		p.succeeded(1)
	}
}

func (p *Pool) succeeded(n int) {
	p.processed.Add(uint64(n))
	metrics.WorkerProcessedTotal.Add(float64(n))
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.queue),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}
