// Package processor wires storage, evaluation, polling, fan-out and the HTTP
// API into one running service.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/config"
	"sensorwatch/internal/handlers"
	"sensorwatch/internal/kafka"
	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
	"sensorwatch/internal/notifier"
	"sensorwatch/internal/poller"
	"sensorwatch/internal/sensor"
	"sensorwatch/internal/state"
	"sensorwatch/internal/storage"
	"sensorwatch/internal/stream"
	"sensorwatch/internal/worker"
)

// Processor is the high-level coordinator for polling, evaluating and alerting.
type Processor struct {
	cfg  *config.Config
	node string

	store      state.Store
	engine     *alerts.Engine
	source     *sensor.HTTPSource
	poller     *poller.Poller
	hub        *stream.Hub
	dispatcher *notifier.Dispatcher
	producer   *kafka.Producer
	workerPool *worker.Pool
	consumer   *kafka.Consumer
	httpServer *http.Server

	unsubscribe []func()
	ready       chan string
}

// New constructs a Processor with given config.
func New(cfg *config.Config) *Processor {
	return &Processor{
		cfg:   cfg,
		node:  nodeID(cfg.NodeID),
		ready: make(chan string, 1),
	}
}

// Ready yields the HTTP listen address once the server accepts connections.
func (p *Processor) Ready() <-chan string {
	return p.ready
}

// OpenEngine opens the configured storage and returns an engine whose
// history has been loaded from it. The caller closes the store.
func OpenEngine(ctx context.Context, cfg *config.Config) (*alerts.Engine, state.Store, error) {
	store, err := storage.Open(storage.Options{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
		Quota:   cfg.Storage.Quota,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	policy, err := alerts.ParseBreachPolicy(cfg.Alerts.BreachPolicy)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	history := alerts.NewNotificationLog(store, alerts.LogOptions{MaxEntries: cfg.Alerts.MaxEntries})
	if err := history.Load(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("load notification history: %w", err)
	}

	return alerts.NewEngine(alerts.NewThresholdStore(store), history, policy), store, nil
}

// Run starts background goroutines and blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Str("node", p.node).Msg("processor starting")

	if err := p.init(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize")
		p.close()
		return err
	}
	defer p.close()

	listener, err := net.Listen("tcp", p.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", p.cfg.HTTP.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", listener.Addr().String()).Msg("starting HTTP server")
		p.ready <- listener.Addr().String()
		if err := p.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return p.httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return p.hub.Run(gctx) })

	if p.source != nil {
		g.Go(func() error { return p.poller.Run(gctx) })
	}
	if p.dispatcher != nil {
		g.Go(func() error { return p.dispatcher.Run(gctx) })
	}
	if p.consumer != nil {
		g.Go(func() error { return p.consumer.Start(gctx) })
	}

	g.Go(func() error {
		p.reportStats(gctx)
		return nil
	})

	err = g.Wait()
	log.Info().Msg("processor stopped")
	return err
}

// init builds every component selected by the configuration.
func (p *Processor) init(ctx context.Context) error {
	log := logger.WithComponent("processor")

	engine, store, err := OpenEngine(ctx, p.cfg)
	if err != nil {
		return err
	}
	p.engine, p.store = engine, store
	log.Info().
		Str("backend", p.cfg.Storage.Backend).
		Str("policy", string(engine.Policy())).
		Int("history", engine.History().Count()).
		Msg("storage ready")

	if path := p.cfg.Alerts.ThresholdsFile; path != "" {
		inputs, err := alerts.LoadThresholdsFromFile(path)
		if err != nil {
			return err
		}
		if _, err := engine.Thresholds().Save(ctx, inputs); err != nil {
			return err
		}
		log.Info().Str("file", path).Msg("thresholds imported")
	}

	if err := p.initSource(); err != nil {
		return err
	}
	p.poller = poller.New(poller.Config{
		Source:       p.source,
		Processor:    engine,
		Identity:     p.cfg.Sensor.Identity,
		Interval:     p.cfg.Sensor.PollInterval,
		FetchTimeout: p.cfg.Sensor.Timeout,
	})

	p.hub = stream.NewHub(engine.History().Count)
	p.subscribe(p.hub.Subscriber())

	if err := p.initNotifier(); err != nil {
		return err
	}
	if err := p.initFanOut(); err != nil {
		return err
	}

	p.initHTTPServer()
	return nil
}

// initSource creates the HTTP reading source when polling is enabled
func (p *Processor) initSource() error {
	if !p.cfg.PollingEnabled() {
		log := logger.WithComponent("processor")
		log.Info().Msg("sensor polling disabled, readings accepted via POST /readings only")
		return nil
	}

	if p.cfg.Sensor.Identity == "" && p.cfg.Sensor.Token != "" {
		identity, err := sensor.IdentityFromToken(p.cfg.Sensor.Token)
		if err != nil {
			return fmt.Errorf("sensor identity: %w", err)
		}
		p.cfg.Sensor.Identity = identity
	}

	source, err := sensor.NewHTTPSource(sensor.HTTPConfig{
		BaseURL:          p.cfg.Sensor.APIURL,
		Token:            p.cfg.Sensor.Token,
		Timeout:          p.cfg.Sensor.Timeout,
		FailureThreshold: p.cfg.Sensor.FailureThreshold,
		OpenTimeout:      p.cfg.Sensor.OpenTimeout,
	})
	if err != nil {
		return err
	}
	p.source = source
	return nil
}

// initNotifier registers the webhook when configured
func (p *Processor) initNotifier() error {
	if p.cfg.Webhook.URL == "" {
		return nil
	}

	webhook, err := notifier.NewWebhookNotifier(notifier.WebhookConfig{
		URL:     p.cfg.Webhook.URL,
		Node:    p.node,
		Timeout: p.cfg.Webhook.Timeout,
	})
	if err != nil {
		return err
	}

	p.dispatcher = notifier.NewDispatcher(notifier.DispatcherConfig{
		RateLimit: notifier.RateLimitConfig{
			PerMinute: p.cfg.Webhook.PerMinute,
			Burst:     p.cfg.Webhook.Burst,
			Enabled:   true,
		},
		SendTimeout: p.cfg.Webhook.Timeout,
	})
	p.dispatcher.Register(webhook)
	p.subscribe(p.dispatcher.Subscriber())
	return nil
}

// initFanOut starts the Kafka producer, worker pool and reading consumer
func (p *Processor) initFanOut() error {
	if !p.cfg.FanOutEnabled() {
		return nil
	}
	log := logger.WithComponent("processor")
	kcfg := p.cfg.Kafka

	producer, err := kafka.NewProducer(kcfg.Brokers, kcfg.Topic, kcfg.Producer)
	if err != nil {
		return fmt.Errorf("failed to initialize producer: %w", err)
	}
	p.producer = producer
	log.Info().
		Strs("brokers", kcfg.Brokers).
		Str("topic", kcfg.Topic).
		Msg("kafka producer initialized")

	p.workerPool = worker.NewPool(worker.Config{
		Publisher:    producer,
		QueueSize:    kcfg.QueueSize,
		Workers:      kcfg.Producer.PoolSize,
		BatchSize:    kcfg.Producer.BatchSize,
		BatchTimeout: kcfg.Producer.BatchTimeout,
		Node:         p.node,
	})
	p.workerPool.Start()
	metrics.WorkerQueueCapacity.Set(float64(p.workerPool.QueueCap()))
	p.subscribe(p.workerPool.Subscriber())

	if kcfg.ReadingsTopic != "" {
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: kcfg.Brokers,
			Topic:   kcfg.ReadingsTopic,
			GroupID: kcfg.GroupID,
		}, p.poller)
		if err != nil {
			return fmt.Errorf("failed to initialize consumer: %w", err)
		}
		p.consumer = consumer
	}
	return nil
}

// initHTTPServer initializes the HTTP server with handlers
func (p *Processor) initHTTPServer() {
	checks := map[string]handlers.HealthCheck{
		"storage": func(ctx context.Context) error {
			_, err := p.store.Get(ctx, alerts.HistoryKey)
			if errors.Is(err, state.ErrNotFound) {
				return nil
			}
			return err
		},
	}
	if p.producer != nil {
		checks["kafka"] = p.producer.HealthCheck
	}
	if p.source != nil {
		checks["sensor"] = func(ctx context.Context) error {
			if s := p.source.State(); s == "open" {
				return fmt.Errorf("circuit %s: %w", s, sensor.ErrSourceUnavailable)
			}
			return nil
		}
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Engine:      p.engine,
		Readings:    p.poller,
		Stream:      p.hub,
		Checks:      checks,
		Stats:       func() interface{} { return p.Stats() },
		MaxBodySize: p.cfg.HTTP.MaxBodySize,
	})

	p.httpServer = &http.Server{
		Addr:         p.cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  p.cfg.HTTP.ReadTimeout,
		WriteTimeout: p.cfg.HTTP.WriteTimeout,
		IdleTimeout:  p.cfg.HTTP.IdleTimeout,
	}
}

func (p *Processor) subscribe(fn alerts.Subscriber) {
	p.unsubscribe = append(p.unsubscribe, p.engine.History().Subscribe(fn))
}

// close releases everything init created, in reverse dependency order
func (p *Processor) close() {
	log := logger.WithComponent("processor")

	for _, unsubscribe := range p.unsubscribe {
		unsubscribe()
	}
	p.unsubscribe = nil

	if p.consumer != nil {
		if err := p.consumer.Stop(); err != nil {
			log.Error().Err(err).Msg("consumer close error")
		}
	}

	if p.workerPool != nil {
		done := make(chan struct{})
		go func() {
			p.workerPool.Stop()
			close(done)
		}()
		select {
		case <-done:
			log.Info().Msg("workers stopped gracefully")
		case <-time.After(15 * time.Second):
			log.Warn().Msg("worker shutdown timeout - forcing exit")
		}
	}

	if p.producer != nil {
		log.Info().Msg("closing kafka producer")
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}

	if p.dispatcher != nil {
		if err := p.dispatcher.Close(); err != nil {
			log.Error().Err(err).Msg("notifier close error")
		}
	}

	if p.store != nil {
		if err := p.store.Close(); err != nil {
			log.Error().Err(err).Msg("storage close error")
		}
	}
}

// Stats collects the counters of every running component.
func (p *Processor) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"node":    p.node,
		"engine":  p.engine.Stats(),
		"poller":  p.poller.Stats(),
		"history": map[string]int{"count": p.engine.History().Count()},
	}
	if p.source != nil {
		stats["sensor"] = map[string]string{"breaker": p.source.State()}
	}
	if p.workerPool != nil {
		stats["worker"] = p.workerPool.Stats()
	}
	if p.producer != nil {
		stats["producer"] = p.producer.Stats()
	}
	if p.consumer != nil {
		stats["consumer"] = p.consumer.Stats()
	}
	if p.dispatcher != nil {
		stats["notifier"] = p.dispatcher.Stats()
	}
	return stats
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engineStats := p.engine.Stats()
			pollerStats := p.poller.Stats()

			event := log.Info().
				Uint64("evaluated", engineStats.Evaluated).
				Uint64("fired", engineStats.Fired).
				Uint64("suppressed", engineStats.Suppressed).
				Uint64("polls", pollerStats.Polls).
				Uint64("polls_skipped", pollerStats.Skipped).
				Int("history", p.engine.History().Count())

			if p.workerPool != nil {
				ws := p.workerPool.Stats()
				metrics.WorkerQueueSize.Set(float64(ws.Queued))
				event = event.
					Uint64("worker_processed", ws.Processed).
					Uint64("worker_failed", ws.Failed).
					Int("queue_size", ws.Queued)
			}
			event.Msg("stats")
		}
	}
}

func nodeID(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
