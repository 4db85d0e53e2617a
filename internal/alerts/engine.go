package alerts

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
	"sensorwatch/internal/models"
)

// Engine runs one reading through the evaluator and records the result.
type Engine struct {
	thresholds *ThresholdStore
	history    *NotificationLog
	filter     *PolicyFilter

	// mu serializes Process so batches are appended in the order the
	// policy filter saw them.
	mu sync.Mutex

	evaluated  atomic.Uint64
	fired      atomic.Uint64
	suppressed atomic.Uint64
}

// NewEngine wires the threshold store and notification log together.
func NewEngine(thresholds *ThresholdStore, history *NotificationLog, policy BreachPolicy) *Engine {
	return &Engine{
		thresholds: thresholds,
		history:    history,
		filter:     NewPolicyFilter(policy),
	}
}

// Process evaluates r against the stored thresholds and appends the fired
// events to the notification log as one batch. The reading must already be
// validated. When the history cannot be persisted the events are still
// returned together with an error wrapping ErrPersist. Concurrent calls are
// serialized.
func (e *Engine) Process(ctx context.Context, r models.Reading) ([]models.AlertEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.thresholds.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}

	e.evaluated.Add(1)
	events, suppressed := e.filter.Filter(Evaluate(r, t))

	for _, m := range suppressed {
		metrics.AlertsSuppressedTotal.WithLabelValues(string(m)).Inc()
	}
	e.suppressed.Add(uint64(len(suppressed)))

	if len(events) == 0 {
		return nil, nil
	}

	log := logger.WithComponent("engine")
	for _, ev := range events {
		metrics.AlertsFiredTotal.WithLabelValues(string(ev.Metric), string(ev.Condition)).Inc()
		log.Info().
			Str("metric", string(ev.Metric)).
			Str("condition", string(ev.Condition)).
			Float64("value", ev.Value).
			Float64("threshold", ev.Threshold).
			Msg(ev.Message)
	}
	e.fired.Add(uint64(len(events)))

	if err := e.history.Append(ctx, events); err != nil {
		return events, err
	}
	return events, nil
}

// Thresholds returns the engine's threshold store.
func (e *Engine) Thresholds() *ThresholdStore {
	return e.thresholds
}

// History returns the engine's notification log.
func (e *Engine) History() *NotificationLog {
	return e.history
}

// Policy returns the breach policy in effect.
func (e *Engine) Policy() BreachPolicy {
	return e.filter.Policy()
}

// ResetEpisodes re-arms every metric under PolicyOncePerBreach.
func (e *Engine) ResetEpisodes() {
	e.filter.Reset()
}

// Stats returns engine statistics
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Evaluated:  e.evaluated.Load(),
		Fired:      e.fired.Load(),
		Suppressed: e.suppressed.Load(),
	}
}

// EngineStats holds engine counters
type EngineStats struct {
	Evaluated  uint64 `json:"evaluated"`
	Fired      uint64 `json:"fired"`
	Suppressed uint64 `json:"suppressed"`
}
