package alerts

import (
	"fmt"
	"strings"
	"sync"

	"sensorwatch/internal/models"
)

// Evaluate compares r against t and returns one event per breached metric,
// in the order temperature, humidity, moisture. Comparisons are strict, so a
// value equal to its threshold never fires. The result depends only on the
// arguments; events carry the reading's timestamp.
func Evaluate(r models.Reading, t Thresholds) []models.AlertEvent {
	var events []models.AlertEvent
	for _, m := range models.Metrics {
		th := t.For(m)
		if !th.Set {
			continue
		}
		value := r.Value(m)
		if breached(value, th) {
			events = append(events, models.NewAlertEvent(m, th.Condition, th.Value, value, r.Timestamp))
		}
	}
	return events
}

func breached(value float64, th Threshold) bool {
	switch th.Condition {
	case models.ConditionExceeds:
		return value > th.Value
	case models.ConditionBelow:
		return value < th.Value
	default:
		return false
	}
}

// BreachPolicy decides whether a sustained breach fires on every evaluation.
type BreachPolicy string

const (
	// PolicyEveryTick fires an alert on every evaluation that breaches.
	PolicyEveryTick BreachPolicy = "every_tick"
	// PolicyOncePerBreach fires when a metric enters breach and re-arms
	// once it leaves breach or its threshold changes.
	PolicyOncePerBreach BreachPolicy = "once_per_breach"
)

// ParseBreachPolicy parses s; empty means PolicyEveryTick.
func ParseBreachPolicy(s string) (BreachPolicy, error) {
	switch p := BreachPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyEveryTick:
		return PolicyEveryTick, nil
	case PolicyOncePerBreach:
		return p, nil
	default:
		return "", fmt.Errorf("unknown breach policy %q", s)
	}
}

// PolicyFilter applies a BreachPolicy to successive evaluation results.
type PolicyFilter struct {
	policy BreachPolicy

	mu     sync.Mutex
	active map[models.Metric]episode
}

type episode struct {
	condition models.Condition
	threshold float64
}

// NewPolicyFilter creates a filter for policy.
func NewPolicyFilter(policy BreachPolicy) *PolicyFilter {
	return &PolicyFilter{
		policy: policy,
		active: make(map[models.Metric]episode),
	}
}

// Policy returns the configured policy.
func (f *PolicyFilter) Policy() BreachPolicy {
	return f.policy
}

// Filter returns the events that should be recorded and the metrics whose
// breach was suppressed.
func (f *PolicyFilter) Filter(events []models.AlertEvent) (kept []models.AlertEvent, suppressed []models.Metric) {
	if f.policy != PolicyOncePerBreach {
		return events, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	breaching := make(map[models.Metric]bool, len(events))
	for _, e := range events {
		breaching[e.Metric] = true
		ep := episode{condition: e.Condition, threshold: e.Threshold}
		if prev, ok := f.active[e.Metric]; ok && prev == ep {
			suppressed = append(suppressed, e.Metric)
			continue
		}
		f.active[e.Metric] = ep
		kept = append(kept, e)
	}

	for m := range f.active {
		if !breaching[m] {
			delete(f.active, m)
		}
	}
	return kept, suppressed
}

// Reset forgets every open breach episode.
func (f *PolicyFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = make(map[models.Metric]episode)
}
