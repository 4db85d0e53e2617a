// Package alerts holds the threshold configuration, the breach evaluator and
// the notification history.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
	"sensorwatch/internal/models"
	"sensorwatch/internal/state"
)

// ErrPersist wraps every failure to write durable state.
var ErrPersist = errors.New("failed to persist")

// Threshold is the configured bound for one metric. An unset threshold is
// inert and never fires.
type Threshold struct {
	Metric    models.Metric    `json:"metric" yaml:"metric"`
	Value     float64          `json:"value" yaml:"value"`
	Condition models.Condition `json:"condition" yaml:"condition"`
	Set       bool             `json:"set" yaml:"set"`
}

// Inert returns the unset threshold for m with its default condition.
func Inert(m models.Metric) Threshold {
	return Threshold{Metric: m, Condition: m.DefaultCondition()}
}

// Thresholds maps each metric to its threshold.
type Thresholds map[models.Metric]Threshold

// DefaultThresholds returns all-inert thresholds.
func DefaultThresholds() Thresholds {
	t := make(Thresholds, len(models.Metrics))
	for _, m := range models.Metrics {
		t[m] = Inert(m)
	}
	return t
}

// For returns the threshold for m, or its inert default.
func (t Thresholds) For(m models.Metric) Threshold {
	if th, ok := t[m]; ok {
		return th
	}
	return Inert(m)
}

// ThresholdInput is a threshold as entered by a user: the value is free text.
type ThresholdInput struct {
	Value     string `json:"value" yaml:"value"`
	Condition string `json:"condition" yaml:"condition"`
}

// ParseThreshold converts user input for m into a Threshold. Empty or
// non-numeric values yield an unset threshold rather than an error.
func ParseThreshold(m models.Metric, in ThresholdInput) Threshold {
	th := Threshold{
		Metric:    m,
		Condition: models.ParseCondition(in.Condition, m.DefaultCondition()),
	}
	if v, ok := parseValue(in.Value); ok {
		th.Value = v
		th.Set = true
	}
	return th
}

func parseValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ThresholdStore reads and writes thresholds in a state.Store, two keys per
// metric: "<metric>Threshold" and "<metric>Condition".
type ThresholdStore struct {
	store state.Store
}

// NewThresholdStore creates a threshold store over s.
func NewThresholdStore(s state.Store) *ThresholdStore {
	return &ThresholdStore{store: s}
}

// Get returns the current configuration. Missing or malformed entries come
// back as inert thresholds with the metric's default condition.
func (ts *ThresholdStore) Get(ctx context.Context) (Thresholds, error) {
	out := make(Thresholds, len(models.Metrics))
	for _, m := range models.Metrics {
		value, _, err := state.GetString(ctx, ts.store, m.ThresholdKey())
		if err != nil {
			return nil, fmt.Errorf("read %s threshold: %w", m, err)
		}
		cond, _, err := state.GetString(ctx, ts.store, m.ConditionKey())
		if err != nil {
			return nil, fmt.Errorf("read %s condition: %w", m, err)
		}
		out[m] = ParseThreshold(m, ThresholdInput{Value: value, Condition: cond})
	}
	return out, nil
}

// Save parses and stores user input for all three metrics in one batch.
// Metrics absent from inputs are saved as unset. On failure nothing is
// written and the returned error wraps ErrPersist.
func (ts *ThresholdStore) Save(ctx context.Context, inputs map[models.Metric]ThresholdInput) (Thresholds, error) {
	parsed := make(Thresholds, len(models.Metrics))
	for _, m := range models.Metrics {
		parsed[m] = ParseThreshold(m, inputs[m])
	}
	if err := ts.SaveThresholds(ctx, parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// SaveThresholds stores already-typed thresholds.
func (ts *ThresholdStore) SaveThresholds(ctx context.Context, t Thresholds) error {
	log := logger.WithComponent("thresholds")

	mutations := make([]state.Mutation, 0, 2*len(models.Metrics))
	for _, m := range models.Metrics {
		th := t.For(m)
		cond := th.Condition
		if !cond.IsValid() {
			cond = m.DefaultCondition()
		}
		if th.Set && !math.IsNaN(th.Value) && !math.IsInf(th.Value, 0) {
			mutations = append(mutations, state.PutString(m.ThresholdKey(), models.FormatValue(th.Value)))
		} else {
			mutations = append(mutations, state.Remove(m.ThresholdKey()))
		}
		mutations = append(mutations, state.PutString(m.ConditionKey(), string(cond)))
	}

	if err := ts.store.Apply(ctx, mutations...); err != nil {
		log.Error().Err(err).Msg("failed to save thresholds")
		metrics.PersistFailuresTotal.WithLabelValues("thresholds").Inc()
		return fmt.Errorf("%w thresholds: %w", ErrPersist, err)
	}

	log.Info().Msg("thresholds saved")
	return nil
}

// Clear removes every stored threshold and condition.
func (ts *ThresholdStore) Clear(ctx context.Context) error {
	mutations := make([]state.Mutation, 0, 2*len(models.Metrics))
	for _, m := range models.Metrics {
		mutations = append(mutations, state.Remove(m.ThresholdKey()), state.Remove(m.ConditionKey()))
	}
	if err := ts.store.Apply(ctx, mutations...); err != nil {
		metrics.PersistFailuresTotal.WithLabelValues("thresholds").Inc()
		return fmt.Errorf("%w thresholds: %w", ErrPersist, err)
	}
	log := logger.WithComponent("thresholds")
	log.Info().Msg("thresholds cleared")
	return nil
}
