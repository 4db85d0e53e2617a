package models

import (
	"fmt"
	"strconv"
	"time"
)

// AlertEvent records one detected breach. Events are never mutated once
// created; the JSON field names match the persisted history format.
type AlertEvent struct {
	Message   string    `json:"message"`
	Metric    Metric    `json:"type"`
	Condition Condition `json:"condition"`
	Timestamp time.Time `json:"timestamp"`

	// Observed reading value and configured threshold, for diagnostics.
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// NewAlertEvent builds the event for metric m breaching threshold under cond.
func NewAlertEvent(m Metric, cond Condition, threshold, value float64, at time.Time) AlertEvent {
	return AlertEvent{
		Message:   AlertMessage(m, cond, threshold),
		Metric:    m,
		Condition: cond,
		Timestamp: at,
		Value:     value,
		Threshold: threshold,
	}
}

// AlertMessage renders e.g. "Temperature exceeds 30°C".
func AlertMessage(m Metric, cond Condition, threshold float64) string {
	return fmt.Sprintf("%s %s %s%s", m.Label(), cond, FormatValue(threshold), m.Unit())
}

// FormatValue prints v without trailing zeros.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
