package models

import "strings"

// Metric identifies a monitored environmental quantity.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricMoisture    Metric = "moisture"
)

// Metrics lists every metric in evaluation order.
var Metrics = []Metric{MetricTemperature, MetricHumidity, MetricMoisture}

// IsValid checks if the metric is known
func (m Metric) IsValid() bool {
	switch m {
	case MetricTemperature, MetricHumidity, MetricMoisture:
		return true
	default:
		return false
	}
}

// Label returns the capitalized metric name used in alert messages.
func (m Metric) Label() string {
	if m == "" {
		return ""
	}
	return strings.ToUpper(string(m[:1])) + string(m[1:])
}

// Unit returns the display unit for the metric.
func (m Metric) Unit() string {
	if m == MetricTemperature {
		return "°C"
	}
	return "%"
}

// DefaultCondition returns the condition assumed when none is configured:
// an upper bound for temperature, a lower bound for humidity and moisture.
func (m Metric) DefaultCondition() Condition {
	if m == MetricTemperature {
		return ConditionExceeds
	}
	return ConditionBelow
}

// ThresholdKey is the storage key holding the metric's threshold value.
func (m Metric) ThresholdKey() string {
	return string(m) + "Threshold"
}

// ConditionKey is the storage key holding the metric's condition.
func (m Metric) ConditionKey() string {
	return string(m) + "Condition"
}

// Condition is the comparison applied between a reading and a threshold.
type Condition string

const (
	ConditionExceeds Condition = "exceeds"
	ConditionBelow   Condition = "below"
)

// IsValid checks if the condition is known
func (c Condition) IsValid() bool {
	return c == ConditionExceeds || c == ConditionBelow
}

// ParseCondition normalizes s, returning fallback when it is not a known condition.
func ParseCondition(s string, fallback Condition) Condition {
	c := Condition(strings.ToLower(strings.TrimSpace(s)))
	if c.IsValid() {
		return c
	}
	return fallback
}
