package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Reading is one timestamped snapshot of all three metrics from a sensor.
type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Moisture    float64   `json:"moisture"`
	Timestamp   time.Time `json:"timestamp"`
}

// Validation errors
var (
	ErrMissingMetric    = errors.New("reading is missing a metric value")
	ErrNonFiniteValue   = errors.New("reading value must be a finite number")
	ErrZeroTimestamp    = errors.New("timestamp cannot be zero")
	ErrFutureTimestamp  = errors.New("timestamp cannot be in the future")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
)

// Value returns the reading's value for metric m.
func (r Reading) Value(m Metric) float64 {
	switch m {
	case MetricTemperature:
		return r.Temperature
	case MetricHumidity:
		return r.Humidity
	case MetricMoisture:
		return r.Moisture
	default:
		return math.NaN()
	}
}

// Validate checks that every metric is finite and the timestamp is usable
func (r Reading) Validate() error {
	for _, m := range Metrics {
		v := r.Value(m)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFiniteValue
		}
	}

	if r.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}

	if r.Timestamp.After(time.Now().Add(time.Minute)) {
		return ErrFutureTimestamp
	}

	return nil
}

// Normalize stamps a reading that arrived without a timestamp with receivedAt
// and converts the timestamp to UTC.
func (r *Reading) Normalize(receivedAt time.Time) {
	if r.Timestamp.IsZero() {
		r.Timestamp = receivedAt
	}
	r.Timestamp = r.Timestamp.UTC()
}

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}
