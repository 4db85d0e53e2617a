// Package sensor fetches readings from the sensor backend and validates them
// at the boundary.
package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"sensorwatch/internal/metrics"
	"sensorwatch/internal/models"
)

var (
	// ErrSourceUnavailable means the backend could not produce data; the
	// message mirrors what the dashboard shows.
	ErrSourceUnavailable = errors.New("no sensor connected")
	// ErrNoReading means the backend answered with an empty history.
	ErrNoReading = errors.New("no sensor reading available")
)

// Source yields the most recent reading for a user.
type Source interface {
	FetchLatest(ctx context.Context, identity string) (models.Reading, error)
}

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	// MaxBodySize bounds the response body (default 1MB).
	MaxBodySize int64
	// FailureThreshold opens the breaker after this many consecutive failures (default 5).
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open (default 30s).
	OpenTimeout time.Duration
}

// HTTPSource reads GET {BaseURL}/sensor-data, a JSON array of readings
// ordered newest first.
type HTTPSource struct {
	endpoint    string
	token       string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[[]byte]
	maxBodySize int64
	now         func() time.Time
}

// NewHTTPSource creates a source for cfg.BaseURL.
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid sensor API URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1 << 20
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "sensor-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &HTTPSource{
		endpoint:    base.String() + "/sensor-data",
		token:       strings.TrimPrefix(cfg.Token, "Bearer "),
		client:      &http.Client{Timeout: cfg.Timeout},
		breaker:     cb,
		maxBodySize: cfg.MaxBodySize,
		now:         time.Now,
	}, nil
}

// FetchLatest returns the first reading of the backend's history. Transport
// failures, non-2xx answers, an open breaker and undecodable bodies all
// yield an error wrapping ErrSourceUnavailable.
func (s *HTTPSource) FetchLatest(ctx context.Context, identity string) (models.Reading, error) {
	start := time.Now()
	body, err := s.breaker.Execute(func() ([]byte, error) {
		return s.get(ctx, identity)
	})
	metrics.SourceFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	// Only the newest element is decoded; older rows may be malformed.
	var history []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &history); err != nil {
		return models.Reading{}, fmt.Errorf("%w: decode readings: %w", ErrSourceUnavailable, err)
	}
	if len(history) == 0 {
		return models.Reading{}, ErrNoReading
	}

	reading, err := DecodeReading(history[0], s.now())
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return reading, nil
}

// State reports the circuit breaker state.
func (s *HTTPSource) State() string {
	return s.breaker.State().String()
}

func (s *HTTPSource) get(ctx context.Context, identity string) ([]byte, error) {
	endpoint := s.endpoint
	if identity != "" {
		endpoint += "?" + url.Values{"user": {identity}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sensor API status %d", resp.StatusCode)
	}
	return body, nil
}

// wireReading is the loosely typed shape sent by the backend.
type wireReading struct {
	Temperature *flexFloat `json:"temperature"`
	Humidity    *flexFloat `json:"humidity"`
	Moisture    *flexFloat `json:"moisture"`
	Timestamp   string     `json:"timestamp"`
	CreatedAt   string     `json:"createdAt"`
}

// DecodeReadings parses a JSON array of readings, newest first. Unknown
// fields are ignored; a reading missing a metric or with an unparsable
// timestamp rejects the whole body. Readings without a timestamp are
// stamped with receivedAt.
func DecodeReadings(body []byte, receivedAt time.Time) ([]models.Reading, error) {
	body = bytes.TrimSpace(body)
	var wire []wireReading
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}

	out := make([]models.Reading, 0, len(wire))
	for i, w := range wire {
		r, err := w.toReading(receivedAt)
		if err != nil {
			return nil, fmt.Errorf("reading %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// DecodeReading parses a single reading object.
func DecodeReading(body []byte, receivedAt time.Time) (models.Reading, error) {
	var w wireReading
	if err := json.Unmarshal(body, &w); err != nil {
		return models.Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	return w.toReading(receivedAt)
}

func (w wireReading) toReading(receivedAt time.Time) (models.Reading, error) {
	if w.Temperature == nil || w.Humidity == nil || w.Moisture == nil {
		return models.Reading{}, models.ErrMissingMetric
	}

	r := models.Reading{
		Temperature: float64(*w.Temperature),
		Humidity:    float64(*w.Humidity),
		Moisture:    float64(*w.Moisture),
	}

	ts := w.Timestamp
	if ts == "" {
		ts = w.CreatedAt
	}
	if ts != "" {
		parsed, err := models.ParseTimestamp(ts)
		if err != nil {
			return models.Reading{}, err
		}
		r.Timestamp = parsed
	}

	r.Normalize(receivedAt)
	if err := r.Validate(); err != nil {
		return models.Reading{}, err
	}
	return r, nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return models.ErrMissingMetric
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", models.ErrNonFiniteValue, s)
	}
	*f = flexFloat(v)
	return nil
}
