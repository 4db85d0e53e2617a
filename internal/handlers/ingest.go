package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync/atomic"
	"time"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
	"sensorwatch/internal/models"
	"sensorwatch/internal/sensor"
)

// ReadingSink accepts validated readings for evaluation.
type ReadingSink interface {
	Ingest(ctx context.Context, r models.Reading) ([]models.AlertEvent, error)
}

// IngestHandler handles pushed sensor readings via HTTP
type IngestHandler struct {
	sink ReadingSink

	// Max body size (default 1MB)
	maxBodySize int64

	now func() time.Time

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// IngestConfig holds configuration for the ingest handler
type IngestConfig struct {
	Sink        ReadingSink
	MaxBodySize int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}

	return &IngestHandler{
		sink:        cfg.Sink,
		maxBodySize: maxBodySize,
		now:         time.Now,
	}
}

// IngestRequest represents the wrapped payload shapes (single or batch)
type IngestRequest struct {
	Reading  json.RawMessage   `json:"reading,omitempty"`
	Readings []json.RawMessage `json:"readings,omitempty"`
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool                `json:"success"`
	Accepted int                 `json:"accepted"`
	Rejected int                 `json:"rejected"`
	Alerts   []models.AlertEvent `json:"alerts"`
	Errors   []IngestError       `json:"errors,omitempty"`
}

// IngestError describes a problem with a specific reading
type IngestError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// ServeHTTP handles the ingest HTTP request
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err != nil || mediaType != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	items, err := parseBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "no readings provided")
		return
	}

	response := h.processReadings(r.Context(), items)

	status := http.StatusOK
	if response.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, response)
}

// parseBody splits the body into raw reading objects. Accepted shapes are
// {"readings":[...]}, {"reading":{...}}, a bare array and a bare object.
func parseBody(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty request body")
	}

	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("invalid JSON format: %w", err)
		}
		return items, nil
	}

	var req IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON format: expected reading object or array of readings")
	}
	if len(req.Readings) > 0 {
		return req.Readings, nil
	}
	if len(req.Reading) > 0 && string(req.Reading) != "null" {
		return []json.RawMessage{req.Reading}, nil
	}
	return []json.RawMessage{body}, nil
}

// processReadings decodes, validates and evaluates each reading in order.
func (h *IngestHandler) processReadings(ctx context.Context, items []json.RawMessage) IngestResponse {
	log := logger.WithComponent("ingest")
	response := IngestResponse{
		Alerts: make([]models.AlertEvent, 0),
	}
	receivedAt := h.now()

	for i, item := range items {
		reading, err := sensor.DecodeReading(item, receivedAt)
		if err != nil {
			response.Errors = append(response.Errors, IngestError{Index: i, Error: err.Error()})
			response.Rejected++
			h.rejected.Add(1)
			metrics.ReadingsTotal.WithLabelValues("push", "rejected").Inc()
			continue
		}

		events, err := h.sink.Ingest(ctx, reading)
		response.Alerts = append(response.Alerts, events...)
		response.Accepted++
		h.accepted.Add(1)
		metrics.ReadingsTotal.WithLabelValues("push", "accepted").Inc()

		if err != nil {
			// Evaluated, but the history could not be written.
			log.Error().Err(err).Int("index", i).Msg("failed to record alerts")
			msg := err.Error()
			if errors.Is(err, alerts.ErrPersist) {
				msg = "alerts recorded but not persisted"
			}
			response.Errors = append(response.Errors, IngestError{Index: i, Error: msg})
		}
	}

	response.Success = response.Rejected == 0 && len(response.Errors) == 0
	return response
}

// Stats returns ingest counters
func (h *IngestHandler) Stats() IngestStats {
	return IngestStats{
		Accepted: h.accepted.Load(),
		Rejected: h.rejected.Load(),
	}
}

// IngestStats holds ingest counters
type IngestStats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}
