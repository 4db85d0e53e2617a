package handlers

import (
	"context"
	"net/http"
	"time"

	"sensorwatch/internal/models"
)

// LatestReader reports the most recent reading.
type LatestReader interface {
	Latest() (models.Reading, bool)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// SystemHandler serves health, stats and the latest reading.
type SystemHandler struct {
	latest LatestReader
	checks map[string]HealthCheck
	stats  func() interface{}
}

// NewSystemHandler creates a system handler. stats may be nil.
func NewSystemHandler(latest LatestReader, checks map[string]HealthCheck, stats func() interface{}) *SystemHandler {
	return &SystemHandler{latest: latest, checks: checks, stats: stats}
}

// Health handles GET /health.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     state,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats handles GET /stats.
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var stats interface{} = map[string]interface{}{}
	if h.stats != nil {
		stats = h.stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

// LatestReading handles GET /readings/latest.
func (h *SystemHandler) LatestReading(w http.ResponseWriter, r *http.Request) {
	reading, ok := h.latest.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no sensor reading available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"reading": reading,
	})
}
