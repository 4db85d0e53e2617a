package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/models"
)

// NumericInput is a threshold value as typed into a form. It accepts a JSON
// number, a string or null and keeps the raw text; parsing is left to
// alerts.ParseThreshold so malformed values end up unset.
type NumericInput string

// UnmarshalJSON implements json.Unmarshaler.
func (n *NumericInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NumericInput(s)
	default:
		var f json.Number
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("threshold value must be a number or string")
		}
		*n = NumericInput(f.String())
	}
	return nil
}

// ThresholdBody is one metric's entry in a PUT /thresholds request.
type ThresholdBody struct {
	Value     NumericInput `json:"value"`
	Condition string       `json:"condition"`
}

// ThresholdsResponse is returned by the threshold endpoints.
type ThresholdsResponse struct {
	Success    bool                `json:"success"`
	Thresholds []alerts.Threshold  `json:"thresholds"`
	Policy     alerts.BreachPolicy `json:"policy"`
}

// ThresholdsHandler serves the alert settings.
type ThresholdsHandler struct {
	engine      *alerts.Engine
	maxBodySize int64
}

// NewThresholdsHandler creates a handler over engine's threshold store.
func NewThresholdsHandler(engine *alerts.Engine, maxBodySize int64) *ThresholdsHandler {
	if maxBodySize <= 0 {
		maxBodySize = 64 << 10
	}
	return &ThresholdsHandler{engine: engine, maxBodySize: maxBodySize}
}

// Get handles GET /thresholds.
func (h *ThresholdsHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.Thresholds().Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load thresholds")
		return
	}
	writeJSON(w, http.StatusOK, h.response(t))
}

// Put handles PUT /thresholds. Every metric is replaced; metrics missing
// from the body become unset.
func (h *ThresholdsHandler) Put(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req map[string]ThresholdBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON format: "+err.Error())
		return
	}

	inputs := make(map[models.Metric]alerts.ThresholdInput, len(req))
	for name, tb := range req {
		m := models.Metric(name)
		if !m.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown metric "+strconv.Quote(name))
			return
		}
		inputs[m] = alerts.ThresholdInput{Value: string(tb.Value), Condition: tb.Condition}
	}

	saved, err := h.engine.Thresholds().Save(r.Context(), inputs)
	if err != nil {
		status := http.StatusInternalServerError
		if !errors.Is(err, alerts.ErrPersist) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "failed to save thresholds")
		return
	}
	writeJSON(w, http.StatusOK, h.response(saved))
}

// Delete handles DELETE /thresholds.
func (h *ThresholdsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Thresholds().Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear thresholds")
		return
	}
	h.engine.ResetEpisodes()
	writeJSON(w, http.StatusOK, h.response(alerts.DefaultThresholds()))
}

func (h *ThresholdsHandler) response(t alerts.Thresholds) ThresholdsResponse {
	list := make([]alerts.Threshold, 0, len(models.Metrics))
	for _, m := range models.Metrics {
		list = append(list, t.For(m))
	}
	return ThresholdsResponse{
		Success:    true,
		Thresholds: list,
		Policy:     h.engine.Policy(),
	}
}
