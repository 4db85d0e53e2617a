package handlers

import (
	"net/http"
	"slices"
	"strconv"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/models"
)

// NotificationsResponse is returned by GET /notifications.
type NotificationsResponse struct {
	Success       bool                `json:"success"`
	Count         int                 `json:"count"`
	Notifications []models.AlertEvent `json:"notifications"`
}

// NotificationsHandler serves the alert history.
type NotificationsHandler struct {
	history *alerts.NotificationLog
}

// NewNotificationsHandler creates a handler over history.
func NewNotificationsHandler(history *alerts.NotificationLog) *NotificationsHandler {
	return &NotificationsHandler{history: history}
}

// List handles GET /notifications. The history is returned oldest first;
// order=newest reverses it and limit keeps the first n entries of the result.
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	events := h.history.List()
	total := len(events)

	q := r.URL.Query()
	switch q.Get("order") {
	case "", "oldest":
	case "newest":
		slices.Reverse(events)
	default:
		writeError(w, http.StatusBadRequest, "order must be oldest or newest")
		return
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(events) {
			events = events[:limit]
		}
	}

	writeJSON(w, http.StatusOK, NotificationsResponse{
		Success:       true,
		Count:         total,
		Notifications: events,
	})
}

// Count handles GET /notifications/count.
func (h *NotificationsHandler) Count(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   h.history.Count(),
	})
}

// Clear handles DELETE /notifications.
func (h *NotificationsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   0,
	})
}
