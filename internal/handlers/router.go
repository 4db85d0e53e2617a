package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/middleware"
)

// Sink is what the router needs from the reading pipeline.
type Sink interface {
	ReadingSink
	LatestReader
}

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Engine      *alerts.Engine
	Readings    Sink
	Stream      http.Handler
	Checks      map[string]HealthCheck
	Stats       func() interface{}
	MaxBodySize int64
}

// NewRouter builds the chi router for the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	thresholds := NewThresholdsHandler(cfg.Engine, cfg.MaxBodySize)
	notifications := NewNotificationsHandler(cfg.Engine.History())
	ingest := NewIngestHandler(IngestConfig{Sink: cfg.Readings, MaxBodySize: cfg.MaxBodySize})
	system := NewSystemHandler(cfg.Readings, cfg.Checks, cfg.Stats)

	r := chi.NewRouter()
	r.Use(middleware.Recovery, middleware.Logging)

	r.Route("/thresholds", func(r chi.Router) {
		r.Get("/", thresholds.Get)
		r.Put("/", thresholds.Put)
		r.Delete("/", thresholds.Delete)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", notifications.List)
		r.Get("/count", notifications.Count)
		r.Delete("/", notifications.Clear)
	})

	r.Route("/readings", func(r chi.Router) {
		r.Method(http.MethodPost, "/", ingest)
		r.Get("/latest", system.LatestReading)
	})

	r.Get("/health", system.Health)
	r.Get("/stats", system.Stats)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if cfg.Stream != nil {
		r.Method(http.MethodGet, "/ws", cfg.Stream)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
