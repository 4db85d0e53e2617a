package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sensorwatch/internal/models"
)

// WebhookConfig holds webhook configuration.
type WebhookConfig struct {
	URL     string
	Node    string
	Timeout time.Duration
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https")
	}
	return nil
}

// WebhookNotifier posts alert batches as JSON.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// WebhookPayload is the body posted to the webhook.
type WebhookPayload struct {
	Node   string              `json:"node,omitempty"`
	SentAt time.Time           `json:"sent_at"`
	Count  int                 `json:"count"`
	Alerts []models.AlertEvent `json:"alerts"`
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Send posts batch to the webhook URL.
func (w *WebhookNotifier) Send(ctx context.Context, batch []models.AlertEvent) error {
	payload := WebhookPayload{
		Node:   w.config.Node,
		SentAt: time.Now().UTC(),
		Count:  len(batch),
		Alerts: batch,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close is a no-op for webhooks.
func (w *WebhookNotifier) Close() error {
	return nil
}
