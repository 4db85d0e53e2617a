package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/models"
	"sensorwatch/internal/state"
)

type mockNotifier struct {
	mu      sync.Mutex
	name    string
	batches [][]models.AlertEvent
	err     error
	closed  bool
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Send(ctx context.Context, batch []models.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return m.err
}

func (m *mockNotifier) Close() error {
	m.closed = true
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func sampleBatch() []models.AlertEvent {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []models.AlertEvent{
		models.NewAlertEvent(models.MetricTemperature, models.ConditionExceeds, 30, 35, at),
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	ok := &mockNotifier{name: "ok"}
	bad := &mockNotifier{name: "bad", err: errors.New("down")}
	d.Register(ok)
	d.Register(bad)

	err := d.Dispatch(context.Background(), sampleBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, 1, ok.count())

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestDispatcher_RateLimited(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		RateLimit: RateLimitConfig{PerMinute: 1, Burst: 2, Enabled: true},
	})
	n := &mockNotifier{name: "n"}
	d.Register(n)

	require.NoError(t, d.Dispatch(context.Background(), sampleBatch()))
	require.NoError(t, d.Dispatch(context.Background(), sampleBatch()))
	assert.ErrorIs(t, d.Dispatch(context.Background(), sampleBatch()), ErrRateLimited)
	assert.Equal(t, 2, n.count())
	assert.Equal(t, uint64(1), d.Stats().Dropped)
}

func TestDispatcher_EmptyBatch(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	n := &mockNotifier{name: "n"}
	d.Register(n)

	require.NoError(t, d.Dispatch(context.Background(), nil))
	assert.Equal(t, 0, n.count())
}

func TestDispatcher_SubscriberDeliversAppendedBatches(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	n := &mockNotifier{name: "n"}
	d.Register(n)

	log := alerts.NewNotificationLog(state.NewMemoryStore(0), alerts.LogOptions{})
	unsubscribe := log.Subscribe(d.Subscriber())
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	require.NoError(t, log.Append(context.Background(), sampleBatch()))
	require.NoError(t, log.Clear(context.Background()))

	assert.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 1, n.count(), "clear must not be delivered")
}

func TestDispatcher_QueueFull(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{QueueSize: 1})
	require.NoError(t, d.Enqueue(sampleBatch()))
	assert.ErrorIs(t, d.Enqueue(sampleBatch()), ErrQueueFull)
}

func TestDispatcher_Close(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	n := &mockNotifier{name: "n"}
	d.Register(n)

	require.NoError(t, d.Close())
	assert.True(t, n.closed)
	assert.Equal(t, 0, d.Len())
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w, err := NewWebhookNotifier(WebhookConfig{URL: server.URL, Node: "node-1"})
	require.NoError(t, err)

	require.NoError(t, w.Send(context.Background(), sampleBatch()))
	assert.Equal(t, "node-1", got.Node)
	assert.Equal(t, 1, got.Count)
	require.Len(t, got.Alerts, 1)
	assert.Equal(t, "Temperature exceeds 30°C", got.Alerts[0].Message)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	w, err := NewWebhookNotifier(WebhookConfig{URL: server.URL})
	require.NoError(t, err)

	err = w.Send(context.Background(), sampleBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestWebhookConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"empty", "", true},
		{"bad scheme", "ftp://example.com/hook", true},
		{"http", "http://example.com/hook", false},
		{"https", "https://example.com/hook", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := WebhookConfig{URL: tt.url}
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
