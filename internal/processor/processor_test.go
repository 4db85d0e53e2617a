package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorwatch/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Env = "test"
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Storage.Backend = "memory"
	cfg.NodeID = "test-node"
	return cfg
}

func startProcessor(t *testing.T, cfg *config.Config) string {
	t.Helper()
	p := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("processor did not stop")
		}
	})

	select {
	case addr := <-p.Ready():
		return "http://" + addr
	case err := <-done:
		t.Fatalf("processor exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not become ready")
	}
	return ""
}

func getCount(t *testing.T, base string) int {
	t.Helper()
	resp, err := http.Get(base + "/notifications/count")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Count
}

func TestProcessorRun(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestProcessor_PollsAndRecordsAlerts(t *testing.T) {
	sensorAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ada@example.com", r.URL.Query().Get("user"))
		w.Write([]byte(`[{"temperature":35,"humidity":50,"moisture":20}]`))
	}))
	defer sensorAPI.Close()

	thresholds := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(thresholds, []byte(`
thresholds:
  temperature: {value: "30", condition: exceeds}
  moisture: {value: "40", condition: below}
`), 0o600))

	cfg := testConfig(t)
	cfg.Sensor.APIURL = sensorAPI.URL
	cfg.Sensor.Identity = "ada@example.com"
	cfg.Sensor.PollInterval = 50 * time.Millisecond
	cfg.Alerts.ThresholdsFile = thresholds

	base := startProcessor(t, cfg)

	// Every tick breaches both thresholds.
	assert.Eventually(t, func() bool { return getCount(t, base) >= 4 }, 3*time.Second, 25*time.Millisecond)

	resp, err := http.Get(base + "/readings/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProcessor_OncePerBreach(t *testing.T) {
	sensorAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"temperature":35,"humidity":50,"moisture":50}]`))
	}))
	defer sensorAPI.Close()

	thresholds := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(thresholds, []byte("thresholds:\n  temperature: {value: 30}\n"), 0o600))

	cfg := testConfig(t)
	cfg.Sensor.APIURL = sensorAPI.URL
	cfg.Sensor.PollInterval = 20 * time.Millisecond
	cfg.Alerts.ThresholdsFile = thresholds
	cfg.Alerts.BreachPolicy = "once_per_breach"

	base := startProcessor(t, cfg)

	assert.Eventually(t, func() bool { return getCount(t, base) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, getCount(t, base), "a continuing breach fires once")
}

func TestProcessor_SourceDownRecordsNothing(t *testing.T) {
	sensorAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer sensorAPI.Close()

	thresholds := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(thresholds, []byte("thresholds:\n  temperature: {value: -100}\n"), 0o600))

	cfg := testConfig(t)
	cfg.Sensor.APIURL = sensorAPI.URL
	cfg.Sensor.PollInterval = 20 * time.Millisecond
	cfg.Alerts.ThresholdsFile = thresholds

	base := startProcessor(t, cfg)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, getCount(t, base))

	resp, err := http.Get(base + "/readings/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProcessor_HistorySurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "sensorwatch.db")

	thresholds := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(thresholds, []byte("thresholds:\n  humidity: {value: 60}\n"), 0o600))
	cfg.Alerts.ThresholdsFile = thresholds

	func() {
		p := New(cfg)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()
		addr := <-p.Ready()

		resp, err := http.Post("http://"+addr+"/readings", "application/json",
			jsonBody(`{"temperature":20,"humidity":40,"moisture":30}`))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		cancel()
		require.NoError(t, <-done)
	}()

	engine, store, err := OpenEngine(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	history := engine.History().List()
	require.Len(t, history, 1)
	assert.Equal(t, "Humidity below 60%", history[0].Message)
}

func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}
