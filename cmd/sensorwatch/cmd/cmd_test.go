package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/models"
)

// run executes the CLI against a database in dir and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db", filepath.Join(dir, "cli.db"), "--log-level", "error"}, args...))

	err := root.Execute()
	return out.String(), err
}

func TestThresholdsSetAndGet(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "thresholds", "set", "--temperature", "30")
	require.NoError(t, err)
	_, err = run(t, dir, "thresholds", "set", "--moisture", "40")
	require.NoError(t, err)

	out, err := run(t, dir, "-o", "json", "thresholds", "get")
	require.NoError(t, err)

	var got []alerts.Threshold
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 3)

	assert.Equal(t, alerts.Threshold{Metric: models.MetricTemperature, Value: 30, Condition: models.ConditionExceeds, Set: true}, got[0])
	assert.Equal(t, alerts.Inert(models.MetricHumidity), got[1])
	assert.Equal(t, alerts.Threshold{Metric: models.MetricMoisture, Value: 40, Condition: models.ConditionBelow, Set: true}, got[2])
}

func TestThresholdsSetRequiresAFlag(t *testing.T) {
	_, err := run(t, t.TempDir(), "thresholds", "set")
	assert.Error(t, err)
}

func TestThresholdsImportAndClear(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "thresholds.yaml")
	require.NoError(t, os.WriteFile(file, []byte("thresholds:\n  humidity: {value: 30, condition: below}\n"), 0o600))

	out, err := run(t, dir, "thresholds", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "humidity")
	assert.Contains(t, out, "30%")

	_, err = run(t, dir, "thresholds", "clear")
	require.NoError(t, err)

	out, err = run(t, dir, "-o", "json", "thresholds", "get")
	require.NoError(t, err)
	var got []alerts.Threshold
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	for _, th := range got {
		assert.False(t, th.Set, th.Metric)
	}
}

func TestEvaluateDoesNotRecordByDefault(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "thresholds", "set", "--temperature", "30", "--humidity", "40")
	require.NoError(t, err)

	out, err := run(t, dir, "evaluate", "--temperature", "35", "--humidity", "20", "--moisture", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "Temperature exceeds 30°C")
	assert.Contains(t, out, "Humidity below 40%")

	out, err = run(t, dir, "alerts", "count")
	require.NoError(t, err)
	assert.Equal(t, "0", strings.TrimSpace(out))
}

func TestEvaluateRecordAndListAlerts(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "thresholds", "set", "--temperature", "30")
	require.NoError(t, err)

	_, err = run(t, dir, "evaluate", "--record", "--json", `{"temperature":"31","humidity":50,"moisture":60}`)
	require.NoError(t, err)
	_, err = run(t, dir, "evaluate", "--record", "--temperature", "32", "--humidity", "50", "--moisture", "60")
	require.NoError(t, err)

	out, err := run(t, dir, "-o", "json", "alerts", "list", "--newest", "-n", "1")
	require.NoError(t, err)
	var events []models.AlertEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, 32.0, events[0].Value)
	assert.Equal(t, "Temperature exceeds 30°C", events[0].Message)

	_, err = run(t, dir, "alerts", "clear")
	require.NoError(t, err)

	out, err = run(t, dir, "alerts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No alerts.")
}

func TestEvaluateRequiresAllMetrics(t *testing.T) {
	_, err := run(t, t.TempDir(), "evaluate", "--temperature", "20")
	assert.Error(t, err)
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, t.TempDir(), "-o", "json", "version")
	require.NoError(t, err)

	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := run(t, t.TempDir(), "-o", "xml", "alerts", "count")
	assert.Error(t, err)
}
