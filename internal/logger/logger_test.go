package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithWriter(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	InitWithWriter("warn", &buf)

	log := WithComponent("poller")
	log.Info().Msg("dropped")
	log.Warn().Str("metric", "humidity").Msg("kept")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "poller", entry["component"])
	assert.Equal(t, "sensorwatch", entry["service"])
	assert.Equal(t, "humidity", entry["metric"])
}

func TestInitWithWriter_BadLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	InitWithWriter("loud", &buf)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	log := WithRequestID("req-1")
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}
