package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FansOutAndFilters(t *testing.T) {
	var a, b bytes.Buffer
	logger := New(zerolog.InfoLevel, &a, &b)

	logger.Debug().Msg("hidden")
	logger.Info().Str("device", "Lamp").Msg("Activating device")

	for _, buf := range []*bytes.Buffer{&a, &b} {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "Activating device", entry["message"])
		assert.Equal(t, "Lamp", entry["device"])
		assert.Contains(t, entry, "time")
	}
}

func TestInit_AppendsToFile(t *testing.T) {
	prev := log.Logger
	defer func() { log.Logger = prev }()

	path := filepath.Join(t.TempDir(), "controller.log")
	Init(zerolog.WarnLevel, path)
	log.Warn().Msg("Sensor read failed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Sensor read failed")
}

func TestInit_BadPathPanics(t *testing.T) {
	prev := log.Logger
	defer func() { log.Logger = prev }()

	assert.Panics(t, func() { Init(zerolog.InfoLevel, filepath.Join(t.TempDir(), "missing", "x.log")) })
}
