package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/file-ingester/internal/config"
)

func TestConfigure_JSON(t *testing.T) {
	logger := log.New()
	var buf bytes.Buffer
	require.NoError(t, configure(logger, config.LogConfig{Level: "warn", Format: "json"}, &buf))

	logger.Info("dropped")
	logger.WithField("line", 7).Warn("Validation error")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Validation error", entry["msg"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, float64(7), entry["line"])
}

func TestConfigure_Text(t *testing.T) {
	logger := log.New()
	var buf bytes.Buffer
	require.NoError(t, configure(logger, config.LogConfig{Level: "debug", Format: "text"}, &buf))

	logger.Debug("batch persisted")
	assert.Contains(t, buf.String(), "batch persisted")
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
}

func TestConfigure_BadLevel(t *testing.T) {
	assert.Error(t, configure(log.New(), config.LogConfig{Level: "loud"}, &bytes.Buffer{}))
}
