// ABOUTME: Tests for logger setup and the colorized slog handler
// ABOUTME: Checks level filtering, attribute rendering and JSON output

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/handoff-console/internal/config"
)

func TestSetupLogger_TextFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("channel dropped", "feed", "dashboard")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN channel dropped feed=dashboard")
}

func TestColorHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug"}, &buf)

	logger.With("component", "store").WithGroup("sync").Debug("reconciled", "total", 3)

	assert.Contains(t, buf.String(), "DBG reconciled component=store sync.total=3")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Info("console ready", "conversations", 12)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "console ready", rec["msg"])
	assert.Equal(t, float64(12), rec["conversations"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
