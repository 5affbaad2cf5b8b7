package logging

import (
	"bytes"
	"testing"

	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, log.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, log.InfoLevel, ParseLevel("nonsense"))
}

func TestJSONFormatterAndVerbose(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LogConfig{Level: "error", Format: "json"}, true)
	logger.Debug("stage complete", "stage", "database")

	assert.Contains(t, buf.String(), `"msg":"stage complete"`)
	assert.Contains(t, buf.String(), `"stage":"database"`)
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LogConfig{Level: "warn", Format: "text"}, false)
	logger.Info("hidden")
	assert.Empty(t, buf.String())
}
