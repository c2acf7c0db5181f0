package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := currentLevel
	t.Cleanup(func() {
		logger = newLogger()
		currentLevel = prev
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("WARN")
	Info("hidden %d", 1)
	Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	captureOutput(t)

	SetLevel("debug")
	SetLevel("verbose")
	assert.Equal(t, LevelDebug, GetLevel())
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("INFO")
	SetFormat("json")
	Error("failed on %s", "/a/b")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "failed on /a/b", entry["msg"])
	assert.Equal(t, "error", entry["level"])
}
