package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_ConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "warn", Console: &buf, JSON: true})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", zap.String("stage", "intro"))
	require.NoError(t, log.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "intro", entry["stage"])
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refinery.log")
	log, err := New(Config{Level: "debug", File: path, Console: &bytes.Buffer{}})
	require.NoError(t, err)

	log.Debug("console only")
	log.Info("in file")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"in file"`)
	assert.NotContains(t, string(data), "console only")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}
