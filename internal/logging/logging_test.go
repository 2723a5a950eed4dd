package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/convoetl/internal/config"
)

func TestInit_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "convoetl.log")

	l, err := Init(Config{Level: "info", File: path, MaxSizeMB: 1, Console: &console})
	require.NoError(t, err)

	l.Logger.Info("stage completed", zap.String("stage", "load"), zap.Int("sessions", 3))
	l.Logger.Debug("hidden")
	require.NoError(t, l.Close())

	assert.Contains(t, console.String(), "stage completed")
	assert.NotContains(t, console.String(), "hidden")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, entries, 1)
	assert.Equal(t, "stage completed", entries[0]["message"])
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, "load", entries[0]["stage"])
	assert.EqualValues(t, 3, entries[0]["sessions"])
}

func TestInit_DebugLevel(t *testing.T) {
	var console bytes.Buffer
	l, err := Init(Config{Level: "debug", Console: &console})
	require.NoError(t, err)

	l.Logger.Debug("visible")
	require.NoError(t, l.Close())
	assert.Contains(t, console.String(), "visible")
}

func TestInit_InvalidLevel(t *testing.T) {
	_, err := Init(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	var nilLogging *Logging
	assert.NoError(t, nilLogging.Close())
	assert.NoError(t, Nop().Close())
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.LogConfig{Level: "warn", File: "x.log", MaxSizeMB: 5, MaxBackups: 2})
	assert.Equal(t, Config{Level: "warn", File: "x.log", MaxSizeMB: 5, MaxBackups: 2}, c)
}
