package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trade.log")
	log, err := New(Options{Level: "debug", File: path})
	require.NoError(t, err)

	log.Debug("hello")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"service":"futdesk"`)
}

func TestNewDegradesWhenFileUnavailable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing", "dir", "trade.log")
	log, err := New(Options{File: path})
	assert.Error(t, err)
	require.NotNil(t, log, "console logger still returned")
	assert.True(t, strings.Contains(err.Error(), "open log file"))
}

func TestNewRejectsBadLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}
