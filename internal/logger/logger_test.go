package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "teleclone.log")

	l, err := New("debug", path)
	require.NoError(t, err)
	l.With("run_id", "abc").Info().Int("msg_id", 7).Msg("transfer: message relayed")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"run_id":"abc"`)
	assert.Contains(t, line, `"msg_id":7`)
	assert.Contains(t, line, `"message":"transfer: message relayed"`)
}

func TestNew_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	l, err := New("warn", path)
	require.NoError(t, err)
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hidden"))
	assert.True(t, strings.Contains(string(data), "shown"))
}

func TestGet_BeforeInit(t *testing.T) {
	prev := Global
	Global = nil
	defer func() { Global = prev }()

	l := Get()
	require.NotNil(t, l)
	assert.NoError(t, l.Close())
}
