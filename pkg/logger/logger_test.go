package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel(" Debug ")
	require.NoError(t, err)
	require.Equal(t, LevelDebug, lvl)

	_, err = ParseLevel("chatty")
	require.Error(t, err)
}

func TestLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() {
		SetLevel(LevelInfo)
		SetOutput(os.Stderr)
	})

	Infof("quiet %d", 1)
	Warnf("loud %d", 2)

	require.NotContains(t, buf.String(), "quiet 1")
	require.Contains(t, buf.String(), "loud 2")
	require.False(t, Enabled(LevelDebug))
	require.True(t, Enabled(LevelError))
}

func TestInitFileWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "jmsession.log")
	closeFn, err := InitFile(path, false)
	require.NoError(t, err)

	Errorf("written to file")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "written to file")
}
