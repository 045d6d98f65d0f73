package logger_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardvault/dualrepo/pkg/logger"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).With("component", "test").Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)
	require.Equal(t, buff.Len(), 0)

	templogger.Logger.Info().Msg("Test")
	require.Contains(t, buff.String(), "Test")
	require.Contains(t, buff.String(), `"component":"test"`)

	templogger.Logger.Debug().Msg("hidden")
	require.NotContains(t, buff.String(), "hidden")
}

func TestLogLevel(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).Level("warn").Make()
	require.NoError(t, err)

	templogger.Logger.Info().Msg("info")
	templogger.Logger.Warn().Msg("warn")
	require.NotContains(t, buff.String(), `"info"`)
	require.Contains(t, buff.String(), `"warn"`)
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dualrepo.log")
	templogger, err := logger.New().FromPath(path).Make()
	require.NoError(t, err)

	templogger.Logger.Error().Msg("written")
	require.NoError(t, templogger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "written")
}
