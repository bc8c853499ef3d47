package monitoring

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogManager(level LogLevel, buffer int) (*LogManager, *bytes.Buffer) {
	out := &bytes.Buffer{}
	lm := NewLogManagerWithConfig(LogConfig{
		LogLevel:   level,
		Output:     out,
		BufferSize: buffer,
	})
	return lm, out
}

func TestNewLogManager(t *testing.T) {
	t.Run("should create log manager with default configuration", func(t *testing.T) {
		lm := NewLogManager()
		defer lm.Close()

		assert.NotNil(t, lm)
		assert.Equal(t, LogLevelInfo, lm.config.LogLevel)
		assert.True(t, lm.config.LogToStdout)
		assert.Equal(t, 1000, lm.config.BufferSize)
	})

	t.Run("should default a non-positive buffer size", func(t *testing.T) {
		lm, _ := newTestLogManager(LogLevelInfo, 0)
		assert.Equal(t, 1000, lm.config.BufferSize)
	})
}

func TestLogLevel_String(t *testing.T) {
	t.Run("should return correct string representations", func(t *testing.T) {
		assert.Equal(t, "TRACE", LogLevelTrace.String())
		assert.Equal(t, "DEBUG", LogLevelDebug.String())
		assert.Equal(t, "INFO", LogLevelInfo.String())
		assert.Equal(t, "WARN", LogLevelWarn.String())
		assert.Equal(t, "ERROR", LogLevelError.String())
		assert.Equal(t, "FATAL", LogLevelFatal.String())
	})

	t.Run("should return UNKNOWN for invalid log level", func(t *testing.T) {
		assert.Equal(t, "UNKNOWN", LogLevel(999).String())
	})
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"trace":   LogLevelTrace,
		"DEBUG":   LogLevelDebug,
		"":        LogLevelInfo,
		"warning": LogLevelWarn,
		" error ": LogLevelError,
	}
	for input, want := range cases {
		got, err := ParseLogLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestLogManager_Log(t *testing.T) {
	t.Run("should log messages at or above configured level", func(t *testing.T) {
		lm, _ := newTestLogManager(LogLevelDebug, 100)

		lm.Log(LogLevelDebug, "Debug message", nil)
		lm.Log(LogLevelInfo, "Info message", nil)
		lm.Log(LogLevelError, "Error message", nil)
		lm.Log(LogLevelTrace, "Trace message", nil)

		recent := lm.GetRecentLogs(10)
		require.Len(t, recent, 3)
		assert.Equal(t, "Debug message", recent[0].Message)
		assert.Equal(t, "Info message", recent[1].Message)
		assert.Equal(t, "Error message", recent[2].Message)
	})

	t.Run("should write structured JSON with metadata and component", func(t *testing.T) {
		lm, out := newTestLogManager(LogLevelInfo, 10)
		lm.WithComponent("telemetry").LogWithMetadata(LogLevelWarn, "identity not found", map[string]interface{}{
			"common_name": "bob",
		})

		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &line))
		assert.Equal(t, "warn", line["level"])
		assert.Equal(t, "identity not found", line["message"])
		assert.Equal(t, "telemetry", line["component"])
		assert.Equal(t, "bob", line["common_name"])
	})

	t.Run("should not exit on fatal level", func(t *testing.T) {
		lm, out := newTestLogManager(LogLevelInfo, 10)
		lm.Log(LogLevelFatal, "fatal but alive", nil)
		assert.True(t, strings.Contains(out.String(), "fatal but alive"))
	})
}

func TestLogManager_Buffer(t *testing.T) {
	t.Run("should keep only the newest entries", func(t *testing.T) {
		lm, _ := newTestLogManager(LogLevelInfo, 3)
		for _, msg := range []string{"one", "two", "three", "four", "five"} {
			lm.LogInfo(msg)
		}

		recent := lm.GetRecentLogs(0)
		require.Len(t, recent, 3)
		assert.Equal(t, "three", recent[0].Message)
		assert.Equal(t, "five", recent[2].Message)
	})

	t.Run("should share the buffer with component children", func(t *testing.T) {
		lm, _ := newTestLogManager(LogLevelInfo, 10)
		lm.WithComponent("api").LogInfo("from api")
		lm.LogInfo("from root")

		recent := lm.GetRecentLogs(0)
		require.Len(t, recent, 2)
		assert.Equal(t, "api", recent[0].Component)
		assert.Equal(t, "portal", recent[1].Component)
	})

	t.Run("should filter by minimum level in chronological order", func(t *testing.T) {
		lm, _ := newTestLogManager(LogLevelDebug, 10)
		lm.Log(LogLevelDebug, "d1", nil)
		lm.LogWarn("w1")
		lm.LogError("e1")
		lm.LogInfo("i1")

		filtered := lm.GetLogsByLevel(LogLevelWarn, 10)
		require.Len(t, filtered, 2)
		assert.Equal(t, "w1", filtered[0].Message)
		assert.Equal(t, "e1", filtered[1].Message)
	})

	t.Run("should return entries after a point in time", func(t *testing.T) {
		lm, _ := newTestLogManager(LogLevelInfo, 10)
		lm.LogInfo("old")
		mark := time.Now()
		time.Sleep(5 * time.Millisecond)
		lm.LogInfo("new")

		since := lm.GetLogsSince(mark)
		require.Len(t, since, 1)
		assert.Equal(t, "new", since[0].Message)
	})
}

func TestLogManager_File(t *testing.T) {
	t.Run("should append to the configured log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "portal.log")
		lm := NewLogManagerWithConfig(LogConfig{
			LogLevel: LogLevelInfo,
			LogFile:  path,
		})
		lm.LogInfo("written to disk")
		require.NoError(t, lm.Close())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "written to disk")
	})
}
