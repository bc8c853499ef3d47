// Package monitoring provides logging, fleet health metrics and alerting for the
// OpenVPN portal. It tracks registered agents, session and identity counts, and
// keeps a bounded buffer of recent log entries for the admin dashboard.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogManager manages structured logging for the portal.
// Output is written through zerolog; every entry is also kept in an in-memory
// ring so recent activity can be served by the monitoring API.
type LogManager struct {
	config    LogConfig      // Logging configuration
	logger    zerolog.Logger // Underlying structured logger
	component string         // Component name attached to every entry
	ring      *logRing       // Shared buffer of recent entries
	file      *os.File       // Optional log file handle
}

// LogConfig represents configuration options for the logging system.
type LogConfig struct {
	LogLevel    LogLevel  `json:"log_level"`     // Minimum log level to record
	Pretty      bool      `json:"pretty"`        // Human-readable console output instead of JSON lines
	LogToStdout bool      `json:"log_to_stdout"` // Whether to write logs to stdout
	LogFile     string    `json:"log_file"`      // Optional file to append logs to
	BufferSize  int       `json:"buffer_size"`   // Number of recent logs to keep in memory
	Output      io.Writer `json:"-"`             // Overrides stdout, mostly for tests
}

// LogLevel represents the severity level of a log entry.
type LogLevel int

const (
	LogLevelTrace LogLevel = iota // Trace level - very detailed debugging
	LogLevelDebug                 // Debug level - debugging information
	LogLevelInfo                  // Info level - general information
	LogLevelWarn                  // Warn level - warning messages
	LogLevelError                 // Error level - error conditions
	LogLevelFatal                 // Fatal level - fatal errors
)

// String returns the string representation of a log level.
func (ll LogLevel) String() string {
	switch ll {
	case LogLevelTrace:
		return "TRACE"
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a configuration string such as "debug" into a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LogLevelTrace, nil
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "fatal":
		return LogLevelFatal, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (ll LogLevel) zerologLevel() zerolog.Level {
	switch ll {
	case LogLevelTrace:
		return zerolog.TraceLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}

// LogEntry represents a single log entry with metadata.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"` // When the log entry was created
	Level     LogLevel               `json:"level"`     // Log level of the entry
	Message   string                 `json:"message"`   // Log message content
	Component string                 `json:"component"` // Component that generated the log
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// logRing is the bounded buffer shared by a LogManager and its component children.
type logRing struct {
	mutex   sync.RWMutex
	entries []LogEntry
	size    int
}

// NewLogManager creates a log manager writing JSON lines to stdout at info level.
func NewLogManager() *LogManager {
	return NewLogManagerWithConfig(LogConfig{
		LogLevel:    LogLevelInfo,
		LogToStdout: true,
		BufferSize:  1000,
	})
}

// NewLogManagerWithConfig creates a new log manager with custom configuration.
// A log file that cannot be opened is reported on stderr and skipped.
func NewLogManagerWithConfig(config LogConfig) *LogManager {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	manager := &LogManager{
		config:    config,
		component: "portal",
		ring: &logRing{
			entries: make([]LogEntry, 0, config.BufferSize),
			size:    config.BufferSize,
		},
	}

	var writers []io.Writer
	switch {
	case config.Output != nil:
		writers = append(writers, config.Output)
	case config.LogToStdout:
		writers = append(writers, os.Stdout)
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", config.LogFile, err)
		} else {
			manager.file = file
			writers = append(writers, file)
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	if config.Pretty {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	manager.logger = zerolog.New(writer).
		Level(config.LogLevel.zerologLevel()).
		With().
		Timestamp().
		Logger()

	return manager
}

// WithComponent returns a logger that tags entries with the given component name.
// The child shares output and the recent-entry buffer with its parent.
func (lm *LogManager) WithComponent(component string) *LogManager {
	child := *lm
	child.component = component
	return &child
}

// Log writes a log entry with the specified level and message.
// Entries below the configured level are dropped.
func (lm *LogManager) Log(level LogLevel, message string, metadata map[string]interface{}) {
	if level < lm.config.LogLevel {
		return
	}

	lm.ring.add(LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Component: lm.component,
		Metadata:  metadata,
	})

	// WithLevel never exits, even for fatal.
	event := lm.logger.WithLevel(level.zerologLevel()).Str("component", lm.component)
	if len(metadata) > 0 {
		event = event.Fields(metadata)
	}
	event.Msg(message)
}

// LogInfo logs an info-level message.
func (lm *LogManager) LogInfo(message string) {
	lm.Log(LogLevelInfo, message, nil)
}

// LogWarn logs a warning-level message.
func (lm *LogManager) LogWarn(message string) {
	lm.Log(LogLevelWarn, message, nil)
}

// LogError logs an error-level message.
func (lm *LogManager) LogError(message string) {
	lm.Log(LogLevelError, message, nil)
}

// LogWithMetadata logs a message with additional metadata.
func (lm *LogManager) LogWithMetadata(level LogLevel, message string, metadata map[string]interface{}) {
	lm.Log(level, message, metadata)
}

// GetRecentLogs returns up to count of the most recent entries, oldest first.
// A non-positive count returns the whole buffer.
func (lm *LogManager) GetRecentLogs(count int) []LogEntry {
	lm.ring.mutex.RLock()
	defer lm.ring.mutex.RUnlock()

	if count <= 0 || count > len(lm.ring.entries) {
		count = len(lm.ring.entries)
	}

	start := len(lm.ring.entries) - count
	result := make([]LogEntry, count)
	copy(result, lm.ring.entries[start:])

	return result
}

// GetLogsByLevel returns recent log entries at or above the given level.
func (lm *LogManager) GetLogsByLevel(level LogLevel, count int) []LogEntry {
	lm.ring.mutex.RLock()
	defer lm.ring.mutex.RUnlock()

	var filtered []LogEntry
	for i := len(lm.ring.entries) - 1; i >= 0 && (count <= 0 || len(filtered) < count); i-- {
		if lm.ring.entries[i].Level >= level {
			filtered = append(filtered, lm.ring.entries[i])
		}
	}

	// restore chronological order
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}

	return filtered
}

// GetLogsSince returns log entries created after the specified time.
func (lm *LogManager) GetLogsSince(since time.Time) []LogEntry {
	lm.ring.mutex.RLock()
	defer lm.ring.mutex.RUnlock()

	var result []LogEntry
	for _, entry := range lm.ring.entries {
		if entry.Timestamp.After(since) {
			result = append(result, entry)
		}
	}

	return result
}

// Close closes the log file, if any.
func (lm *LogManager) Close() error {
	if lm.file == nil {
		return nil
	}
	if err := lm.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	lm.file = nil
	return nil
}

func (r *logRing) add(entry LogEntry) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entries = append(r.entries, entry)
	if len(r.entries) > r.size {
		copy(r.entries, r.entries[len(r.entries)-r.size:])
		r.entries = r.entries[:r.size]
	}
}
