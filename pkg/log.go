package pkg

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/phsym/console-slog"
)

// Component identifies a subsystem for log filtering.
type Component string

// Host stack component identifiers.
const (
	ComponentHost     Component = "host"
	ComponentHAL      Component = "hal"
	ComponentTransfer Component = "transfer"
	ComponentEndpoint Component = "endpoint"
	ComponentMSC      Component = "msc"
	ComponentBlock    Component = "blockdev"
	ComponentStream   Component = "stream"
	ComponentCLI      Component = "cli"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText    LogFormat = iota // Text format (default)
	LogFormatJSON                     // JSON format
	LogFormatConsole                  // Colorized console format
)

// String returns the flag spelling of the format.
func (f LogFormat) String() string {
	switch f {
	case LogFormatJSON:
		return "json"
	case LogFormatConsole:
		return "console"
	default:
		return "text"
	}
}

// ParseLogFormat parses a format name as accepted by [LogFormat.String].
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	case "console":
		return LogFormatConsole, nil
	}
	return LogFormatText, fmt.Errorf("%w: log format %q", ErrInvalidParameter, s)
}

// ParseLogLevel parses a level name (debug, info, warn, error).
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn, fmt.Errorf("%w: log level %q", ErrInvalidParameter, s)
	}
	return level, nil
}

var (
	// DefaultLogger is the default logger used by the host stack.
	DefaultLogger *slog.Logger

	// logLevel controls the minimum log level.
	logLevel = new(slog.LevelVar)

	// logFormat and logOutput remember how DefaultLogger was built.
	logFormat = LogFormatText
	logOutput io.Writer = os.Stderr

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	DefaultLogger = newHandlerLogger(logOutput, logFormat, &slog.HandlerOptions{Level: logLevel})
}

func newHandlerLogger(w io.Writer, format LogFormat, opts *slog.HandlerOptions) *slog.Logger {
	switch format {
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts))
	case LogFormatConsole:
		return slog.New(console.NewHandler(w, &console.HandlerOptions{
			AddSource: opts.AddSource,
			Level:     opts.Level,
		}))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

// SetLogLevel sets the minimum log level for all host stack logging.
func SetLogLevel(level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logLevel.Set(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() slog.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logLevel.Level()
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat configures the default logger to use the specified format.
// The logger writes to the current output (os.Stderr unless changed by
// [SetLogOutput]) and uses the current log level.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logFormat = format
	DefaultLogger = newHandlerLogger(logOutput, format, &slog.HandlerOptions{Level: logLevel})
}

// SetLogOutput re-targets the default logger at w, keeping the current format.
func SetLogOutput(w io.Writer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logOutput = w
	DefaultLogger = newHandlerLogger(w, logFormat, &slog.HandlerOptions{Level: logLevel})
}

// NewLogger creates a new text logger writing to the given writer.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewConsoleLogger creates a colorized console logger writing to w.
func NewConsoleLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return newHandlerLogger(w, LogFormatConsole, opts)
}

func logger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return DefaultLogger
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logger().Debug(msg, append([]any{"component", string(component)}, args...)...)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logger().Info(msg, append([]any{"component", string(component)}, args...)...)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logger().Warn(msg, append([]any{"component", string(component)}, args...)...)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logger().Error(msg, append([]any{"component", string(component)}, args...)...)
}
