package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Console outputs, swapped in tests.
var (
	osStdout io.Writer = os.Stdout
	osStderr io.Writer = os.Stderr
)

// SlogManager manages slog-based logging.
type SlogManager struct {
	logger *slog.Logger
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the logging system. With a file, records go to the file
// and warnings are repeated on stderr; without one, everything goes to stdout.
// provider, if non-nil, adds session attributes to every record; see
// SessionContext.
func (m *SlogManager) Setup(file io.Writer, level string, provider ContextProvider) {
	lvl := parseLevel(level)
	opts := handlerOptions(lvl)

	if file != nil {
		m.install(level, provider,
			Sink{Handler: slog.NewTextHandler(file, opts), Min: lvl},
			Sink{Handler: slog.NewTextHandler(osStderr, opts), Min: max(lvl, slog.LevelWarn)},
		)
		return
	}
	m.install(level, provider, Sink{Handler: slog.NewTextHandler(osStdout, opts), Min: lvl})
}

// SetupStderr sends every record to stderr, leaving stdout to command
// output.
func (m *SlogManager) SetupStderr(level string, provider ContextProvider) {
	lvl := parseLevel(level)
	m.install(level, provider, Sink{Handler: slog.NewTextHandler(osStderr, handlerOptions(lvl)), Min: lvl})
}

func handlerOptions(lvl slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
}

func (m *SlogManager) install(level string, provider ContextProvider, sinks ...Sink) {
	var handler slog.Handler = NewFanoutHandler(sinks...)
	if provider != nil {
		handler = NewContextHandler(handler, provider)
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// WriteLog writes a log entry with the specified function name, data, and level.
func (m *SlogManager) WriteLog(functionName, data, level string) {
	if m.logger == nil {
		return
	}

	lvl := parseLevel(level)

	switch lvl {
	case slog.LevelDebug:
		m.logger.Debug(data, "function", functionName)
	case slog.LevelInfo:
		m.logger.Info(data, "function", functionName)
	case slog.LevelWarn:
		m.logger.Warn(data, "function", functionName)
	case slog.LevelError:
		m.logger.Error(data, "function", functionName)
	default:
		m.logger.Info(data, "function", functionName)
	}
}
