package logging

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Rijam/BossChecklist/internal/dispatcher"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

// DispatcherLogger writes packet routing logs as zerolog JSON lines.
// Packet types and other Stringers are logged by name, and errors by
// message, so a line reads "type":"record_update" rather than a number.
type DispatcherLogger struct {
	logger zerolog.Logger
}

func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger}
}

// ForRole tags every line with the session role of the dispatcher's owner.
func (l *DispatcherLogger) ForRole(role string) *DispatcherLogger {
	return &DispatcherLogger{logger: l.logger.With().Str("role", role).Logger()}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	l.write(l.logger.Debug(), msg, keysAndValues)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	l.write(l.logger.Info(), msg, keysAndValues)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	l.write(l.logger.Error(), msg, keysAndValues)
}

// write drops a trailing key without a value and pairs whose key is not a
// string.
func (l *DispatcherLogger) write(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
