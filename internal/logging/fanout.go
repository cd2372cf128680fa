package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Sink is one destination of a FanoutHandler. Records below Min are not
// passed to it, whatever its own level.
type Sink struct {
	Handler slog.Handler
	Min     slog.Level
}

// FanoutHandler copies each record to every sink that accepts its level.
// The session log file takes everything at the configured level while the
// console only sees warnings.
type FanoutHandler struct {
	sinks []Sink
}

// NewFanoutHandler drops sinks without a handler.
func NewFanoutHandler(sinks ...Sink) *FanoutHandler {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Handler != nil {
			kept = append(kept, s)
		}
	}
	return &FanoutHandler{sinks: kept}
}

func (s Sink) accepts(ctx context.Context, level slog.Level) bool {
	return level >= s.Min && s.Handler.Enabled(ctx, level)
}

func (f *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f.sinks {
		if s.accepts(ctx, level) {
			return true
		}
	}
	return false
}

// Handle keeps going past a failing sink and joins the errors.
func (f *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if !s.accepts(ctx, r.Level) {
			continue
		}
		if err := s.Handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *FanoutHandler) derive(fn func(slog.Handler) slog.Handler) *FanoutHandler {
	sinks := make([]Sink, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = Sink{Handler: fn(s.Handler), Min: s.Min}
	}
	return &FanoutHandler{sinks: sinks}
}
