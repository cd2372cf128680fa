package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes evaluated at log time, such as the
// session role or the world being tracked.
type ContextProvider func() []slog.Attr

// SessionContext tags records with the session id, the world and the
// process role ("authority" or "observer"). Empty values are left out.
func SessionContext(session, world, role string) ContextProvider {
	var attrs []slog.Attr
	for _, a := range []slog.Attr{
		slog.String("session", session),
		slog.String("world", world),
		slog.String("role", role),
	} {
		if a.Value.String() != "" {
			attrs = append(attrs, a)
		}
	}
	return func() []slog.Attr { return attrs }
}

// ContextHandler adds the provider's attributes to every record before
// passing it on.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{inner: inner, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		if attrs := h.provider(); len(attrs) > 0 {
			r = r.Clone()
			r.AddAttrs(attrs...)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}
