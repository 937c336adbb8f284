package logsink

import (
	"context"
	"log/slog"
)

// Fanout sends every record to each handler that accepts its level.
// Handler errors are dropped: a failing sink never fails the caller.
type Fanout struct {
	handlers []slog.Handler
}

// NewFanout builds a handler over hs. Nil handlers are skipped.
func NewFanout(hs ...slog.Handler) *Fanout {
	f := &Fanout{}
	for _, h := range hs {
		if h != nil {
			f.handlers = append(f.handlers, h)
		}
	}
	return f
}

// Enabled reports whether any handler accepts level.
func (f *Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards r.
func (f *Fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (f *Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := &Fanout{handlers: make([]slog.Handler, len(f.handlers))}
	for i, h := range f.handlers {
		out.handlers[i] = h.WithAttrs(attrs)
	}
	return out
}

// WithGroup implements slog.Handler.
func (f *Fanout) WithGroup(name string) slog.Handler {
	out := &Fanout{handlers: make([]slog.Handler, len(f.handlers))}
	for i, h := range f.handlers {
		out.handlers[i] = h.WithGroup(name)
	}
	return out
}
