package logger

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

const colorReset = "\033[0m"

// ColorTextHandler prints an ANSI-colored level ahead of a slog.TextHandler
// line. The level is written straight to the output because TextHandler
// quotes any value holding control bytes.
type ColorTextHandler struct {
	*slog.TextHandler
	w        io.Writer
	mu       *sync.Mutex // shared by derived handlers; keeps prefix and line together
	showTime bool
}

// NewColorTextHandler creates a new ColorTextHandler. With showTime false the
// time attribute is dropped, which keeps interactive CLI output short.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	o := slog.HandlerOptions{}
	if opts != nil {
		o = *opts
	}
	next := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 {
			switch {
			case a.Key == slog.LevelKey:
				return slog.Attr{}
			case a.Key == slog.TimeKey && !showTime:
				return slog.Attr{}
			}
		}
		if next != nil {
			return next(groups, a)
		}
		return a
	}
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, &o),
		w:           w,
		mu:          &sync.Mutex{},
		showTime:    showTime,
	}
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // Red
	case l >= slog.LevelWarn:
		return "\033[33m" // Yellow
	case l >= slog.LevelInfo:
		return "\033[32m" // Green
	default:
		return "\033[36m" // Cyan
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := io.WriteString(h.w, levelColor(r.Level)+r.Level.String()+colorReset+" "); err != nil {
		return err
	}
	return h.TextHandler.Handle(ctx, r)
}

// WithAttrs keeps coloring for derived loggers such as log.With("component", ...).
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithAttrs(attrs).(*slog.TextHandler), w: h.w, mu: h.mu, showTime: h.showTime}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithGroup(name).(*slog.TextHandler), w: h.w, mu: h.mu, showTime: h.showTime}
}
