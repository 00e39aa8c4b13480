package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// formatterHandler adapts a LogFormatter to the slog.Handler interface, so
// the text/color renderers above can back a real *slog.Logger instead of
// sitting unused behind their own standalone API.
type formatterHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     slog.Level
	formatter LogFormatter
	attrs     []slog.Attr
}

func newFormatterHandler(out io.Writer, level slog.Level, formatter LogFormatter) *formatterHandler {
	return &formatterHandler{mu: &sync.Mutex{}, out: out, level: level, formatter: formatter}
}

func (h *formatterHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *formatterHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})

	entry := LogEntry{
		Timestamp: r.Time,
		Level:     slogLevelToLogLevel(r.Level),
		Message:   r.Message,
		Fields:    fields,
	}
	line := h.formatter.Format(entry)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.out, line)
	return err
}

func (h *formatterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &formatterHandler{mu: h.mu, out: h.out, level: h.level, formatter: h.formatter, attrs: merged}
}

func (h *formatterHandler) WithGroup(_ string) slog.Handler {
	return h
}

func slogLevelToLogLevel(l slog.Level) LogLevel {
	switch {
	case l < slog.LevelInfo:
		return DEBUG
	case l < slog.LevelWarn:
		return INFO
	case l < slog.LevelError:
		return WARN
	default:
		return ERROR
	}
}
