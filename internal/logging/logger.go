package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LevelOff disables every record, matching the CMS "off" log level.
const LevelOff = slog.Level(100)

// New creates a process logger with JSON output for backend services.
// When buf is not nil every enabled record is also kept there for
// submission to the CMS.
func New(level slog.Leveler, buf *Buffer) *slog.Logger {
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if buf != nil {
		handler = &teeHandler{next: handler, buf: buf}
	}
	return slog.New(handler)
}

// ParseLevel maps the level names used by config files and the CMS.
func ParseLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace", "debug", "audit":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "off":
		return LevelOff, true
	default:
		return slog.LevelInfo, false
	}
}

type teeHandler struct {
	next   slog.Handler
	buf    *Buffer
	attrs  []string
	prefix string
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, attr := range h.attrs {
		b.WriteByte(' ')
		b.WriteString(attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		b.WriteByte(' ')
		b.WriteString(formatAttr(h.prefix, a))
		return true
	})
	h.buf.Push(Entry{Time: r.Time, Level: r.Level, Message: b.String()})
	return h.next.Handle(ctx, r)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]string, len(h.attrs), len(h.attrs)+len(attrs))
	copy(next, h.attrs)
	for _, a := range attrs {
		next = append(next, formatAttr(h.prefix, a))
	}
	return &teeHandler{next: h.next.WithAttrs(attrs), buf: h.buf, attrs: next, prefix: h.prefix}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &teeHandler{next: h.next.WithGroup(name), buf: h.buf, attrs: h.attrs, prefix: h.prefix + name + "."}
}

func formatAttr(prefix string, a slog.Attr) string {
	return fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value.Resolve().Any())
}
