package logger

import (
	"context"
	"fmt"
	"log/slog"
)

// redactedKeys hold message text. Above debug level their values are
// replaced by their length.
var redactedKeys = map[string]bool{
	"body":    true,
	"content": true,
	"reply":   true,
	"prompt":  true,
}

type redactHandler struct {
	next slog.Handler
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level <= slog.LevelDebug || !hasRedactedAttr(record) {
		return h.next.Handle(ctx, record)
	}

	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redact(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &redactHandler{next: h.next.WithAttrs(attrs)}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{next: h.next.WithGroup(name)}
}

func hasRedactedAttr(record slog.Record) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		found = redactedKeys[attr.Key]
		return !found
	})
	return found
}

func redact(attr slog.Attr) slog.Attr {
	if !redactedKeys[attr.Key] {
		return attr
	}

	text := attr.Value.Resolve().String()
	return slog.String(attr.Key, fmt.Sprintf("<%d chars>", len(text)))
}
