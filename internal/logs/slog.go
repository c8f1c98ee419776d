package logs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SlogHandler adapts the engine SDK's slog-based logging onto the shared
// logger so its output does not fight the tail box.
func SlogHandler() slog.Handler {
	return &slogBridge{}
}

type slogBridge struct {
	attrs []slog.Attr
}

func (h *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn
}

func (h *slogBridge) Handle(_ context.Context, rec slog.Record) error {
	var sb strings.Builder
	sb.WriteString(rec.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
	}
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
		return true
	})

	switch {
	case rec.Level >= slog.LevelError:
		Errorf("engine: %s", sb.String())
	default:
		Warnf("engine: %s", sb.String())
	}
	return nil
}

func (h *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &slogBridge{attrs: merged}
}

func (h *slogBridge) WithGroup(string) slog.Handler {
	return h
}
