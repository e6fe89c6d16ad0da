// Package logging configures the process-wide slog logger used across conduit.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const conduitPackagePrefix = "github.com/kadirpekel/conduit"

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error. Unknown strings default to warn.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// filteringHandler suppresses third-party library logs unless the level is debug.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug {
		return h.handler.Handle(ctx, record)
	}
	if h.isConduitPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func (h *filteringHandler) isConduitPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	fullName := fn.Name()
	file, _ := fn.FileLine(pc)
	return strings.Contains(fullName, conduitPackagePrefix) || strings.Contains(file, "conduit/")
}

// Options configures New.
type Options struct {
	Level  string
	Format string // "text" or "json"
	Output io.Writer
}

// New builds a logger per Options, filtering non-conduit chatter above debug.
func New(opts Options) *slog.Logger {
	level, _ := ParseLevel(opts.Level)
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}

	var base slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		base = slog.NewJSONHandler(out, handlerOpts)
	} else {
		base = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(&filteringHandler{handler: base, minLevel: level})
}
