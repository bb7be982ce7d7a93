// Package logger は slog ベースのロガーを構築します。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options はロガーの出力設定です。
type Options struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" または "text"
	Output io.Writer
}

// New は設定に従って slog.Logger を作成します。
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
