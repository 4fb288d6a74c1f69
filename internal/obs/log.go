package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *slog.Logger
)

// Logger returns the shared structured logger. The first caller wins;
// SetupLogger configures it explicitly before anything logs.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = newLogger("info", "json", os.Stdout, "")
		}
	})
	return logger
}

// SetupLogger builds the process logger from configuration. Format is
// "json" or "text"; level one of debug/info/warn/error.
func SetupLogger(level, format, version string) *slog.Logger {
	loggerOnce.Do(func() {
		logger = newLogger(level, format, os.Stdout, version)
	})
	return logger
}

func newLogger(level, format string, out io.Writer, version string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}
	attrs := []slog.Attr{slog.String("service", "accessgate-api")}
	if version != "" {
		attrs = append(attrs, slog.String("version", version))
	}
	return slog.New(handler.WithAttrs(attrs))
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
