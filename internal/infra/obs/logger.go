package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger logs at info level to stdout.
func NewLogger(env string) *slog.Logger {
	return NewLoggerTo(os.Stdout, env, slog.LevelInfo)
}

// NewLoggerTo writes colored text in dev environments and JSON lines
// everywhere else. Production records carry the service name and drop
// source locations.
func NewLoggerTo(w io.Writer, env string, level slog.Leveler) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if level == nil {
		level = slog.LevelInfo
	}
	if IsDevEnv(env) {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			AddSource:  true,
		}))
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "rentchat", "env", strings.ToLower(env))
}

// ParseLevel maps debug, info, warn and error onto slog levels; anything
// else is info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func NopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func IsDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "":
		return true
	}
	return false
}
