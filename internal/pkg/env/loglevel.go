package env

import (
	"log/slog"
	"strings"
)

// ParseLogLevel reads LOG_LEVEL. It accepts anything slog.Level understands
// ("debug", "INFO", "warn+2") plus "warning". Empty or invalid values return
// fallback.
func ParseLogLevel(fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(Get("LOG_LEVEL", ""))
	if strings.EqualFold(raw, "warning") {
		return slog.LevelWarn
	}
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}
