// Package environment reads bootstrap settings from environment variables.
//
// Service configuration is loaded through viper in cmd/rinko; the helpers here
// cover the handful of values needed before that happens (config file path,
// log level and format, shutdown grace period).
package environment

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// StringOr returns the value of the named environment variable, or
// defaultValue if the variable is unset or blank.
func StringOr(name, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return defaultValue
}

// DurationOr parses the named environment variable as a time.Duration ("30s",
// "5m"). Unset, blank or unparsable values yield defaultValue.
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// LevelOr parses the named environment variable as a slog level. Accepted
// values are debug, info, warn/warning and error, case-insensitive.
func LevelOr(name string, defaultValue slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultValue
	}
}
