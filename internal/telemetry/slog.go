package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// logLevel backs every handler installed by SetupLogger so the level can change at runtime.
var logLevel slog.LevelVar

// ParseLevel maps "debug", "info", "warn"/"warning", "error" (case-insensitive) to a slog
// level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger installs the process-wide slog logger writing to stdout. format "json" selects
// the JSON handler; anything else is logfmt-style text. Debug level adds source locations.
func SetupLogger(format, level string) {
	setupLogger(os.Stdout, format, level)
}

// secretKeys are attribute names whose values are never written. Plaintext app keys,
// passwords and session tokens must not reach log storage even when a caller slips.
var secretKeys = map[string]bool{
	"api_key":       true,
	"key":           true,
	"password":      true,
	"token":         true,
	"authorization": true,
	"secret":        true,
}

const redacted = "[REDACTED]"

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redacted)
	}
	return a
}

func setupLogger(w io.Writer, format, level string) {
	lvl := ParseLevel(level)
	logLevel.Set(lvl)

	opts := &slog.HandlerOptions{
		Level:       &logLevel,
		AddSource:   lvl == slog.LevelDebug,
		ReplaceAttr: redactSecrets,
	}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

// SetLogLevel changes the level of the installed logger without replacing it.
// It returns the level now in effect.
func SetLogLevel(level string) slog.Level {
	lvl := ParseLevel(level)
	if logLevel.Level() != lvl {
		logLevel.Set(lvl)
		slog.Info("log level changed", "level", lvl.String())
	}
	return lvl
}

// LogLevel returns the level currently in effect.
func LogLevel() slog.Level {
	return logLevel.Level()
}
