package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for captured server console output.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes logging for the wrapper itself and for the captured
// server console. If ConsolePath is empty and Dir is set, console output
// goes to Dir/<name>.console.log. Rotation parameters follow lumberjack
// semantics.
type Config struct {
	Level       string `mapstructure:"level"`        // debug|info|warn|error (default info)
	Dir         string `mapstructure:"dir"`          // base directory for log files
	ConsolePath string `mapstructure:"console_path"` // explicit console capture path overrides Dir
	MaxSizeMB   int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups  int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays  int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress    bool   `mapstructure:"compress"`     // gzip rotated files
}

// New builds the wrapper's slog.Logger writing colored text to w.
func New(w io.Writer, c Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	return slog.New(NewColorTextHandler(w, opts, true))
}

// Default returns a logger for stderr with the given config.
func Default(c Config) *slog.Logger { return New(os.Stderr, c) }

// ConsoleWriter returns a rotating writer capturing the server console for
// the named server, or nil when no destination is configured.
func (c Config) ConsoleWriter(name string) io.WriteCloser {
	path := c.ConsolePath
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, fmt.Sprintf("%s.console.log", name))
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
