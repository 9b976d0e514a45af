// Package logging builds the slog loggers used across the bot.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level and the optional rotated log file.
type Config struct {
	Level string

	// Dir enables file logging when non-empty.
	Dir  string
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	NoColor bool
}

// New returns a console logger, teeing into a rotated file when cfg.Dir is set. The returned
// closer releases the file and is never nil.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	opts := &tint.Options{
		Level:      ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		AddSource:  true,
		NoColor:    cfg.NoColor,
	}

	if cfg.Dir == "" {
		return slog.New(tint.NewHandler(console, opts)), nopCloser{}, nil
	}

	if cfg.MaxSizeMB <= 0 || cfg.MaxBackups <= 0 || cfg.MaxAgeDays <= 0 {
		return nil, nil, fmt.Errorf("invalid log config: size=%d backups=%d age_days=%d", cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir failed: %w", err)
	}

	name := cfg.File
	if name == "" {
		name = "ddpbot.log"
	}
	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	// escape codes would end up in the file
	opts.NoColor = true
	logger := slog.New(tint.NewHandler(io.MultiWriter(console, logFile), opts))
	logger.Info("file_logging_enabled", slog.String("path", logFile.Filename))
	return logger, logFile, nil
}

// ParseLevel maps debug, info, warn and error to a slog level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
