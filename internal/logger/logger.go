// Package logger builds the process logger: leveled slog records written to a rotating
// file, optionally mirrored to stderr.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxSizeMB   = 1    // 1MB per file
	maxAgeDays  = 14   // Keep 2 weeks
	maxBackups  = 20   // Max old log files
	compressOld = true // Compress rotated logs
)

// Options configures New.
type Options struct {
	// Path is the log file. Empty disables file output.
	Path string
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Stderr mirrors records to stderr.
	Stderr bool
}

// Logger wraps the slog logger together with its rotating file.
type Logger struct {
	*slog.Logger
	file io.WriteCloser
	path string
}

// New creates a logger. With neither a path nor stderr enabled it discards records.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	var writers []io.Writer
	var rotator *lumberjack.Logger
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    maxSizeMB,
			MaxAge:     maxAgeDays,
			MaxBackups: maxBackups,
			Compress:   compressOld,
			LocalTime:  true,
		}
		writers = append(writers, rotator)
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	l := &Logger{
		Logger: slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})),
		path:   opts.Path,
	}
	if rotator != nil {
		l.file = rotator
	}
	return l, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Path returns the log file path, or "" when logging only to stderr.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}
