package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the daemon log file.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig enables an additional rotated log file.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config describes the daemon's own logging. The node's output never goes
// through here; it is captured by the log sink process.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Color  bool   // ANSI level colors for text output
	// HideTime drops the time attribute, for output that is already
	// timestamped by journald or a container runtime.
	HideTime bool
	File     FileConfig
}

// New builds a logger writing to stderr and, if File.Path is set, to a
// rotated file. The returned closer releases the file and is never nil.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.HideTime {
		opts.ReplaceAttr = dropTime
	}

	var closer io.Closer = nopCloser{}
	var w io.Writer = os.Stderr
	if cfg.File.Path != "" {
		fw := cfg.File.Writer()
		closer = fw
		w = io.MultiWriter(os.Stderr, fw)
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		if cfg.Color && cfg.File.Path == "" {
			h = NewColorTextHandler(w, opts, !cfg.HideTime)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h), closer, nil
}

// Writer returns a rotating writer for Path, or nil if Path is empty.
func (c FileConfig) Writer() io.WriteCloser {
	if c.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.Path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
