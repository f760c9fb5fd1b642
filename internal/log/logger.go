package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type RotationConfig struct {
	File      string
	MaxSizeMB int
	MaxFiles  int
}

func NewRotatingWriter(cfg RotationConfig) (*lumberjack.Logger, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("rotation file path must not be empty")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 5
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
	}, nil
}

// Options selects level, format and sink. An empty File logs to Stderr.
type Options struct {
	Level    string
	Format   string // "text" or "json"
	Rotation RotationConfig
	Stderr   io.Writer
}

func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log: bad level %q", s)
	}
	return lvl, nil
}

// New returns a redacting logger and a closer for its sink.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = opts.Stderr
		closer io.Closer = nopCloser{}
	)
	if w == nil {
		w = os.Stderr
	}
	if opts.Rotation.File != "" {
		rw, err := NewRotatingWriter(opts.Rotation)
		if err != nil {
			return nil, nil, err
		}
		w, closer = rw, rw
	}

	hopts := &slog.HandlerOptions{Level: lvl}
	var inner slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		inner = slog.NewTextHandler(w, hopts)
	case "json":
		inner = slog.NewJSONHandler(w, hopts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("log: unknown format %q", opts.Format)
	}
	return slog.New(NewRedactingHandler(inner)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Discard drops everything.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }
