package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string       `json:"level"`
	Format      string       `json:"format"`
	OutputPaths []string     `json:"output_paths"`
	Ledger      LedgerConfig `json:"ledger"`
}

// LedgerConfig controls the transaction ledger. Every submitted transaction
// and every deployment is appended there as one JSON line.
type LedgerConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	ledgerLogger  *slog.Logger
	closers       []io.Closer
)

// Init configures the global loggers. It may be called again to replace them;
// writers opened by a previous call are closed first.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if err := closeAll(); err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	handler, err := buildHandler(cfg.Format, cfg.OutputPaths, opts)
	if err != nil {
		return err
	}
	defaultLogger = slog.New(handler)

	ledgerLogger = defaultLogger.WithGroup("ledger")
	if cfg.Ledger.Enabled {
		ledger, err := buildLedgerLogger(cfg.Ledger)
		if err != nil {
			return err
		}
		ledgerLogger = ledger
	}
	return nil
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	writers := make([]io.Writer, 0, len(outputs))
	if len(outputs) == 0 {
		writers = append(writers, os.Stderr)
	}
	for _, out := range outputs {
		writer, closer, err := openWriter(out)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		writers = append(writers, writer)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}

	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(writer, opts), nil
	}
	return slog.NewTextHandler(writer, opts), nil
}

func buildLedgerLogger(cfg LedgerConfig) (*slog.Logger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("ledger path cannot be empty when enabled")
	}
	writer, err := newRotatingWriter(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups)
	if err != nil {
		return nil, err
	}
	closers = append(closers, writer)
	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})), nil
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, file, nil
}

func parseLevel(level string) slog.Level {
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

// L returns the structured logger, initialising a stderr text logger on first use.
func L() *slog.Logger {
	mu.Lock()
	initialised := defaultLogger != nil
	mu.Unlock()
	if !initialised {
		_ = Init(Config{})
	}
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Ledger returns the transaction ledger logger.
func Ledger() *slog.Logger {
	l := L()
	mu.Lock()
	defer mu.Unlock()
	if ledgerLogger == nil {
		return l
	}
	return ledgerLogger
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes every file opened by Init.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	return closeAll()
}

func closeAll() error {
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}
