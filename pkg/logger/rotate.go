package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultLedgerSizeMB  = 20
	defaultLedgerBackups = 5
)

// rotatingWriter appends to path and shifts it to path.1, path.2, ... once it
// would grow beyond maxSize.
type rotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64
	maxBackups int
	size       int64
}

func newRotatingWriter(path string, maxSizeMB, maxBackups int) (*rotatingWriter, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultLedgerSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultLedgerBackups
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &rotatingWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *rotatingWriter) open() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat ledger: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	w.file = nil
	w.size = 0

	_ = os.Remove(w.backupName(w.maxBackups))
	for i := w.maxBackups - 1; i >= 1; i-- {
		if _, err := os.Stat(w.backupName(i)); err == nil {
			if err := os.Rename(w.backupName(i), w.backupName(i+1)); err != nil {
				return fmt.Errorf("shift ledger backup: %w", err)
			}
		}
	}
	if err := os.Rename(w.path, w.backupName(1)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rotate ledger: %w", err)
	}
	return nil
}

func (w *rotatingWriter) backupName(index int) string {
	return fmt.Sprintf("%s.%d", w.path, index)
}
