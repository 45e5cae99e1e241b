package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/helpdesk-io/helpdesk/internal/config"
)

// FileShipper appends events to a JSON-lines file, rotating it by size.
type FileShipper struct {
	path       string
	maxBytes   int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
}

// NewFileShipper opens (or creates) the file at cfg.Path for appending.
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	f, err := openAppend(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &FileShipper{
		path:       cfg.Path,
		maxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		file:       f,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return f, nil
}

// Ship writes the event as one line.
func (fs *FileShipper) Ship(_ context.Context, event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.maxBytes > 0 {
		if info, err := fs.file.Stat(); err == nil && info.Size() > fs.maxBytes {
			if err := fs.rotate(); err != nil {
				return fmt.Errorf("failed to rotate audit log: %w", err)
			}
		}
	}

	if _, err := fs.file.Write(line); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1, and reopens path.
// Backups beyond maxBackups are removed. Caller holds fs.mu.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	backup := func(n int) string { return fmt.Sprintf("%s.%d", fs.path, n) }
	if fs.maxBackups > 0 {
		_ = os.Remove(backup(fs.maxBackups))
	}
	for n := fs.maxBackups - 1; n >= 1; n-- {
		_ = os.Rename(backup(n), backup(n+1))
	}
	if fs.maxBackups > 0 {
		_ = os.Rename(fs.path, backup(1))
	} else {
		_ = os.Remove(fs.path)
	}

	f, err := openAppend(fs.path)
	if err != nil {
		return err
	}
	fs.file = f
	return nil
}

// Close closes the file.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
