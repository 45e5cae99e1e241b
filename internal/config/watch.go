package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration file whenever it changes on disk and passes the
// freshly validated Config to onChange. A reload that fails to parse or validate is
// logged and skipped so the previous configuration stays in effect.
//
// The parent directory is watched rather than the file itself because editors and
// Kubernetes ConfigMap updates replace the file through a rename. Watch returns once
// the watcher is running; it stops when ctx is cancelled.
func Watch(ctx context.Context, configPath string, onChange func(*Config)) error {
	if configPath == "" {
		return fmt.Errorf("config watch requires an explicit config file path")
	}
	target, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(target)
				if err != nil {
					slog.Warn("config reload failed, keeping previous configuration", "path", target, "error", err)
					continue
				}
				slog.Info("configuration reloaded", "path", target)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
