package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 500 * time.Millisecond

// WatchConfig initializes a filesystem watcher for the specified files.
// It returns a channel that emits an empty struct when a change is detected
// and debounced. The watcher runs in a goroutine until the context is canceled.
//
// The parent directory is watched instead of the file itself so that editors
// doing atomic saves (write temp + rename) keep triggering events.
func WatchConfig(ctx context.Context, files ...string) <-chan struct{} {
	reloadCh := make(chan struct{}, 1) // Buffer 1 so we don't block sender

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create fsnotify watcher", "error", err)
		close(reloadCh)
		return reloadCh
	}

	targets := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Could not resolve absolute path for watch file", "file", file)
			continue
		}
		targets[absPath] = true
		dirs[filepath.Dir(absPath)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("Could not watch directory", "dir", dir, "error", err)
		} else {
			slog.Debug("Watching configuration directory", "dir", dir)
		}
	}

	go func() {
		defer watcher.Close()
		defer close(reloadCh)

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, _ := filepath.Abs(event.Name)
				if !targets[name] {
					continue
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounceDuration, func() {
						slog.Info("Configuration change detected", "file", event.Name)
						select {
						case reloadCh <- struct{}{}:
						default:
						}
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Watcher encountered an error", "error", err)
			}
		}
	}()

	return reloadCh
}

// SystemStore holds the current SystemConfig. Readers take a snapshot per
// run; Reload swaps the pointer atomically.
type SystemStore struct {
	path string
	cur  atomic.Pointer[SystemConfig]
	// OnReload is invoked with the new config after every successful reload.
	OnReload func(*SystemConfig)
}

// NewSystemStore seeds the store with an already loaded config.
func NewSystemStore(path string, initial *SystemConfig) *SystemStore {
	s := &SystemStore{path: path}
	s.cur.Store(initial)
	return s
}

// Get returns the current snapshot. Callers must not mutate it.
func (s *SystemStore) Get() *SystemConfig {
	return s.cur.Load()
}

// Reload re-reads the system file. Environment overrides are re-applied
// through applyEnv so a reload never undoes them.
func (s *SystemStore) Reload(applyEnv func(*SystemConfig)) *SystemConfig {
	next := LoadSystemConfig(s.path)
	if applyEnv != nil {
		applyEnv(next)
	}
	s.cur.Store(next)
	if s.OnReload != nil {
		s.OnReload(next)
	}
	return next
}

// Watch reloads the store whenever the system file changes, until ctx ends.
func (s *SystemStore) Watch(ctx context.Context, applyEnv func(*SystemConfig)) {
	ch := WatchConfig(ctx, s.path)
	go func() {
		for range ch {
			cfg := s.Reload(applyEnv)
			slog.Info("System configuration reloaded",
				"max_iterations", cfg.MaxIterations,
				"tool_fallback", cfg.ToolFallback,
				"parallel_tools", cfg.ParallelTools,
				"log_level", cfg.LogLevel,
			)
		}
	}()
}
