package safety

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 500 * time.Millisecond

// RulesWatcher reloads the gate's rule table when the rule file changes on disk.
type RulesWatcher struct {
	watcher  *fsnotify.Watcher
	gate     *Gate
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewRulesWatcher watches the directory holding path so that editors replacing the file are noticed too.
func NewRulesWatcher(gate *Gate, path string, logger *slog.Logger) (*RulesWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rules path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", abs, err)
	}

	return &RulesWatcher{
		watcher:  watcher,
		gate:     gate,
		path:     abs,
		debounce: defaultReloadDebounce,
		logger:   logger.With("component", "safety.reload"),
	}, nil
}

// Run blocks until ctx is cancelled.
func (w *RulesWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, func() {
				if err := w.gate.ReloadRules(w.path); err != nil {
					w.logger.Error("rules reload failed, keeping previous table", "path", w.path, "err", err)
					return
				}
				w.logger.Info("rules reloaded", "path", w.path)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "err", err)
		}
	}
}
