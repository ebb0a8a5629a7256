package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/metasys/bops/pkg/telemetry"
)

// DefaultReloadDelay is how long the watcher waits for further changes before
// reloading.
const DefaultReloadDelay = 500 * time.Millisecond

// ReloadFunc receives the configuration parsed after a change. parsed may hold
// errors; the callback decides whether to apply it.
type ReloadFunc func(ctx context.Context, parsed *ParsedConfig) error

// Watcher reloads configuration sources when files change.
type Watcher struct {
	loader  *Loader
	sources []string
	delay   time.Duration
	logger  *telemetry.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

// NewWatcher creates a watcher for sources. A delay of zero uses DefaultReloadDelay.
func NewWatcher(loader *Loader, sources []string, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	return &Watcher{
		loader:  loader,
		sources: sources,
		delay:   delay,
		logger:  loader.logger.NewComponentLogger("config-watcher"),
	}
}

// Watch starts watching in the background. It returns once the watches are
// installed. Watching stops when ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, reload ReloadFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, source := range w.sources {
		info, err := os.Stat(source)
		if err != nil {
			w.logger.WithError(err).WithField("path", source).Warn("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			err = filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return watcher.Add(path)
				}
				return nil
			})
		} else {
			// editors replace files, so watch the parent directory
			err = watcher.Add(filepath.Dir(source))
		}
		if err != nil {
			w.logger.WithError(err).WithField("path", source).Warn("Failed to watch path")
		}
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, reload)

	w.logger.WithField("paths", len(w.sources)).Info("Started watching configuration")
	return nil
}

// processEvents debounces file events into reloads.
func (w *Watcher) processEvents(ctx context.Context, reload ReloadFunc) {
	for {
		select {
		case <-ctx.Done():
			w.stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if _, ok := FormatOf(event.Name); !ok {
				continue
			}

			w.logger.WithFields(map[string]any{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("Configuration file changed")
			w.schedule(ctx, reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, reload ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.reload(ctx, reload); err != nil {
			w.logger.WithError(err).Error("Failed to reload configuration")
		}
	})
}

func (w *Watcher) reload(ctx context.Context, reload ReloadFunc) error {
	w.logger.Info("Reloading configuration")

	parsed, err := w.loader.Parse(ctx, w.sources...)
	if err != nil {
		return err
	}
	if err := reload(ctx, parsed); err != nil {
		return fmt.Errorf("failed to apply reloaded configuration: %w", err)
	}
	return nil
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}
