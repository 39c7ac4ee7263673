package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"taskrun/pkg/logging"
)

// Watcher reloads a configuration file when it changes on disk and swaps the
// result into an AtomicProvider. Invalid files are logged and ignored so the
// last good configuration stays active.
//
// The parent directory is watched rather than the file itself so that atomic
// replacements (editor rename-on-save, ConfigMap volume "..data" symlink swaps)
// are picked up.
type Watcher struct {
	path     string
	provider *AtomicProvider
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	onReload []func(*ControllerConfig)
}

// NewWatcher creates a watcher for path. A zero debounce defaults to 500ms.
func NewWatcher(path string, provider *AtomicProvider, debounce time.Duration) *Watcher {
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		path:     path,
		provider: provider,
		debounce: debounce,
	}
}

// OnReload registers fn to be called after each successful reload.
func (w *Watcher) OnReload(fn func(*ControllerConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logging.Info("Config", "Watching %s for configuration changes", w.path)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if w.isRelevant(event) {
				w.schedule()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("Config", err, "Configuration watcher error")
		}
	}
}

func (w *Watcher) isRelevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	return base == filepath.Base(w.path) || base == "..data"
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		logging.Warn("Config", "Ignoring configuration change: %v", err)
		return
	}
	w.provider.Store(cfg)

	w.mu.Lock()
	hooks := append([]func(*ControllerConfig){}, w.onReload...)
	w.mu.Unlock()
	for _, fn := range hooks {
		fn(cfg)
	}
	logging.Info("Config", "Reloaded configuration from %s", w.path)
}
