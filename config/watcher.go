package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher watches a config file for changes and reloads it. It watches the
// containing directory rather than the file itself so editors that replace
// the file on save (rename-over-write) are still detected.
type Watcher struct {
	watcher    *fsnotify.Watcher
	path       string
	debounceMs int
	lastChange time.Time
	mu         sync.Mutex
	logger     *logrus.Entry
	onReload   func(*Config)
}

// NewWatcher creates a Watcher for the config file at path. The debounceMs
// parameter controls how long to wait before processing rapid changes. The
// onReload callback receives the freshly parsed config; it is not called when
// the changed file fails to parse or validate.
func NewWatcher(path string, debounceMs int, logger *logrus.Entry, onReload func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	if debounceMs <= 0 {
		debounceMs = 100
	}

	return &Watcher{
		watcher:    watcher,
		path:       path,
		debounceMs: debounceMs,
		logger:     logger,
		onReload:   onReload,
	}, nil
}

// Start begins watching for config changes. It blocks until the context is
// cancelled.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !w.isConfigFile(event.Name) {
				continue
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)
			w.handleChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			w.watcher.Close()
			return
		}
	}
}

// isConfigFile reports whether name refers to the watched config file.
func (w *Watcher) isConfigFile(name string) bool {
	if filepath.Base(name) == filepath.Base(w.path) {
		return true
	}
	// A rename-over-write may first surface under a temp name; accept any
	// cosync.* config name in the watched directory.
	base := filepath.Base(name)
	return strings.HasPrefix(base, "cosync.") &&
		(strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".toml"))
}

// handleChange reloads the config with debouncing.
func (w *Watcher) handleChange() {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := time.Since(w.lastChange)
	if elapsed < time.Duration(w.debounceMs)*time.Millisecond {
		w.logger.Debugf("Debounced config change (only %v since last change)", elapsed)
		return
	}
	w.lastChange = time.Now()

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("Config changed but failed to reload; keeping previous config")
		return
	}

	w.logger.WithField("file", filepath.Base(w.path)).Info("Config reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
