package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tether/pkg/logging"
)

// Watcher reloads the static fallback table into a Cache when the backing
// config.yaml changes on disk.
//
// It watches the configuration directory rather than the file itself so that
// editors that replace the file (write to temp, rename over) are still
// observed. Events are debounced because a single save typically produces
// several filesystem events.
type Watcher struct {
	mu sync.Mutex

	configPath string
	cache      *Cache

	watcher          *fsnotify.Watcher
	debounceInterval time.Duration
	reloadTimer      *time.Timer

	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher binding the config directory to the cache.
func NewWatcher(configPath string, cache *Cache, debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}

	return &Watcher{
		configPath:       configPath,
		cache:            cache,
		debounceInterval: debounceInterval,
		stopCh:           make(chan struct{}),
	}
}

// Start begins watching for configuration changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.configPath); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.running = true
	w.stopCh = make(chan struct{})

	go w.loop()
	logging.Info("ConfigWatcher", "Watching %s for configuration changes", w.configPath)
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	w.watcher.Close()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("ConfigWatcher", "Watch error: %v", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(w.debounceInterval, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		logging.Error("ConfigWatcher", err, "Failed to reload configuration, keeping previous fallback table")
		return
	}
	w.cache.ReplaceFallback(cfg.FallbackTable())
}
