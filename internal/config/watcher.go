package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps the most recent valid configuration snapshot for a file and
// refreshes it when the file is edited on disk
type Watcher struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Config]
	onLoad  func(err error)

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithReloadHook registers a function called after every reload attempt
func WithReloadHook(fn func(err error)) WatcherOption {
	return func(w *Watcher) {
		w.onLoad = fn
	}
}

// NewWatcher starts watching the directory containing path. initial is served
// until the first successful reload.
func NewWatcher(path string, initial *Config, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Editors commonly replace the file, so the directory is watched instead of the inode
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    filepath.Clean(path),
		logger:  logger,
		watcher: fw,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.current.Store(initial)

	w.wg.Add(1)
	go w.watchLoop()

	return w, nil
}

// Current returns the latest valid snapshot
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Reload re-reads the file. An invalid file leaves the previous snapshot in place.
func (w *Watcher) Reload() (*Config, error) {
	cfg, err := Load(w.path)
	if w.onLoad != nil {
		w.onLoad(err)
	}
	if err != nil {
		return w.current.Load(), err
	}
	w.current.Store(cfg)
	return cfg, nil
}

// Close stops the watcher
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if _, err := w.Reload(); err != nil {
				w.logger.Warn("Config reload rejected, keeping previous settings",
					slog.String("path", w.path),
					slog.String("error", err.Error()),
				)
				continue
			}
			w.logger.Info("Config reloaded", slog.String("path", w.path))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", slog.String("error", err.Error()))
		}
	}
}
