package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file on change and hands the validated result to
// a callback. Editors often replace the file rather than write in place, so
// the parent directory is watched and events are filtered by name. A cooldown
// absorbs the burst of events a single save produces.
type Watcher struct {
	path     string
	cooldown time.Duration
	log      *zap.Logger

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		cooldown: time.Second,
		log:      log,
		watcher:  fsw,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start begins watching; onUpdate receives each successfully reloaded config.
// Reload failures keep the previous config and are logged.
func (w *Watcher) Start(onUpdate func(AppConfig)) {
	go w.run(onUpdate)
}

// Stop terminates the watch loop.
func (w *Watcher) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

func (w *Watcher) run(onUpdate func(AppConfig)) {
	defer close(w.doneChan)
	defer w.watcher.Close()

	var lastReload time.Time
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if time.Since(lastReload) < w.cooldown {
				continue
			}
			lastReload = time.Now()

			cfg, err := LoadWithEnvOverrides(w.path)
			if err != nil {
				w.log.Warn("config reload failed, keeping previous",
					zap.String("path", w.path),
					zap.Error(err))
				continue
			}
			w.log.Info("config reloaded", zap.String("path", w.path))
			if onUpdate != nil {
				onUpdate(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}
