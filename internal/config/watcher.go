package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/firi/hlasm-langserver/internal/logger"
)

// Watcher live-reloads a single config file's log level, repointed from
// the teacher's internal/daemon/watcher.go (which watches an entire C++
// source tree for rebuild triggers) onto watching the one optional YAML
// file this core reads -- the core owns no source tree of its own.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	current Config
	onLevel func(logger.LogLevel)
	log     logger.Logger

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	stop chan struct{}
}

// NewWatcher starts watching path and calls onLevel whenever a reload
// changes LogLevel from the last-seen value. The file itself is watched,
// not its directory, so a save that replaces the file by rename ends the
// watch.
func NewWatcher(path string, initial Config, onLevel func(logger.LogLevel), log logger.Logger) (*Watcher, error) {
	if log == nil {
		log = &logger.NullLogger{}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		path:    path,
		current: initial,
		onLevel: onLevel,
		log:     log,
		stop:    make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.debounce()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error: %v", err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) debounce() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(250*time.Millisecond, w.reload)
}

func (w *Watcher) reload() {
	updated, err := LoadFile(w.path, w.current)
	if err != nil {
		w.log.Error("config reload failed: %v", err)
		return
	}
	if updated.LogLevel != w.current.LogLevel {
		w.current = updated
		if w.onLevel != nil {
			w.onLevel(updated.LogLevel)
		}
		w.log.Info("config reload: log level changed to %s", updated.LogLevel)
		return
	}
	w.current = updated
}

// Close stops the watcher goroutine and releases the underlying
// fsnotify.Watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	return w.watcher.Close()
}
