// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package watcher hot-reloads the safety policy rule file. Edits to the file
// take effect without a server restart; a broken file keeps the previous
// rules in place.
package watcher

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const debounceWindow = 300 * time.Millisecond

// Watcher observes one file and invokes a callback after changes settle.
type Watcher struct {
	path     string
	onChange func()

	fs     *fsnotify.Watcher
	mu     sync.Mutex
	timer  *time.Timer
	doneCh chan struct{}
}

// New starts watching path. onChange runs on the watcher goroutine after each
// debounced burst of writes; it must be safe to call repeatedly.
func New(path string, onChange func()) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(path); err != nil {
		_ = fs.Close()
		return nil, err
	}
	w := &Watcher{path: path, onChange: onChange, fs: fs, doneCh: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
			// Editors that replace the file drop the watch; re-add it.
			if event.Op&fsnotify.Rename != 0 {
				if err := w.fs.Add(w.path); err != nil {
					log.Warnf("watcher: re-add %s: %v", w.path, err)
				}
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warnf("watcher: %v", err)
		case <-w.doneCh:
			return
		}
	}
}

// schedule arms (or re-arms) the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, func() {
		log.Infof("watcher: %s changed, reloading", w.path)
		w.onChange()
	})
}

// Stop ends the watch. Pending debounced callbacks are cancelled.
func (w *Watcher) Stop() error {
	close(w.doneCh)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}
