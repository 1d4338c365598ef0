// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCheckInterval is how often the watcher polls the file when no
// interval is given.
const DefaultCheckInterval = 5 * time.Second

// Watcher polls a configuration file and pushes changed, valid snapshots
// through the store. An unreadable or invalid file is logged and ignored;
// the current snapshot stays in service.
type Watcher struct {
	log      *zap.Logger
	store    *Store
	path     string
	interval time.Duration

	mu      sync.Mutex
	done    chan struct{}
	joined  sync.WaitGroup
	modTime time.Time
	size    int64
}

// NewWatcher returns a watcher for the file feeding the store.
func NewWatcher(store *Store, path string, interval time.Duration, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	return &Watcher{
		log:      log,
		store:    store,
		path:     path,
		interval: interval,
	}
}

// Start begins polling. A second Start without a Stop is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		return
	}
	w.done = make(chan struct{})

	if info, err := os.Stat(w.path); err == nil {
		w.modTime = info.ModTime()
		w.size = info.Size()
	}

	w.joined.Add(1)
	go w.run(w.done)

	w.log.Info("hot reload enabled for config file", zap.String("path", w.path))
}

// Stop ends polling and joins the watcher goroutine before returning, so
// the store can be discarded safely afterwards.
func (w *Watcher) Stop() {
	w.mu.Lock()
	done := w.done
	w.done = nil
	w.mu.Unlock()

	if done == nil {
		return
	}
	close(done)
	w.joined.Wait()

	w.log.Info("hot reload disabled")
}

func (w *Watcher) run(done chan struct{}) {
	defer w.joined.Done()

	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Error("failed to stat config file", zap.String("path", w.path), zap.Error(err))
		return
	}
	if info.ModTime().Equal(w.modTime) && info.Size() == w.size {
		return
	}
	w.modTime = info.ModTime()
	w.size = info.Size()

	cfg, err := Load(w.path)
	if err != nil {
		w.log.Error("config file changed but could not be loaded", zap.Error(err))
		return
	}

	w.log.Info("config file changed, reloading", zap.String("path", w.path))
	_ = w.store.Update(cfg)
}
