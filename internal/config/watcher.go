// Copyright 2025 The Parley Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	plog "github.com/parley-app/parley/internal/log"
)

const defaultDebounce = 200 * time.Millisecond

// ReloadFunc is invoked with the freshly loaded configuration after the
// config file changes on disk.
type ReloadFunc func(*Config)

// Watcher watches the configuration file and invokes a callback when it
// changes. Editors often produce bursts of filesystem events for a single
// save, so changes are debounced before reloading.
type Watcher struct {
	path     string
	reload   ReloadFunc
	logger   *slog.Logger
	debounce time.Duration

	fsWatcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
	wg    sync.WaitGroup
}

// NewWatcher creates a watcher for the configuration file at path. The parent
// directory is watched rather than the file itself so that atomic
// rename-based saves are still observed.
func NewWatcher(path string, reload ReloadFunc, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:      path,
		reload:    reload,
		logger:    plog.WithComponent(logger, "config-watcher"),
		debounce:  defaultDebounce,
		fsWatcher: fw,
	}, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", plog.Error(err))
		}
	}
}

// Close stops watching and waits for any in-flight reload to finish.
func (w *Watcher) Close() error {
	err := w.fsWatcher.Close()
	w.stopTimer()
	w.wg.Wait()
	return err
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil && w.timer.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	w.timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.fire()
	})
}

func (w *Watcher) fire() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", plog.Error(err))
		return
	}
	w.logger.Info("configuration reloaded", "path", w.path)
	w.reload(cfg)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		if w.timer.Stop() {
			w.wg.Done()
		}
		w.timer = nil
	}
}
