// Copyright 2025 Tom Barlow
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

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/conductorbatch/core/internal/log"
)

// ConfigWatcher watches a filesystem-resident binding config file and
// triggers an async Sync of bindingID whenever it changes, for the
// single-node/CLI deployment where a binding's config lives on disk
// rather than behind an admin API.
type ConfigWatcher struct {
	registry  *Registry
	bindingID string
	path      string
	fsw       *fsnotify.Watcher
	logger    *slog.Logger
}

// WatchConfig starts watching path for writes and creates (a file renamed
// onto path arrives as a create), syncing bindingID on each one. Call
// Close to stop.
func (r *Registry) WatchConfig(path, bindingID string) (*ConfigWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching config directory %s: %w", dir, err)
	}

	cw := &ConfigWatcher{
		registry:  r,
		bindingID: bindingID,
		path:      path,
		fsw:       fsw,
		logger:    r.logger.With(slog.String(log.BindingIDKey, bindingID), slog.String("path", path)),
	}
	go cw.run()
	return cw, nil
}

func (cw *ConfigWatcher) run() {
	for {
		select {
		case event, ok := <-cw.fsw.Events:
			if !ok {
				return
			}
			if event.Name != cw.path {
				continue
			}
			if !(event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				continue
			}
			if err := cw.registry.Sync(context.Background(), cw.bindingID); err != nil {
				cw.logger.Warn("config-triggered sync failed", "error", err)
			} else {
				cw.logger.Info("config change triggered schema sync")
			}
		case err, ok := <-cw.fsw.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (cw *ConfigWatcher) Close() error {
	return cw.fsw.Close()
}
