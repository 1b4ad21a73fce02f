/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package shard

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/eosin-platform/tilestore/internal/routing"
)

// WatchRoutingConfig supplements spec §4.1's "reloaded at startup" rule: if
// an operator hand-edits .routing_config.json while the process is running
// (a supported break-glass path, not part of the normal install flow), the
// shard picks it up without a restart. Installs go through the same
// InstallRoutingConfig epoch check as a controller push, so a stale or
// malformed hand-edit is rejected exactly like any other install attempt.
func (e *Engine) WatchRoutingConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(e.DataRoot); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer e.log.Recover("routing config watcher")
		defer watcher.Close()
		path := routing.Path(e.DataRoot)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				rt, err := routing.Load(e.DataRoot)
				if err != nil || rt == nil {
					continue
				}
				e.InstallRoutingConfig(rt)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.log.Error("routing config watch", err)
			}
		}
	}()
	return nil
}
