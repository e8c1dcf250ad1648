//
//  Daemon for NimbusVPN Client Desktop
//  https://github.com/nimbusvpn/daemon
//
//  Created by NimbusVPN Team.
//  Copyright (c) 2026 NimbusVPN Limited.
//
//  This file is part of the Daemon for NimbusVPN Client Desktop.
//
//  The Daemon for NimbusVPN Client Desktop is free software: you can redistribute it and/or
//  modify it under the terms of the GNU General Public License as published by the Free
//  Software Foundation, either version 3 of the License, or (at your option) any later version.
//
//  The Daemon for NimbusVPN Client Desktop is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of MERCHANTABILITY
//  or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for more
//  details.
//
//  You should have received a copy of the GNU General Public License
//  along with the Daemon for NimbusVPN Client Desktop. If not, see <https://www.gnu.org/licenses/>.
//

package preferences

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// wait for reaction (needed to avoid multiple reactions on changes in a
// short period of time; editors fire several events per save)
var watcherDebounce = time.Second * 2

// StartSettingsWatcher begins monitoring the settings file for external
// modifications (an admin edit, a provisioning tool). The daemon's own
// saves are recognized by content and skipped; onReload runs after every
// successful reload. Stop with StopSettingsWatcher.
func (p *Preferences) StartSettingsWatcher(onReload func()) error {
	mutexRW.Lock()
	if p.watcherDone != nil {
		mutexRW.Unlock()
		return fmt.Errorf("settings watcher is already running")
	}
	done := make(chan struct{})
	p.watcherDone = done
	mutexRW.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		p.StopSettingsWatcher()
		return fmt.Errorf("failed to start settings monitoring (fsnotify error): %w", err)
	}

	go func() {
		log.Info("Settings-change monitoring start")
		defer func() {
			log.Info("Settings-change monitoring stopped")
			w.Close()
		}()

		for {
			// Re-add the file on each iteration: saves replace the file,
			// which silently drops the previous watch.
			w.Remove(settingsFilePath())
			if err := w.Add(settingsFilePath()); err != nil {
				log.Error(fmt.Errorf("failed to monitor settings file (fsnotify error): %w", err))
				select {
				case <-time.After(time.Second * 5):
					continue
				case <-done:
					return
				}
			}

			select {
			case <-w.Events:
			case <-done:
				return
			}

			select {
			case <-time.After(watcherDebounce):
			case <-done:
				return
			}

			reloaded, err := p.reloadIfChangedExternally()
			if err != nil {
				log.Error(fmt.Errorf("settings file changed outside, reload failed: %w", err))
				continue
			}
			if !reloaded {
				continue
			}

			log.Info("Settings file was changed outside. Reloaded.")
			if onReload != nil {
				onReload()
			}
		}
	}()

	return nil
}

// StopSettingsWatcher stops the settings file monitoring. Safe to call
// when no watcher runs.
func (p *Preferences) StopSettingsWatcher() {
	mutexRW.Lock()
	done := p.watcherDone
	p.watcherDone = nil
	mutexRW.Unlock()

	if done != nil {
		close(done)
	}
}
