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

package main

import (
	"os"
	"time"

	"github.com/nimbusvpn/daemon/rageshake"
)

func doCheckIsAdmin() bool {
	return os.Geteuid() == 0
}

func doPrepareToRun() error {
	// drop diagnostics reports kept on disk after old crashes
	if err := rageshake.New().CleanupOldCrashReports(crashReportsDir(), 30*24*time.Hour); err != nil {
		log.Warning("Failed to clean up old crash reports: ", err)
	}
	return nil
}

// doStartedOnPort - notify systemd-style supervisors about the listener port (not in use for Linux)
func doStartedOnPort(port int, secret uint64) {
}

// doBeforeStop - last steps before exiting (not in use for Linux)
func doBeforeStop() {
}

// doStopped - notify service manager about daemon stop (not in use for Linux)
func doStopped() {
}
