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

package platform

import (
	"path"

	"github.com/nimbusvpn/daemon/helpers"
)

// initialize all constant values which can be used in external projects
// (NimbusVPN CLI reads the port file path)
func doInitConstants() {
	settingsDir = "/opt/nimbusvpn/mutable"
	settingsFile = path.Join(settingsDir, "settings.json")
	servicePortFile = path.Join(settingsDir, "port.txt")

	openVpnCaKeyFile = "/opt/nimbusvpn/etc/ca.crt"
	localAgentCaFile = "/opt/nimbusvpn/etc/agent-ca.pem"

	logDir := "/var/log/nimbusvpn"
	logFile = path.Join(logDir, helpers.ServiceName+".log")
}

func doOsInit() (warnings []string, errors []error, logInfo []string) {
	return warnings, errors, logInfo
}
