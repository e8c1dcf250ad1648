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

// Package platform knows where the daemon keeps its files. All paths are
// fixed at Init; the rest of the daemon only ever reads them through the
// getters.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

var (
	settingsDir      string
	settingsFile     string
	logFile          string
	servicePortFile  string
	openVpnCaKeyFile string
	localAgentCaFile string
)

// Init prepares the daemon's on-disk layout. Must be called once at
// startup, before any other package asks for a path.
func Init() (warnings []string, errors []error, logInfo []string) {
	doInitConstants()
	warnings, errors, logInfo = doOsInit()
	if errors == nil {
		errors = make([]error, 0)
	}

	// the settings keep session tokens; root access only
	if err := ensurePrivateDir(settingsDir); err != nil {
		errors = append(errors, err)
	}
	if err := ensurePrivateDir(filepath.Dir(logFile)); err != nil {
		errors = append(errors, err)
	}

	if err := checkFileReadable("OpenVPN CA certificate", openVpnCaKeyFile); err != nil {
		warnings = append(warnings, err.Error())
	}
	if err := checkFileReadable("agent root CA certificate", localAgentCaFile); err != nil {
		warnings = append(warnings, err.Error())
	}

	return warnings, errors, logInfo
}

func ensurePrivateDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}
	return os.Chmod(dir, 0700)
}

func checkFileReadable(name, file string) error {
	if len(file) == 0 {
		return fmt.Errorf("%s path is not defined", name)
	}
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("%s '%s' is not accessible: %w", name, file, err)
	}
	return nil
}

// SettingsFile returns the path of the daemon settings (preferences) file
func SettingsFile() string {
	return settingsFile
}

// LogFile returns the path of the daemon log
func LogFile() string {
	return logFile
}

// ServicePortFile returns the file the control server publishes its TCP
// port and secret into, for clients to find it
func ServicePortFile() string {
	return servicePortFile
}

// OpenVpnCaKeyFile returns the CA certificate used to verify OpenVPN servers
func OpenVpnCaKeyFile() string {
	return openVpnCaKeyFile
}

// LocalAgentCaFile returns the pinned root CA for the gateway agent channel
func LocalAgentCaFile() string {
	return localAgentCaFile
}
