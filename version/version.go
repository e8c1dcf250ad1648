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

// Package version keeps the daemon's build information. The values are
// injected at link time:
//
//	-ldflags "-X github.com/nimbusvpn/daemon/version._version=X.X.X ..."
package version

import "fmt"

var (
	_version string
	_commit  string
	_time    string
)

// Version returns the daemon version, "unknown" for local builds.
func Version() string {
	if len(_version) == 0 {
		return "unknown"
	}
	return _version
}

// CommitID returns the source commit the daemon was built from.
func CommitID() string {
	return _commit
}

// BuildTime returns the build timestamp.
func BuildTime() string {
	return _time
}

// GetFullVersion returns 'X.X.X (commit:XXX; time:XXX)'.
func GetFullVersion() string {
	return fmt.Sprintf("%s (commit:%s; time:%s)", Version(), _commit, _time)
}
