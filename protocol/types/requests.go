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

package types

import (
	service_types "github.com/nimbusvpn/daemon/service/types"
)

// EmptyReq - request with no parameters (e.g. checking daemon liveness)
type EmptyReq struct {
	CommandBase
}

// Hello is the first request of every connection. The daemon drops the
// connection unless the secret matches the one published in the port
// file.
type Hello struct {
	CommandBase
	// connection secret from the port file
	Secret uint64 `json:"Secret,string"`

	ClientType ClientTypeEnum // 0 - UI, 1 - CLI
	Version    string         // client version

	// when 'true' the daemon replies with the current connection and
	// kill switch state in addition to the hello response
	GetStatus bool

	// when 'true' the hello response is also pushed to all other
	// connected clients (they learn a new client appeared)
	SendResponseToAllClients bool
}

// GetStatus requests the current connection state
type GetStatus struct {
	CommandBase
}

// Connect starts a connection attempt. Only the newest request is kept
// when several arrive in a short period of time.
type Connect struct {
	CommandBase
	Params service_types.ConnectionParams
}

// Disconnect tears the active connection down
type Disconnect struct {
	CommandBase
}

// KillSwitchGetStatus requests the kill switch state
type KillSwitchGetStatus struct {
	CommandBase
}

// KillSwitchSetMode applies a traffic blocking policy: "off", "on" or
// "permanent"
type KillSwitchSetMode struct {
	CommandBase
	Mode service_types.KillSwitchMode
}

// SetHealthchecksType selects the connectivity healthchecks flavor by
// name: "Ping", "RestApiCall" or "Disabled"
type SetHealthchecksType struct {
	CommandBase
	Type string
}

// SetLogging enables or disables logging to the daemon log file
type SetLogging struct {
	CommandBase
	Enable bool
}

// SessionNew - login request
type SessionNew struct {
	CommandBase
	EmailOrAcctID  string
	Password       string
	DeviceName     string
	StableDeviceID bool // derive the device id from the machine id instead of a random one
}

// SessionDelete - logout request
type SessionDelete struct {
	CommandBase
	// delete the local session data even when the API logout request
	// fails (e.g. no connectivity)
	IsCanDeleteSessionLocally bool
}

// SendDiagnostics uploads the daemon logs and environment info to the
// feedback endpoint
type SendDiagnostics struct {
	CommandBase
	UserComment string
}
