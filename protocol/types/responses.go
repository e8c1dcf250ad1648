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
	"github.com/nimbusvpn/daemon/service/preferences"
	service_types "github.com/nimbusvpn/daemon/service/types"
	"github.com/nimbusvpn/daemon/tunnel/events"
)

type ErrorTypeEnum int

const (
	ErrorUnknown ErrorTypeEnum = iota
	ErrorSessionLimit
	ErrorCertificateExpired
)

// ErrorResp - error response
type ErrorResp struct {
	CommandBase
	ErrorType    ErrorTypeEnum
	ErrorTitle   string
	ErrorMessage string
}

func (r ErrorResp) Error() string {
	return r.ErrorMessage
}

func (r *ErrorResp) LogExtraInfo() string {
	return r.ErrorMessage
}

// EmptyResp - success response without data
type EmptyResp struct {
	CommandBase
}

// ServiceExitingResp is pushed to all clients when the daemon is going
// down
type ServiceExitingResp struct {
	CommandBase
}

// SessionResp - the stored session as reported to clients. Private keys
// and certificates never leave the daemon.
type SessionResp struct {
	AccountID      string
	Session        string
	DeviceID       string
	DeviceName     string
	WgPublicKey    string
	WgLocalIP      string
	WgKeyGenerated int64 // unix seconds, 0 when no keys exist
}

// CreateSessionResp converts the stored session into its client-visible
// form
func CreateSessionResp(s preferences.SessionStatus) SessionResp {
	resp := SessionResp{
		AccountID:   s.AccountID,
		Session:     s.Session,
		DeviceID:    s.DeviceID,
		DeviceName:  s.DeviceName,
		WgPublicKey: s.WGPublicKey,
		WgLocalIP:   s.WGLocalIP,
	}
	if !s.WGKeyGenerated.IsZero() {
		resp.WgKeyGenerated = s.WGKeyGenerated.Unix()
	}
	return resp
}

// DaemonSettingsResp - the daemon settings clients can render
type DaemonSettingsResp struct {
	IsLogging        bool
	KillSwitchMode   service_types.KillSwitchMode
	HealthchecksType string
}

// HelloResp is the first response on every connection and is also
// pushed to all clients whenever the session state changes
type HelloResp struct {
	CommandBase
	Version             string
	SettingsSessionUUID string
	Session             SessionResp
	DaemonSettings      DaemonSettingsResp
}

// SessionNewResp - login result. APIStatus/APIErrorMessage carry the
// backend verdict when the request reached the API; RawResponse is the
// verbatim API reply (clients read session-limit details from it).
type SessionNewResp struct {
	CommandBase
	APIStatus       int
	APIErrorMessage string
	Session         SessionResp
	RawResponse     string
}

// ConnectedResp - notification about an established connection (also
// the answer to GetStatus while connected)
type ConnectedResp struct {
	CommandBase
	service_types.ConnectionStatus
}

// DisconnectionReason - why the connection ended
type DisconnectionReason int

const (
	Unknown             DisconnectionReason = iota // 0
	DisconnectRequested                            // 1 - a client asked for it; UI clients must not auto-reconnect
	AuthenticationError                            // 2
	ConnectTimeout                                 // 3
	TunnelSetupError                               // 4
	DeviceLost                                     // 5 - the daemon reported the device gone
)

// DisconnectedResp - notification about a closed connection (also the
// answer to GetStatus while disconnected)
type DisconnectedResp struct {
	CommandBase
	// 'true' when the response only reports the current state instead of
	// a state transition
	IsStateInfo       bool
	Failure           bool
	Reason            DisconnectionReason
	ReasonDescription string
}

func (r *DisconnectedResp) LogExtraInfo() string {
	return r.ReasonDescription
}

// TunnelStateResp - notification about an intermediate connection state
// (connecting, disconnecting)
type TunnelStateResp struct {
	CommandBase
	StateVal events.TunnelState
	State    string
}

func (r *TunnelStateResp) LogExtraInfo() string {
	return r.State
}

// KillSwitchStatusResp - the kill switch state plus the configured mode
type KillSwitchStatusResp struct {
	CommandBase
	service_types.KillSwitchStatus
}

// DiagnosticsSentResp - the report reference returned by the feedback
// endpoint
type DiagnosticsSentResp struct {
	CommandBase
	ReportURL string
}
