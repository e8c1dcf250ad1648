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

// Package events defines the backend-agnostic connection events produced by
// the tunnel lifecycle and the gateway control channel. The set is closed:
// consumers can switch over all variants exhaustively.
package events

import "fmt"

// TunnelState - coarse connection state, reported with Initialized and
// through the status API.
type TunnelState int

const (
	StateDisconnected TunnelState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

func (s TunnelState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("STATE_%d", int(s))
	}
}

// Event is one connection event. Implementations live in this package only.
type Event interface {
	isConnectionEvent()
	String() string
}

// Connected - the tunnel (or the gateway control channel) reports the
// connection is up.
type Connected struct{}

// Disconnected - expected teardown finished.
type Disconnected struct{ Reason error }

// Timeout - connecting or reaching the server took too long.
type Timeout struct{ Reason error }

// AuthDenied - the daemon or gateway rejected the credentials.
type AuthDenied struct{ Reason error }

// TunnelSetupFailed - the daemon refused to add or activate the profile.
type TunnelSetupFailed struct{ Reason error }

// DeviceDisconnected - the underlying network device vanished.
type DeviceDisconnected struct{ Reason error }

// UnexpectedError - a failure outside the classified categories.
type UnexpectedError struct{ Reason error }

// ExpiredCertificate - the client certificate is no longer accepted.
type ExpiredCertificate struct{}

// MaximumSessionsReached - the gateway session quota is exhausted.
type MaximumSessionsReached struct{}

// Initialized - outcome of the initial-state determination at startup.
type Initialized struct{ State TunnelState }

func (Connected) isConnectionEvent()              {}
func (Disconnected) isConnectionEvent()           {}
func (Timeout) isConnectionEvent()                {}
func (AuthDenied) isConnectionEvent()             {}
func (TunnelSetupFailed) isConnectionEvent()      {}
func (DeviceDisconnected) isConnectionEvent()     {}
func (UnexpectedError) isConnectionEvent()        {}
func (ExpiredCertificate) isConnectionEvent()     {}
func (MaximumSessionsReached) isConnectionEvent() {}
func (Initialized) isConnectionEvent()            {}

func (Connected) String() string { return "CONNECTED" }

func (e Disconnected) String() string { return withReason("DISCONNECTED", e.Reason) }

func (e Timeout) String() string { return withReason("TIMEOUT", e.Reason) }

func (e AuthDenied) String() string { return withReason("AUTH_DENIED", e.Reason) }

func (e TunnelSetupFailed) String() string { return withReason("TUNNEL_SETUP_FAILED", e.Reason) }

func (e DeviceDisconnected) String() string { return withReason("DEVICE_DISCONNECTED", e.Reason) }

func (e UnexpectedError) String() string { return withReason("UNEXPECTED_ERROR", e.Reason) }

func (ExpiredCertificate) String() string { return "EXPIRED_CERTIFICATE" }

func (MaximumSessionsReached) String() string { return "MAXIMUM_SESSIONS_REACHED" }

func (e Initialized) String() string { return "INITIALIZED(" + e.State.String() + ")" }

func withReason(name string, reason error) string {
	if reason == nil {
		return name
	}
	return fmt.Sprintf("%s (%v)", name, reason)
}
