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

// Package agent maintains the control channel to the gateway-side agent of
// an established wireguard connection. The agent confirms the session,
// applies connection features and reports jail states; its status messages
// are translated into connection events.
package agent

import "fmt"

// State - agent connection state.
type State int

const (
	StateUnknown State = iota
	StateConnected
	StateHardJailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateHardJailed:
		return "hard-jailed"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ReasonCode qualifies an agent state.
type ReasonCode int

const (
	ReasonCertificateExpired   ReasonCode = 86101
	ReasonMaxSessionsUnknown   ReasonCode = 86110
	ReasonMaxSessionsFree      ReasonCode = 86111
	ReasonMaxSessionsBasic     ReasonCode = 86112
	ReasonMaxSessionsPlus      ReasonCode = 86113
	ReasonMaxSessionsVisionary ReasonCode = 86114
	ReasonMaxSessionsPro       ReasonCode = 86115
)

// IsMaxSessions reports whether the code is one of the per-tier concurrent
// session limit codes.
func (c ReasonCode) IsMaxSessions() bool {
	return c >= ReasonMaxSessionsUnknown && c <= ReasonMaxSessionsPro
}

// Reason - why the agent reported its state.
type Reason struct {
	Code        ReasonCode `json:"code"`
	Description string     `json:"description,omitempty"`
}

// Status - one agent state message.
type Status struct {
	State  State
	Reason *Reason
}

func (s Status) String() string {
	if s.Reason == nil {
		return s.State.String()
	}
	return fmt.Sprintf("%s (code %d)", s.State, s.Reason.Code)
}

// Features - connection features applied by the gateway. Nil fields are
// left untouched.
type Features struct {
	NetshieldLevel *int    `json:"netshield-level,omitempty"`
	RandomizedNAT  *bool   `json:"randomized-nat,omitempty"`
	SplitTCP       *bool   `json:"split-tcp,omitempty"`
	PortForwarding *bool   `json:"port-forwarding,omitempty"`
	Jail           *bool   `json:"jail,omitempty"`
	Bouncing       *string `json:"bouncing,omitempty"`
}

// IsZero reports whether no feature is set.
func (f Features) IsZero() bool {
	return f == Features{}
}
