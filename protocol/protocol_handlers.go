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

package protocol

import (
	"runtime/debug"
	"sync"

	"github.com/nimbusvpn/daemon/protocol/types"
	"github.com/nimbusvpn/daemon/tunnel/events"
)

// OnServiceSessionChanged - SessionChanged handler
func (p *Protocol) OnServiceSessionChanged() {
	// send back Hello message with account session info
	helloResp := p.createHelloResponse()
	p.notifyClients(helloResp)
}

var OnKillSwitchStateChangedMutex sync.Mutex

// OnKillSwitchStateChanged - kill switch change handler. Single-instance.
func (p *Protocol) OnKillSwitchStateChanged() {
	OnKillSwitchStateChangedMutex.Lock() // single instance.
	defer OnKillSwitchStateChangedMutex.Unlock()

	if p._service == nil {
		return
	}

	// notify all clients about the kill switch status
	p.notifyClients(&types.KillSwitchStatusResp{KillSwitchStatus: p._service.KillSwitchState()})
}

// OnTunnelStateChanged - connection state transition handler. Notifying clients.
func (p *Protocol) OnTunnelStateChanged(state events.TunnelState, evt events.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic when notifying connection state to clients! (recovered)")
			log.Error(string(debug.Stack()))
			if err, ok := r.(error); ok {
				log.ErrorTrace(err)
			}
		}
	}()

	p._lastStateMutex.Lock()
	p._lastTunnelState = state
	if state == events.StateDisconnected && evt != nil {
		p._lastDisconnectEvent = evt
	}
	p._lastStateMutex.Unlock()

	// side-channel events that are not state transitions by themselves
	switch evt.(type) {
	case events.ExpiredCertificate:
		p.notifyClients(&types.ErrorResp{
			ErrorType:    types.ErrorCertificateExpired,
			ErrorTitle:   "Client certificate expired",
			ErrorMessage: "The client certificate is no longer accepted. The daemon is requesting a new one."})
	case events.MaximumSessionsReached:
		p.notifyClients(&types.ErrorResp{
			ErrorType:    types.ErrorSessionLimit,
			ErrorTitle:   "Session limit reached",
			ErrorMessage: "The maximum number of simultaneous connections for this account is reached."})
	}

	switch state {
	case events.StateConnected:
		p.notifyClients(p.createConnectedResponse())
	case events.StateDisconnected:
		// While a connect request is processed synchronously the
		// DisconnectedResp is sent by the request processor, after the
		// connect call returned. Connections that ended outside a request
		// (e.g. one resumed after a daemon restart) are reported here.
		if !p._processingConnRequest.Load() {
			reason, description := disconnectionReason(p.takeLastDisconnectEvent())
			failure := reason != types.Unknown || len(description) > 0
			if p._disconnectRequested {
				reason = types.DisconnectRequested
				failure = false
			}
			p.notifyClients(&types.DisconnectedResp{Failure: failure, Reason: reason, ReasonDescription: description})
		}
	default:
		p.notifyClients(&types.TunnelStateResp{StateVal: state, State: state.String()})
	}
}

// disconnectionReason maps the terminal connection event to the reason
// code reported to clients.
func disconnectionReason(evt events.Event) (reason types.DisconnectionReason, description string) {
	withReason := func(r types.DisconnectionReason, reasonErr error) (types.DisconnectionReason, string) {
		if reasonErr != nil {
			return r, reasonErr.Error()
		}
		return r, ""
	}

	switch e := evt.(type) {
	case events.AuthDenied:
		return withReason(types.AuthenticationError, e.Reason)
	case events.Timeout:
		return withReason(types.ConnectTimeout, e.Reason)
	case events.TunnelSetupFailed:
		return withReason(types.TunnelSetupError, e.Reason)
	case events.DeviceDisconnected:
		return withReason(types.DeviceLost, e.Reason)
	case events.UnexpectedError:
		return withReason(types.Unknown, e.Reason)
	case events.Disconnected:
		return withReason(types.Unknown, e.Reason)
	}
	return types.Unknown, ""
}
