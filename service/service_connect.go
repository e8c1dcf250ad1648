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

package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/nimbusvpn/daemon/agent"
	"github.com/nimbusvpn/daemon/service/killswitch"
	"github.com/nimbusvpn/daemon/service/platform"
	"github.com/nimbusvpn/daemon/service/types"
	"github.com/nimbusvpn/daemon/tunnel"
	"github.com/nimbusvpn/daemon/tunnel/events"
)

// ErrorNotLoggedIn - the operation requires a logged-in account.
type ErrorNotLoggedIn struct{}

func (e ErrorNotLoggedIn) Error() string {
	return "not logged in"
}

// how long a disconnect waits for the connection owner to finish the full
// teardown
const _disconnectTeardownTimeout = time.Minute

// Connect establishes a VPN connection with the requested server and keeps
// it until Disconnect or a terminal connection event. Blocks for the whole
// connection lifetime; the protocol layer runs it on a dedicated goroutine.
func (s *Service) Connect(params types.ConnectionParams) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("panic on connect: " + fmt.Sprint(r))
			log.Error(err)
			log.Error(string(debug.Stack()))
		}
	}()

	if err := params.CheckIsDefined(); err != nil {
		return err
	}
	if !s._preferences.Session.IsLoggedIn() {
		return ErrorNotLoggedIn{}
	}

	tunnelParams, err := s.buildTunnelParams(params)
	if err != nil {
		return err
	}

	s.setLastParams(params)
	if err := s._preferences.SetLastConnectionParams(params); err != nil {
		log.Warning("failed to persist connection parameters: ", err)
	}

	return s.connect(tunnelParams)
}

// Disconnect stops the current connection, if one is running.
func (s *Service) Disconnect() error {
	return s.disconnect()
}

// buildTunnelParams merges the connection request with the credentials of
// the stored session.
func (s *Service) buildTunnelParams(params types.ConnectionParams) (tunnel.ConnectionParams, error) {
	serverIP := net.ParseIP(params.ServerIP)
	if serverIP == nil {
		return tunnel.ConnectionParams{}, fmt.Errorf("bad server IP address '%s'", params.ServerIP)
	}

	customDNS := make([]net.IP, 0, len(params.CustomDNS))
	for _, dnsSrv := range params.CustomDNS {
		ip := net.ParseIP(dnsSrv)
		if ip == nil {
			return tunnel.ConnectionParams{}, fmt.Errorf("bad custom DNS address '%s'", dnsSrv)
		}
		customDNS = append(customDNS, ip)
	}

	session := s._preferences.Session
	return tunnel.ConnectionParams{
		Server: tunnel.ServerInfo{
			Name:            params.ServerName,
			Domain:          params.ServerDomain,
			IP:              serverIP,
			WireGuardPorts:  params.WireGuardPorts,
			OpenVPNPortsUDP: params.OpenVPNPortsUDP,
			OpenVPNPortsTCP: params.OpenVPNPortsTCP,
			X25519PublicKey: params.ServerPublicKey,
			Label:           params.ServerLabel,
			HasIPv6:         params.HasIPv6,
		},
		Credentials: tunnel.Credentials{
			OpenVPNUsername: session.OpenVPNUser,
			OpenVPNPassword: session.OpenVPNPass,
			WGPrivateKey:    session.WGPrivateKey,
			ClientCertPEM:   []byte(session.ClientCertificatePEM),
			ClientKeyPEM:    []byte(session.ClientPrivateKeyPEM),
		},
		Settings: tunnel.Settings{
			Protocol:   params.Protocol,
			EnableIPv6: params.EnableIPv6,
			CustomDNS:  customDNS,
		},
	}, nil
}

func (s *Service) connect(params tunnel.ConnectionParams) error {
	// stop active connection (if exists)
	if err := s.disconnect(); err != nil {
		return fmt.Errorf("failed to connect. Unable to stop active connection: %w", err)
	}

	tun, err := tunnel.NewTunnel(s._nmClient, s._reachabilityChecker, s._preferences, params)
	if err != nil {
		return err
	}

	// wireguard connections carry a control channel to the gateway agent
	if params.Settings.Protocol == tunnel.ProtocolWireGuard {
		channel := agent.NewChannel(s.agentSessionFactory(params.Server.Domain), tun, s.agentFeatures(params))
		tun.SetAgentController(channel)
		s.setAgentChannel(channel)
	}

	tun.Register(s)
	s.setTunnel(tun)

	return s.runConnection(tun, params, false)
}

// runConnection owns one connection from start to full teardown. It blocks
// until a terminal connection event arrives, reshaping the kill switch and
// the background monitors around the connection lifetime. established is
// true when the tunnel was adopted already activated (daemon restart).
func (s *Service) runConnection(tun *tunnel.Tunnel, params tunnel.ConnectionParams, established bool) (retErr error) {
	s._connectMutex.Lock()
	defer s._connectMutex.Unlock()

	log.Info("Connecting...")

	s.setDone(make(chan struct{}, 1))
	defer s.signalDone()

	evtChan := make(chan events.Event, 16)
	s.setConnEventChan(evtChan)

	// Signaling when the default gateway moved to another router/interface
	routingChangeChan := make(chan struct{}, 1)
	// Signaling when there were some routing changes but the default
	// gateway stayed in place
	routingUpdateChan := make(chan struct{}, 1)

	// finalize everything
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic on VPN connection: ", r)
			log.Error(string(debug.Stack()))
			if err, ok := r.(error); ok {
				log.ErrorTrace(err)
			}
		}

		// Ensure that routing-change detector is stopped (we do not need it
		// when VPN disconnected)
		s._netChangeDetector.UnInit()

		s.stopConnectivityHealthchecks()

		if channel := s.getAgentChannel(); channel != nil {
			channel.Stop()
			s.setAgentChannel(nil)
		}

		s.setConnEventChan(nil)

		if err := killswitch.RemoveVpnServerRoute(); err != nil {
			log.Error("failed to remove VPN server route: ", err)
		}
		// close the hole for the VPN server; the block itself stays up
		// according to the configured mode
		if s._preferences.KillSwitchMode != types.KillSwitchModeOff {
			if err := killswitch.EnableFullBlock(nil); err != nil {
				log.Error("failed to re-apply kill switch: ", err)
			}
			s._evtReceiver.OnKillSwitchStateChanged()
		}

		tun.Close()
		s.setTunnel(nil)

		log.Info("Connection stopped")
	}()

	// kill switch first: while the block is up, only the VPN server must be
	// reachable for the handshake
	if s._preferences.KillSwitchMode != types.KillSwitchModeOff {
		if err := killswitch.EnableFullBlock(params.Server.IP); err != nil {
			if !established {
				return err
			}
			log.Error(err)
		}
		s._evtReceiver.OnKillSwitchStateChanged()
	}

	// host route to the server: the handshake must bypass both the block
	// and the tunnel's own default route
	if err := killswitch.AddVpnServerRoute(params.Server.IP); err != nil {
		if !established {
			return err
		}
		log.Error(err)
	}

	if established {
		s.onTunnelEstablished(routingChangeChan, routingUpdateChan)
	} else {
		s.setTunnelState(events.StateConnecting)
		s._evtReceiver.OnTunnelStateChanged(events.StateConnecting, nil)

		// terminal failures of Start have already been reported through the
		// event channel; the pump below drains them and finishes
		if err := tun.Start(context.Background()); err != nil {
			retErr = err
		}
	}

	// pump connection events and routing notifications until a terminal
	// event ends the connection
	for isRuning := true; isRuning; {
		select {
		case evt := <-evtChan:
			isRuning = s.processConnectionEvent(evt, routingChangeChan, routingUpdateChan)
		case <-routingChangeChan:
			log.Info("Default gateway changed. Re-applying VPN server route...")
			if err := killswitch.ReapplyVpnServerRoute(); err != nil {
				log.Error("failed to re-apply VPN server route: ", err)
			}
		case <-routingUpdateChan:
			log.Debug("Routing tables updated")
		}
	}

	return retErr
}

// processConnectionEvent reacts to one connection event of the running
// connection. Returns false when the event ends the connection.
func (s *Service) processConnectionEvent(evt events.Event, routingChangeChan, routingUpdateChan chan struct{}) bool {
	switch evt.(type) {
	case events.Connected:
		s.onTunnelEstablished(routingChangeChan, routingUpdateChan)
		return true

	case events.Disconnected, events.DeviceDisconnected, events.Timeout,
		events.AuthDenied, events.TunnelSetupFailed:
		return false

	case events.UnexpectedError:
		// gateway agent errors arrive while the tunnel stays up; only an
		// inactive tunnel means the connection is over
		return s.tunnelActive()

	case events.ExpiredCertificate:
		// renew asynchronously; the agent channel reconnects with the fresh
		// certificate on its next attempt
		go func() {
			if err := s.renewClientCertificate(); err != nil {
				log.Error("client certificate renewal failed: ", err)
			}
		}()
		return true

	default:
		return true
	}
}

// onTunnelEstablished starts the monitors that accompany an activated
// connection.
func (s *Service) onTunnelEstablished(routingChangeChan, routingUpdateChan chan struct{}) {
	s._netChangeDetector.Init(routingChangeChan, routingUpdateChan)
	if err := s._netChangeDetector.Start(); err != nil {
		log.Error("failed to start routing change detector: ", err)
	}

	s.startConnectivityHealthchecks()
}

// OnConnectionEvent implements tunnel.Subscriber: records the new
// connection state, notifies the connected clients and feeds the active
// connection owner.
func (s *Service) OnConnectionEvent(evt events.Event) {
	switch e := evt.(type) {
	case events.Initialized:
		s.setTunnelState(e.State)
	case events.Connected:
		s.setTunnelState(events.StateConnected)
	case events.Disconnected, events.DeviceDisconnected, events.Timeout,
		events.AuthDenied, events.TunnelSetupFailed:
		s.setTunnelState(events.StateDisconnected)
	case events.UnexpectedError:
		if !s.tunnelActive() {
			s.setTunnelState(events.StateError)
		}
	}
	// ExpiredCertificate and MaximumSessionsReached keep the current state

	s._evtReceiver.OnTunnelStateChanged(s.TunnelState(), evt)
	s.forwardToConnectionOwner(evt)
}

func (s *Service) disconnect() error {
	tun := s.getTunnel()
	if tun == nil {
		return nil
	}
	done := s.getDone()

	log.Info("Disconnecting...")
	s.setTunnelState(events.StateDisconnecting)
	s._evtReceiver.OnTunnelStateChanged(events.StateDisconnecting, nil)

	if err := tun.Stop(context.Background()); err != nil {
		return log.ErrorFE("failed to stop the connection: %w", err)
	}

	if done == nil {
		// no connection owner runs (a profile adopted in the error state):
		// finish the cleanup here
		tun.Close()
		s.setTunnel(nil)
		return nil
	}

	select {
	case <-done:
	case <-time.After(_disconnectTeardownTimeout):
		log.Warning("timeout waiting for the connection teardown")
	}
	return nil
}

// determineInitialState inspects the network daemon for the persisted
// connection of a previous daemon run and adopts it: a still-active tunnel
// is resumed with all its monitors, a dead profile is kept for cleanup and
// reported as the error state.
func (s *Service) determineInitialState() error {
	lastParams, hasParams := s._preferences.GetLastConnectionParams()

	if _, found := s._preferences.LoadHandle(); !found {
		s.setTunnelState(events.StateDisconnected)
		s._evtReceiver.OnTunnelStateChanged(events.StateDisconnected, events.Initialized{State: events.StateDisconnected})
		return nil
	}

	protocol := tunnel.ProtocolWireGuard
	if hasParams {
		protocol = lastParams.Protocol
	}

	tunnelParams := tunnel.ConnectionParams{Settings: tunnel.Settings{Protocol: protocol}}
	if hasParams {
		var err error
		if tunnelParams, err = s.buildTunnelParams(lastParams); err != nil {
			log.Warning("persisted connection parameters unusable: ", err)
			tunnelParams = tunnel.ConnectionParams{Settings: tunnel.Settings{Protocol: protocol}}
			hasParams = false
		}
	}

	tun, err := tunnel.NewTunnel(s._nmClient, s._reachabilityChecker, s._preferences, tunnelParams)
	if err != nil {
		return err
	}

	if protocol == tunnel.ProtocolWireGuard && hasParams {
		channel := agent.NewChannel(s.agentSessionFactory(tunnelParams.Server.Domain), tun, s.agentFeatures(tunnelParams))
		tun.SetAgentController(channel)
		s.setAgentChannel(channel)
	}
	tun.Register(s)

	state, err := tun.DetermineInitialState()
	if err != nil {
		s.setAgentChannel(nil)
		tun.Close()
		return err
	}

	switch state {
	case events.StateConnected:
		if hasParams {
			s.setLastParams(lastParams)
		}
		s.setTunnel(tun)
		log.Info("Resuming the connection that survived the daemon restart")
		go func() {
			if err := s.runConnection(tun, tunnelParams, true); err != nil {
				log.Error("resumed connection failed: ", err)
			}
		}()

	case events.StateError:
		// the profile survived but the connection dropped; keep the tunnel
		// so a Disconnect request (or the next Connect) removes the profile
		s.setAgentChannel(nil)
		s.setTunnel(tun)

	default:
		s.setAgentChannel(nil)
		if err := s._preferences.ClearHandle(); err != nil {
			log.Warning("failed to clear persisted handle: ", err)
		}
		tun.Close()
	}

	return nil
}

// agentSessionFactory builds gateway agent sessions for the given server
// domain, authenticated with the session's client certificate.
func (s *Service) agentSessionFactory(domain string) agent.SessionFactory {
	return func() (agent.Session, error) {
		rootCA, err := os.ReadFile(platform.LocalAgentCaFile())
		if err != nil {
			return nil, fmt.Errorf("failed to read the gateway CA bundle: %w", err)
		}
		return agent.NewTLSSession(domain, s, rootCA)
	}
}

// agentFeatures maps connection parameters to the features requested from
// the gateway right after the agent connects.
func (s *Service) agentFeatures(params tunnel.ConnectionParams) agent.Features {
	features := agent.Features{}
	if params.Server.Label != "" {
		label := params.Server.Label
		features.Bouncing = &label
	}
	return features
}
