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

// Package service glues the daemon together: it owns the connection
// lifecycle, the kill switch policy, the login session and the background
// monitors, and reports every state change to the connected clients through
// the events receiver.
package service

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimbusvpn/daemon/agent"
	"github.com/nimbusvpn/daemon/api"
	"github.com/nimbusvpn/daemon/logger"
	"github.com/nimbusvpn/daemon/netchange"
	"github.com/nimbusvpn/daemon/nmclient"
	"github.com/nimbusvpn/daemon/reachability"
	"github.com/nimbusvpn/daemon/service/killswitch"
	"github.com/nimbusvpn/daemon/service/preferences"
	"github.com/nimbusvpn/daemon/service/srvhelpers"
	"github.com/nimbusvpn/daemon/service/types"
	"github.com/nimbusvpn/daemon/tunnel"
	"github.com/nimbusvpn/daemon/tunnel/events"
	"github.com/nimbusvpn/daemon/tunnel/wgtunnel"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("servc")
}

// IServiceEventsReceiver is the protocol layer as seen by the service:
// the push targets for daemon-side state changes. Implemented by
// protocol.Protocol.
type IServiceEventsReceiver interface {
	// OnTunnelStateChanged is called on every connection state transition.
	// evt is nil for transitions the daemon initiates itself (CONNECTING,
	// DISCONNECTING).
	OnTunnelStateChanged(state events.TunnelState, evt events.Event)
	OnKillSwitchStateChanged()
	OnServiceSessionChanged()
}

// replaced in tests
var wgDeviceStats = wgtunnel.DeviceStats

// Service - the daemon core. One instance lives for the daemon's lifetime.
type Service struct {
	_evtReceiver         IServiceEventsReceiver
	_api                 *api.API
	_nmClient            *nmclient.Client
	_preferences         *preferences.Preferences
	_netChangeDetector   *netchange.Detector
	_reachabilityChecker *reachability.Checker

	// current connection lifecycle object and its gateway control channel,
	// nil when disconnected
	_tunnelMutex  sync.Mutex
	_tunnel       *tunnel.Tunnel
	_agentChannel *agent.Channel

	// held by the connection owner goroutine for the whole connection
	// lifetime
	_connectMutex sync.Mutex

	// signalled by the connection owner when the teardown is complete
	_doneMutex sync.Mutex
	_done      chan struct{}

	// event feed of the active connection owner
	_connEvtChanMutex sync.Mutex
	_connEvtChan      chan events.Event

	_statusMutex    sync.Mutex
	_tunnelState    events.TunnelState
	_connectedSince time.Time
	_lastParams     types.ConnectionParams

	connectivityHealthchecksMonitor *srvhelpers.ServiceBackgroundMonitor
	backendConnectivityCheckState   BackendConnectivityCheckState

	_isStopping atomic.Bool
}

// CreateService initializes the daemon core: loads the preferences,
// connects to the network daemon, adopts kill-switch leftovers of a
// previous run and determines the initial connection state.
func CreateService(evtReceiver IServiceEventsReceiver, apiObj *api.API, netChangeDetector *netchange.Detector) (*Service, error) {
	if evtReceiver == nil {
		return nil, fmt.Errorf("internal error: events receiver is not defined")
	}

	serv := &Service{
		_evtReceiver:         evtReceiver,
		_api:                 apiObj,
		_preferences:         preferences.Create(),
		_netChangeDetector:   netChangeDetector,
		_reachabilityChecker: &reachability.Checker{},
	}
	serv.connectivityHealthchecksMonitor = &srvhelpers.ServiceBackgroundMonitor{
		MonitorName:          "connectivityHealthchecksBackgroundMonitor",
		MonitorEndChan:       make(chan bool, 1),
		MonitorRunningMutex:  &sync.Mutex{},
		MonitorStopFuncMutex: &sync.Mutex{},
	}
	serv.connectivityHealthchecksMonitor.MonitorFunc = serv.connectivityHealthchecksBackgroundMonitor

	if err := serv.init(); err != nil {
		return nil, fmt.Errorf("service initialization error: %w", err)
	}
	return serv, nil
}

func (s *Service) init() error {
	if err := s._preferences.LoadPreferences(); err != nil {
		// continue with the defaults; the first save rewrites the file
		log.Error("Failed to load service preferences: ", err)
	}
	logger.Enable(s._preferences.IsLogging)

	if err := s._preferences.StartSettingsWatcher(s.onSettingsReloaded); err != nil {
		log.Error("Failed to start settings watcher: ", err)
	}

	client, err := nmclient.GetClient()
	if err != nil {
		return fmt.Errorf("failed to connect to the network daemon: %w", err)
	}
	s._nmClient = client

	// adopt blocking profiles that survived the previous daemon run
	if err := killswitch.Initialize(client); err != nil {
		log.Error("Kill switch initialization failed: ", err)
	}
	if s._preferences.KillSwitchMode == types.KillSwitchModePermanent {
		if err := killswitch.SetPersistent(true); err != nil {
			log.Error("Failed to apply persistent kill switch: ", err)
		}
	}

	// API requests are pointless while the kill switch blocks them
	if s._api != nil {
		s._api.SetConnectivityChecker(s)
	}

	// restore the state of a connection that survived a daemon restart
	if err := s.determineInitialState(); err != nil {
		log.Error("Failed to determine initial connection state: ", err)
	}

	return nil
}

// UnInitialise stops the service: tears the active connection down, stops
// the background monitors and disconnects from the network daemon. The
// kill switch stays up only in the permanent mode.
func (s *Service) UnInitialise() error {
	log.Info("Uninitialising service...")
	var retErr error
	saveErr := func(err error) {
		if err != nil {
			log.Error(err)
			if retErr == nil {
				retErr = err
			}
		}
	}

	saveErr(s.disconnect())

	if s._preferences.KillSwitchMode != types.KillSwitchModePermanent && killswitch.GetEnabled() {
		saveErr(killswitch.Disable())
	}

	s._preferences.StopSettingsWatcher()
	s._netChangeDetector.Stop()

	if s._nmClient != nil {
		s._nmClient.Close()
	}
	return retErr
}

// MarkDaemonStopping informs the service that the daemon is shutting down:
// background monitors finish their current iteration and refuse to fix
// anything.
func (s *Service) MarkDaemonStopping() {
	s._isStopping.Store(true)
}

func (s *Service) IsDaemonStopping() bool {
	return s._isStopping.Load()
}

// Preferences returns a snapshot of the daemon settings.
func (s *Service) Preferences() preferences.Preferences {
	return *s._preferences
}

// SetLogging enables or disables logging to the daemon log file and
// persists the choice.
func (s *Service) SetLogging(enabled bool) error {
	logger.Enable(enabled)
	return s._preferences.SetLogging(enabled)
}

// KillSwitchState reports the actual kill switch state plus the configured
// mode.
func (s *Service) KillSwitchState() types.KillSwitchStatus {
	status := killswitch.GetStatus()
	status.Mode = s._preferences.KillSwitchMode
	return status
}

// SetKillSwitchMode applies and persists the traffic blocking policy.
// Switching to 'on' or 'permanent' while a connection is being established
// keeps the hole for the VPN server open.
func (s *Service) SetKillSwitchMode(mode types.KillSwitchMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("unknown kill switch mode '%s'", mode)
	}
	if err := s._preferences.SetKillSwitchMode(mode); err != nil {
		return err
	}

	var err error
	switch mode {
	case types.KillSwitchModeOff:
		if err = killswitch.SetPersistent(false); err == nil {
			err = killswitch.Disable()
		}
	case types.KillSwitchModeOn:
		if err = killswitch.SetPersistent(false); err == nil {
			err = killswitch.EnableFullBlock(s.currentServerIP())
		}
	case types.KillSwitchModePermanent:
		// re-applies an active block in the saved variant, or brings the
		// block up
		err = killswitch.SetPersistent(true)
	}
	if err != nil {
		return err
	}

	s._evtReceiver.OnKillSwitchStateChanged()
	return nil
}

// SetHealthchecksType persists the connectivity healthchecks flavor and
// applies it to the running connection.
func (s *Service) SetHealthchecksType(t types.HealthchecksTypeEnum) error {
	if err := s._preferences.SetHealthchecksType(t); err != nil {
		return err
	}

	if s.Connected() {
		if t == types.HealthchecksType_Disabled {
			s.stopConnectivityHealthchecks()
		} else {
			s.startConnectivityHealthchecks()
		}
	}
	return nil
}

// IsConnectivityBlocked implements the connectivity check of the API
// layer: requests are not attempted while the kill switch blocks all
// traffic and no tunnel carries it.
func (s *Service) IsConnectivityBlocked() error {
	if killswitch.GetEnabled() && !s.Connected() {
		return fmt.Errorf("the kill switch is blocking network access")
	}
	return nil
}

// TunnelState reports the current coarse connection state.
func (s *Service) TunnelState() events.TunnelState {
	s._statusMutex.Lock()
	defer s._statusMutex.Unlock()
	return s._tunnelState
}

func (s *Service) Connected() bool {
	return s.TunnelState() == events.StateConnected
}

// ConnectedOrConnecting reports whether a connection lifecycle object
// exists (connecting, connected or tearing down).
func (s *Service) ConnectedOrConnecting() bool {
	return s.getTunnel() != nil
}

// ConnectionStatus returns the status snapshot sent to clients: the state,
// the server of the last request and, for wireguard connections, the live
// device counters.
func (s *Service) ConnectionStatus() types.ConnectionStatus {
	s._statusMutex.Lock()
	state := s._tunnelState
	since := s._connectedSince
	params := s._lastParams
	s._statusMutex.Unlock()

	status := types.ConnectionStatus{State: state.String()}
	if state == events.StateConnecting || state == events.StateConnected {
		status.Protocol = params.Protocol
		status.ServerName = params.ServerName
		status.ServerIP = params.ServerIP
	}
	if !since.IsZero() {
		status.ConnectedSince = since.Unix()
	}

	tun := s.getTunnel()
	if tun == nil {
		return status
	}
	handle, ok := tun.Handle()
	if !ok {
		return status
	}
	status.InterfaceName = handle.InterfaceName

	if handle.Kind == tunnel.KindWireGuard && handle.IsActive {
		stats, err := wgDeviceStats(handle.InterfaceName)
		if err != nil {
			log.Warning("failed to read tunnel device counters: ", err)
			return status
		}
		if !stats.LastHandshake.IsZero() {
			status.LastHandshake = stats.LastHandshake.Unix()
		}
		status.ReceivedBytes = stats.ReceivedBytes
		status.SentBytes = stats.SentBytes
		status.Received = wgtunnel.FormatBytes(stats.ReceivedBytes)
		status.Sent = wgtunnel.FormatBytes(stats.SentBytes)
	}
	return status
}

// onSettingsReloaded runs after the settings file was modified externally
// and reloaded: re-applies the settings the daemon acts on immediately.
func (s *Service) onSettingsReloaded() {
	logger.Enable(s._preferences.IsLogging)

	mode := s._preferences.KillSwitchMode
	switch {
	case mode == types.KillSwitchModeOff && killswitch.GetEnabled():
		if err := killswitch.SetPersistent(false); err == nil {
			if err := killswitch.Disable(); err != nil {
				log.Error("failed to apply reloaded kill switch mode: ", err)
			}
		}
	case mode == types.KillSwitchModePermanent:
		if err := killswitch.SetPersistent(true); err != nil {
			log.Error("failed to apply reloaded kill switch mode: ", err)
		}
	}

	s._evtReceiver.OnKillSwitchStateChanged()
	s._evtReceiver.OnServiceSessionChanged()
}

func (s *Service) setTunnelState(state events.TunnelState) {
	s._statusMutex.Lock()
	defer s._statusMutex.Unlock()
	if state == events.StateConnected && s._tunnelState != events.StateConnected {
		s._connectedSince = time.Now()
	}
	if state != events.StateConnected {
		s._connectedSince = time.Time{}
	}
	s._tunnelState = state
}

func (s *Service) setLastParams(params types.ConnectionParams) {
	s._statusMutex.Lock()
	defer s._statusMutex.Unlock()
	s._lastParams = params
}

// currentServerIP returns the server of the active connection request, nil
// when disconnected.
func (s *Service) currentServerIP() net.IP {
	if s.getTunnel() == nil {
		return nil
	}
	s._statusMutex.Lock()
	defer s._statusMutex.Unlock()
	return net.ParseIP(s._lastParams.ServerIP)
}

func (s *Service) getTunnel() *tunnel.Tunnel {
	s._tunnelMutex.Lock()
	defer s._tunnelMutex.Unlock()
	return s._tunnel
}

func (s *Service) setTunnel(tun *tunnel.Tunnel) {
	s._tunnelMutex.Lock()
	defer s._tunnelMutex.Unlock()
	s._tunnel = tun
}

func (s *Service) getAgentChannel() *agent.Channel {
	s._tunnelMutex.Lock()
	defer s._tunnelMutex.Unlock()
	return s._agentChannel
}

func (s *Service) setAgentChannel(channel *agent.Channel) {
	s._tunnelMutex.Lock()
	defer s._tunnelMutex.Unlock()
	s._agentChannel = channel
}

// tunnelActive reports whether the current connection reached the
// activated state and has not been torn down.
func (s *Service) tunnelActive() bool {
	tun := s.getTunnel()
	if tun == nil {
		return false
	}
	handle, ok := tun.Handle()
	return ok && handle.IsActive
}

func (s *Service) getDone() chan struct{} {
	s._doneMutex.Lock()
	defer s._doneMutex.Unlock()
	return s._done
}

func (s *Service) setDone(done chan struct{}) {
	s._doneMutex.Lock()
	defer s._doneMutex.Unlock()
	s._done = done
}

// signalDone notifies a waiting disconnect that the teardown is complete.
func (s *Service) signalDone() {
	s._doneMutex.Lock()
	done := s._done
	s._done = nil
	s._doneMutex.Unlock()

	if done != nil {
		done <- struct{}{}
		// reading from a closed channel returns immediately, so late
		// waiters do not hang
		close(done)
	}
}

func (s *Service) setConnEventChan(ch chan events.Event) {
	s._connEvtChanMutex.Lock()
	defer s._connEvtChanMutex.Unlock()
	s._connEvtChan = ch
}

func (s *Service) forwardToConnectionOwner(evt events.Event) {
	s._connEvtChanMutex.Lock()
	ch := s._connEvtChan
	s._connEvtChanMutex.Unlock()

	if ch == nil {
		return
	}
	select {
	case ch <- evt:
	default:
		log.Warning("connection event dropped (owner busy): ", evt.String())
	}
}
