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
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvpn/daemon/netchange"
	"github.com/nimbusvpn/daemon/reachability"
	"github.com/nimbusvpn/daemon/service/preferences"
	"github.com/nimbusvpn/daemon/service/srvhelpers"
	"github.com/nimbusvpn/daemon/service/types"
	"github.com/nimbusvpn/daemon/tunnel/events"
)

type fakeEventsReceiver struct {
	mu              sync.Mutex
	transitions     []string
	killSwitchCalls int
	sessionCalls    int
}

func (r *fakeEventsReceiver) OnTunnelStateChanged(state events.TunnelState, evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := "nil"
	if evt != nil {
		name = evt.String()
	}
	r.transitions = append(r.transitions, state.String()+"/"+name)
}

func (r *fakeEventsReceiver) OnKillSwitchStateChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killSwitchCalls++
}

func (r *fakeEventsReceiver) OnServiceSessionChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionCalls++
}

func (r *fakeEventsReceiver) lastTransition() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.transitions) == 0 {
		return ""
	}
	return r.transitions[len(r.transitions)-1]
}

func (r *fakeEventsReceiver) transitionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions)
}

// newTestService builds a service without the network daemon connection.
// Healthchecks are disabled so no background monitor interferes unless a
// test enables them explicitly.
func newTestService(t *testing.T) (*Service, *fakeEventsReceiver) {
	t.Helper()

	receiver := &fakeEventsReceiver{}
	prefs := preferences.Create()
	prefs.HealthchecksType = types.HealthchecksType_Disabled

	serv := &Service{
		_evtReceiver:         receiver,
		_preferences:         prefs,
		_netChangeDetector:   netchange.Create(),
		_reachabilityChecker: &reachability.Checker{},
	}
	serv.connectivityHealthchecksMonitor = &srvhelpers.ServiceBackgroundMonitor{
		MonitorName:          "connectivityHealthchecksBackgroundMonitor",
		MonitorEndChan:       make(chan bool, 1),
		MonitorRunningMutex:  &sync.Mutex{},
		MonitorStopFuncMutex: &sync.Mutex{},
	}
	serv.connectivityHealthchecksMonitor.MonitorFunc = serv.connectivityHealthchecksBackgroundMonitor

	t.Cleanup(serv._netChangeDetector.Stop)
	return serv, receiver
}

func testConnectionRequest() types.ConnectionParams {
	return types.ConnectionParams{
		Protocol:        "wireguard",
		ServerName:      "nl-ams-1",
		ServerDomain:    "nl-ams-1.nimbusvpn.net",
		ServerIP:        "203.0.113.7",
		ServerPublicKey: "c2VydmVyLXB1YmxpYy1rZXk=",
		ServerLabel:     "edge-2",
		HasIPv6:         true,
		WireGuardPorts:  []int{51820, 4500},
		EnableIPv6:      true,
		CustomDNS:       []string{"10.2.0.1"},
	}
}

func TestBuildTunnelParamsMergesSessionCredentials(t *testing.T) {
	s, _ := newTestService(t)
	s._preferences.Session = preferences.SessionStatus{
		AccountID:            "jane@example.com",
		Session:              "token-1",
		OpenVPNUser:          "ovpn-user",
		OpenVPNPass:          "ovpn-pass",
		WGPrivateKey:         "wg-private",
		ClientCertificatePEM: "CERT",
		ClientPrivateKeyPEM:  "KEY",
	}

	got, err := s.buildTunnelParams(testConnectionRequest())
	require.NoError(t, err)

	assert.Equal(t, "nl-ams-1", got.Server.Name)
	assert.Equal(t, "nl-ams-1.nimbusvpn.net", got.Server.Domain)
	assert.True(t, got.Server.IP.Equal(net.ParseIP("203.0.113.7")))
	assert.Equal(t, []int{51820, 4500}, got.Server.WireGuardPorts)
	assert.Equal(t, "edge-2", got.Server.Label)
	assert.True(t, got.Server.HasIPv6)

	assert.Equal(t, "ovpn-user", got.Credentials.OpenVPNUsername)
	assert.Equal(t, "ovpn-pass", got.Credentials.OpenVPNPassword)
	assert.Equal(t, "wg-private", got.Credentials.WGPrivateKey)
	assert.Equal(t, "CERT", string(got.Credentials.ClientCertPEM))
	assert.Equal(t, "KEY", string(got.Credentials.ClientKeyPEM))

	assert.Equal(t, "wireguard", got.Settings.Protocol)
	assert.True(t, got.Settings.EnableIPv6)
	require.Len(t, got.Settings.CustomDNS, 1)
	assert.True(t, got.Settings.CustomDNS[0].Equal(net.ParseIP("10.2.0.1")))
}

func TestBuildTunnelParamsRejectsBadAddresses(t *testing.T) {
	s, _ := newTestService(t)

	badIP := testConnectionRequest()
	badIP.ServerIP = "not-an-ip"
	_, err := s.buildTunnelParams(badIP)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server IP")

	badDNS := testConnectionRequest()
	badDNS.CustomDNS = []string{"10.2.0.1", "bad-dns"}
	_, err = s.buildTunnelParams(badDNS)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DNS")
}

func TestConnectRequiresLogin(t *testing.T) {
	s, _ := newTestService(t)

	err := s.Connect(testConnectionRequest())
	require.Error(t, err)
	assert.IsType(t, ErrorNotLoggedIn{}, err)
}

func TestConnectRejectsBadRequest(t *testing.T) {
	s, _ := newTestService(t)

	require.Error(t, s.Connect(types.ConnectionParams{}))
}

func TestOnConnectionEventStateMapping(t *testing.T) {
	cases := []struct {
		name  string
		prior events.TunnelState
		evt   events.Event
		want  events.TunnelState
	}{
		{"initialized", events.StateDisconnected, events.Initialized{State: events.StateError}, events.StateError},
		{"connected", events.StateConnecting, events.Connected{}, events.StateConnected},
		{"disconnected", events.StateConnected, events.Disconnected{}, events.StateDisconnected},
		{"device disconnected", events.StateConnected, events.DeviceDisconnected{}, events.StateDisconnected},
		{"timeout", events.StateConnecting, events.Timeout{}, events.StateDisconnected},
		{"auth denied", events.StateConnecting, events.AuthDenied{}, events.StateDisconnected},
		{"setup failed", events.StateConnecting, events.TunnelSetupFailed{}, events.StateDisconnected},
		{"unexpected error without active tunnel", events.StateConnected, events.UnexpectedError{Reason: fmt.Errorf("agent failure")}, events.StateError},
		{"expired certificate keeps state", events.StateConnected, events.ExpiredCertificate{}, events.StateConnected},
		{"max sessions keeps state", events.StateConnected, events.MaximumSessionsReached{}, events.StateConnected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, receiver := newTestService(t)
			s.setTunnelState(tc.prior)

			s.OnConnectionEvent(tc.evt)

			assert.Equal(t, tc.want, s.TunnelState())
			require.NotZero(t, receiver.transitionCount())
			assert.Contains(t, receiver.lastTransition(), tc.want.String())
		})
	}
}

func TestProcessConnectionEventTerminality(t *testing.T) {
	s, _ := newTestService(t)
	change := make(chan struct{}, 1)
	update := make(chan struct{}, 1)

	terminal := []events.Event{
		events.Disconnected{},
		events.DeviceDisconnected{},
		events.Timeout{},
		events.AuthDenied{},
		events.TunnelSetupFailed{},
		// without an active tunnel an unexpected error ends the connection
		events.UnexpectedError{Reason: fmt.Errorf("boom")},
	}
	for _, evt := range terminal {
		assert.False(t, s.processConnectionEvent(evt, change, update), evt.String())
	}

	assert.True(t, s.processConnectionEvent(events.ExpiredCertificate{}, change, update))
	assert.True(t, s.processConnectionEvent(events.MaximumSessionsReached{}, change, update))
	assert.True(t, s.processConnectionEvent(events.Connected{}, change, update))
}

func TestCheckConnectivityFixPhases(t *testing.T) {
	s, _ := newTestService(t)
	s._preferences.HealthchecksType = types.HealthchecksType_Ping

	pingOK, pingErr := true, error(nil)
	orig := pingGateway
	defer func() { pingGateway = orig }()
	pingGateway = func(host string, timeout time.Duration) (bool, error) {
		assert.Equal(t, _healthcheckGatewayHost, host)
		return pingOK, pingErr
	}

	// healthy: the phase ladder stays clean
	require.NoError(t, s.checkConnectivityFixAsNeeded())
	assert.Equal(t, PHASE0_CLEAN, s.backendConnectivityCheckState)

	// first failure: route fix phase
	pingOK = false
	require.NoError(t, s.checkConnectivityFixAsNeeded())
	assert.Equal(t, PHASE1_TRY_RECONNECT, s.backendConnectivityCheckState)

	// second failure: the connection is given up (no tunnel here, so only
	// the phase resets)
	require.NoError(t, s.checkConnectivityFixAsNeeded())
	assert.Equal(t, PHASE0_CLEAN, s.backendConnectivityCheckState)

	// recovery resets a pending escalation
	pingOK = true
	s.backendConnectivityCheckState = PHASE1_TRY_RECONNECT
	require.NoError(t, s.checkConnectivityFixAsNeeded())
	assert.Equal(t, PHASE0_CLEAN, s.backendConnectivityCheckState)

	// probe errors skip the iteration without escalating
	pingOK, pingErr = false, fmt.Errorf("socket: operation not permitted")
	require.Error(t, s.checkConnectivityFixAsNeeded())
	assert.Equal(t, PHASE0_CLEAN, s.backendConnectivityCheckState)
}

func TestCheckConnectivitySkippedWhenStopping(t *testing.T) {
	s, _ := newTestService(t)
	s._preferences.HealthchecksType = types.HealthchecksType_Ping
	s.MarkDaemonStopping()
	s.backendConnectivityCheckState = PHASE1_TRY_RECONNECT

	require.NoError(t, s.checkConnectivityFixAsNeeded())
	assert.Equal(t, PHASE0_CLEAN, s.backendConnectivityCheckState)
}

func TestProbeDisabledAlwaysHealthy(t *testing.T) {
	s, _ := newTestService(t)

	healthy, err := s.probeTunnelGateway()
	require.NoError(t, err)
	assert.True(t, healthy)
}

func TestStartHealthchecksDisabledDoesNothing(t *testing.T) {
	s, _ := newTestService(t)

	s.startConnectivityHealthchecks()

	// the monitor was never launched, its mutex is free
	require.True(t, s.connectivityHealthchecksMonitor.MonitorRunningMutex.TryLock())
	s.connectivityHealthchecksMonitor.MonitorRunningMutex.Unlock()
}

func TestHealthchecksMonitorExitsWithoutConnection(t *testing.T) {
	s, _ := newTestService(t)
	s._preferences.HealthchecksType = types.HealthchecksType_Ping

	orig := pingGateway
	defer func() { pingGateway = orig }()
	pingGateway = func(string, time.Duration) (bool, error) { return true, nil }

	s.startConnectivityHealthchecks()

	require.Eventually(t, func() bool {
		if !s.connectivityHealthchecksMonitor.MonitorRunningMutex.TryLock() {
			return false
		}
		s.connectivityHealthchecksMonitor.MonitorRunningMutex.Unlock()
		return true
	}, time.Second*2, time.Millisecond*50, "monitor must exit when no connection exists")
}

func TestConnectionStatusSnapshot(t *testing.T) {
	s, _ := newTestService(t)

	status := s.ConnectionStatus()
	assert.Equal(t, "DISCONNECTED", status.State)
	assert.Empty(t, status.ServerName)
	assert.Zero(t, status.ConnectedSince)

	s.setLastParams(testConnectionRequest())
	s.setTunnelState(events.StateConnecting)
	status = s.ConnectionStatus()
	assert.Equal(t, "CONNECTING", status.State)
	assert.Equal(t, "wireguard", status.Protocol)
	assert.Equal(t, "nl-ams-1", status.ServerName)
	assert.Equal(t, "203.0.113.7", status.ServerIP)
	assert.Zero(t, status.ConnectedSince)

	s.setTunnelState(events.StateConnected)
	status = s.ConnectionStatus()
	assert.Equal(t, "CONNECTED", status.State)
	assert.NotZero(t, status.ConnectedSince)
}

func TestAgentFeaturesFromServerLabel(t *testing.T) {
	s, _ := newTestService(t)

	params, err := s.buildTunnelParams(testConnectionRequest())
	require.NoError(t, err)

	features := s.agentFeatures(params)
	require.NotNil(t, features.Bouncing)
	assert.Equal(t, "edge-2", *features.Bouncing)

	params.Server.Label = ""
	assert.True(t, s.agentFeatures(params).IsZero())
}

func TestDisconnectWithoutConnection(t *testing.T) {
	s, receiver := newTestService(t)

	require.NoError(t, s.Disconnect())
	assert.Zero(t, receiver.transitionCount())
}

func TestDetermineInitialStateNoPersistedHandle(t *testing.T) {
	s, receiver := newTestService(t)

	require.NoError(t, s.determineInitialState())
	assert.Equal(t, events.StateDisconnected, s.TunnelState())
	assert.Equal(t, "DISCONNECTED/INITIALIZED(DISCONNECTED)", receiver.lastTransition())
}

func TestKillSwitchStateReportsConfiguredMode(t *testing.T) {
	s, _ := newTestService(t)
	s._preferences.KillSwitchMode = types.KillSwitchModePermanent

	status := s.KillSwitchState()
	assert.Equal(t, types.KillSwitchModePermanent, status.Mode)
	assert.False(t, status.IsEnabled)
}
