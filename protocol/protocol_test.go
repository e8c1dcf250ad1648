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
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvpn/daemon/protocol/types"
	"github.com/nimbusvpn/daemon/service/preferences"
	service_types "github.com/nimbusvpn/daemon/service/types"
	"github.com/nimbusvpn/daemon/tunnel/events"
)

const testSecret uint64 = 0x1122334455667788

// testService implements the Service interface for protocol tests
type testService struct {
	mu sync.Mutex

	stopping      bool
	unInitialised bool

	prefs      preferences.Preferences
	killSwitch service_types.KillSwitchStatus
	connStatus service_types.ConnectionStatus
	connected  bool

	// when set, Connect() publishes its params and blocks until release
	connectStarted chan service_types.ConnectionParams
	releaseConnect chan struct{}
	connectErr     error

	disconnectCount int
	killSwitchMode  service_types.KillSwitchMode
	healthchecks    service_types.HealthchecksTypeEnum
	loggingEnabled  bool

	sessionNewCode int
	sessionNewMsg  string
	sessionNewRaw  string
	sessionNewErr  error
}

func (s *testService) MarkDaemonStopping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
}

func (s *testService) IsDaemonStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *testService) UnInitialise() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unInitialised = true
	return nil
}

func (s *testService) Connect(params service_types.ConnectionParams) error {
	if s.connectStarted != nil {
		s.connectStarted <- params
	}
	if s.releaseConnect != nil {
		<-s.releaseConnect
	}
	return s.connectErr
}

func (s *testService) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectCount++
	return nil
}

func (s *testService) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *testService) ConnectedOrConnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *testService) ConnectionStatus() service_types.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connStatus
}

func (s *testService) KillSwitchState() service_types.KillSwitchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killSwitch
}

func (s *testService) SetKillSwitchMode(mode service_types.KillSwitchMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killSwitchMode = mode
	return nil
}

func (s *testService) SetHealthchecksType(t service_types.HealthchecksTypeEnum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthchecks = t
	return nil
}

func (s *testService) SetLogging(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggingEnabled = enabled
	return nil
}

func (s *testService) SessionNew(emailOrAcctID string, password string, deviceName string, stableDeviceID bool) (int, string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionNewCode, s.sessionNewMsg, s.sessionNewRaw, s.sessionNewErr
}

func (s *testService) SessionDelete(isCanDeleteSessionLocally bool) error {
	return nil
}

func (s *testService) Preferences() preferences.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

func (s *testService) getDisconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectCount
}

func newTestService() *testService {
	return &testService{
		prefs: preferences.Preferences{
			SettingsSessionUUID: "00000000-1111-2222-3333-444444444444",
			KillSwitchMode:      service_types.KillSwitchModeOff,
			HealthchecksType:    service_types.HealthchecksTypeDefault,
		},
	}
}

func startTestProtocol(t *testing.T, svc *testService) (*Protocol, net.Conn, *bufio.Reader) {
	t.Helper()

	p, err := CreateProtocol()
	require.NoError(t, err)

	portChan := make(chan int, 1)
	go p.Start(testSecret, portChan, svc)

	var port int
	select {
	case port = <-portChan:
	case <-time.After(3 * time.Second):
		t.Fatal("protocol did not open a listening port")
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		p.Stop()
	})

	return p, conn, bufio.NewReader(conn)
}

func readMessage(t *testing.T, conn net.Conn, reader *bufio.Reader) (string, []byte) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	base, err := types.GetRequestBase([]byte(line))
	require.NoError(t, err)
	return base.Command, []byte(line)
}

func authenticate(t *testing.T, conn net.Conn, reader *bufio.Reader) {
	t.Helper()

	req := types.Hello{Secret: testSecret, Version: "1.0.0"}
	require.NoError(t, Send(conn, &req, 1))

	cmd, _ := readMessage(t, conn, reader)
	require.Equal(t, "HelloResp", cmd)
}

func TestHelloAuthentication(t *testing.T) {
	svc := newTestService()
	svc.prefs.Session.AccountID = "acct-42"
	svc.prefs.Session.Session = "token"

	p, conn, reader := startTestProtocol(t, svc)

	req := types.Hello{Secret: testSecret, Version: "1.2.3"}
	require.NoError(t, Send(conn, &req, 5))

	cmd, data := readMessage(t, conn, reader)
	require.Equal(t, "HelloResp", cmd)

	var resp types.HelloResp
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, 5, resp.Idx)
	assert.Equal(t, svc.prefs.SettingsSessionUUID, resp.SettingsSessionUUID)
	assert.Equal(t, "acct-42", resp.Session.AccountID)

	assert.True(t, p.IsClientConnected(false))
	assert.True(t, p.IsClientConnected(true)) // default client type is UI
}

func TestHelloWrongSecretDropsConnection(t *testing.T) {
	_, conn, reader := startTestProtocol(t, newTestService())

	req := types.Hello{Secret: testSecret + 1}
	require.NoError(t, Send(conn, &req, 1))

	cmd, _ := readMessage(t, conn, reader)
	require.Equal(t, "ErrorResp", cmd)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := reader.ReadString('\n')
	require.Error(t, err, "connection must be closed after a failed authentication")
}

func TestFirstRequestMustBeHello(t *testing.T) {
	_, conn, reader := startTestProtocol(t, newTestService())

	req := types.GetStatus{}
	require.NoError(t, Send(conn, &req, 1))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := reader.ReadString('\n')
	require.Error(t, err, "unauthenticated connection must be dropped without a response")
}

func TestHelloWithGetStatus(t *testing.T) {
	svc := newTestService()
	svc.killSwitch = service_types.KillSwitchStatus{
		IsEnabled:      true,
		Mode:           service_types.KillSwitchModeOn,
		ActiveProfiles: []string{"nimbusvpn-block-all"},
	}

	_, conn, reader := startTestProtocol(t, svc)

	req := types.Hello{Secret: testSecret, GetStatus: true}
	require.NoError(t, Send(conn, &req, 2))

	cmd, _ := readMessage(t, conn, reader)
	require.Equal(t, "HelloResp", cmd)

	cmd, data := readMessage(t, conn, reader)
	require.Equal(t, "DisconnectedResp", cmd)
	var state types.DisconnectedResp
	require.NoError(t, json.Unmarshal(data, &state))
	assert.True(t, state.IsStateInfo)
	assert.False(t, state.Failure)

	cmd, data = readMessage(t, conn, reader)
	require.Equal(t, "KillSwitchStatusResp", cmd)
	var ks types.KillSwitchStatusResp
	require.NoError(t, json.Unmarshal(data, &ks))
	assert.True(t, ks.IsEnabled)
	assert.Equal(t, service_types.KillSwitchModeOn, ks.Mode)
	assert.Equal(t, []string{"nimbusvpn-block-all"}, ks.ActiveProfiles)
}

func TestGetStatusWhenDisconnected(t *testing.T) {
	_, conn, reader := startTestProtocol(t, newTestService())
	authenticate(t, conn, reader)

	req := types.GetStatus{}
	require.NoError(t, Send(conn, &req, 3))

	cmd, data := readMessage(t, conn, reader)
	require.Equal(t, "DisconnectedResp", cmd)

	var resp types.DisconnectedResp
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, 3, resp.Idx)
	assert.True(t, resp.IsStateInfo)
}

func TestKillSwitchSetMode(t *testing.T) {
	svc := newTestService()
	_, conn, reader := startTestProtocol(t, svc)
	authenticate(t, conn, reader)

	req := types.KillSwitchSetMode{Mode: service_types.KillSwitchModePermanent}
	require.NoError(t, Send(conn, &req, 4))

	cmd, _ := readMessage(t, conn, reader)
	require.Equal(t, "EmptyResp", cmd)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, service_types.KillSwitchModePermanent, svc.killSwitchMode)
}

func TestSetHealthchecksType(t *testing.T) {
	svc := newTestService()
	_, conn, reader := startTestProtocol(t, svc)
	authenticate(t, conn, reader)

	req := types.SetHealthchecksType{Type: "Disabled"}
	require.NoError(t, Send(conn, &req, 5))

	cmd, _ := readMessage(t, conn, reader)
	require.Equal(t, "EmptyResp", cmd)

	svc.mu.Lock()
	assert.Equal(t, service_types.HealthchecksType_Disabled, svc.healthchecks)
	svc.mu.Unlock()

	// unknown name is rejected
	bad := types.SetHealthchecksType{Type: "Bogus"}
	require.NoError(t, Send(conn, &bad, 6))

	cmd, _ = readMessage(t, conn, reader)
	require.Equal(t, "ErrorResp", cmd)
}

func TestSessionNewNotifiesAllClients(t *testing.T) {
	svc := newTestService()
	svc.sessionNewCode = 200
	svc.prefs.Session.AccountID = "acct-7"
	svc.prefs.Session.Session = "fresh-token"

	_, conn, reader := startTestProtocol(t, svc)
	authenticate(t, conn, reader)

	req := types.SessionNew{EmailOrAcctID: "user@example.test", Password: "pw"}
	require.NoError(t, Send(conn, &req, 7))

	cmd, data := readMessage(t, conn, reader)
	require.Equal(t, "SessionNewResp", cmd)
	var resp types.SessionNewResp
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, 200, resp.APIStatus)
	assert.Equal(t, "acct-7", resp.Session.AccountID)

	// the registered client also gets a fresh hello notification
	cmd, data = readMessage(t, conn, reader)
	require.Equal(t, "HelloResp", cmd)
	var hello types.HelloResp
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Zero(t, hello.Idx)
	assert.Equal(t, "acct-7", hello.Session.AccountID)
}

func TestSessionNewAPIError(t *testing.T) {
	svc := newTestService()
	svc.sessionNewCode = 401
	svc.sessionNewMsg = "invalid credentials"
	svc.sessionNewErr = errors.New("authentication failed")

	_, conn, reader := startTestProtocol(t, svc)
	authenticate(t, conn, reader)

	req := types.SessionNew{EmailOrAcctID: "user@example.test", Password: "bad"}
	require.NoError(t, Send(conn, &req, 8))

	cmd, data := readMessage(t, conn, reader)
	require.Equal(t, "SessionNewResp", cmd)
	var resp types.SessionNewResp
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, 401, resp.APIStatus)
	assert.Equal(t, "invalid credentials", resp.APIErrorMessage)
	assert.Empty(t, resp.Session.AccountID)
}

func TestConnectFlow(t *testing.T) {
	svc := newTestService()
	svc.connectStarted = make(chan service_types.ConnectionParams, 1)
	svc.releaseConnect = make(chan struct{})

	_, conn, reader := startTestProtocol(t, svc)
	authenticate(t, conn, reader)

	req := types.Connect{Params: service_types.ConnectionParams{
		Protocol:       "wireguard",
		ServerName:     "de-fra-01",
		ServerIP:       "192.0.2.1",
		WireGuardPorts: []int{51820},
	}}
	require.NoError(t, Send(conn, &req, 9))

	cmd, _ := readMessage(t, conn, reader)
	require.Equal(t, "EmptyResp", cmd)

	var params service_types.ConnectionParams
	select {
	case params = <-svc.connectStarted:
	case <-time.After(3 * time.Second):
		t.Fatal("connection request was not handed to the service")
	}
	assert.Equal(t, "de-fra-01", params.ServerName)
	assert.Equal(t, "wireguard", params.Protocol)

	// an active connection is always torn down before a new request
	assert.GreaterOrEqual(t, svc.getDisconnectCount(), 1)

	// let the connection finish; the clients must learn about the teardown
	close(svc.releaseConnect)

	cmd, data := readMessage(t, conn, reader)
	require.Equal(t, "DisconnectedResp", cmd)
	var resp types.DisconnectedResp
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.False(t, resp.Failure)
}

func TestConnectFailureReportsDescription(t *testing.T) {
	svc := newTestService()
	svc.releaseConnect = make(chan struct{})
	svc.connectErr = errors.New("tunnel device vanished")

	_, conn, reader := startTestProtocol(t, svc)
	authenticate(t, conn, reader)

	req := types.Connect{Params: service_types.ConnectionParams{
		Protocol:       "wireguard",
		ServerName:     "de-fra-01",
		ServerIP:       "192.0.2.1",
		WireGuardPorts: []int{51820},
	}}
	require.NoError(t, Send(conn, &req, 10))

	cmd, _ := readMessage(t, conn, reader)
	require.Equal(t, "EmptyResp", cmd)

	close(svc.releaseConnect)

	cmd, data := readMessage(t, conn, reader)
	require.Equal(t, "DisconnectedResp", cmd)
	var resp types.DisconnectedResp
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.True(t, resp.Failure)
	assert.Contains(t, resp.ReasonDescription, "tunnel device vanished")
}

func TestDisconnectWhenIdle(t *testing.T) {
	svc := newTestService()
	_, conn, reader := startTestProtocol(t, svc)
	authenticate(t, conn, reader)

	req := types.Disconnect{}
	require.NoError(t, Send(conn, &req, 11))

	cmd, data := readMessage(t, conn, reader)
	require.Equal(t, "DisconnectedResp", cmd)

	var resp types.DisconnectedResp
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, types.DisconnectRequested, resp.Reason)
	assert.False(t, resp.Failure)

	assert.Eventually(t, func() bool { return svc.getDisconnectCount() >= 1 },
		3*time.Second, 10*time.Millisecond)
}

func TestUnsupportedRequest(t *testing.T) {
	_, conn, reader := startTestProtocol(t, newTestService())
	authenticate(t, conn, reader)

	_, err := conn.Write([]byte(`{"Command":"Bogus","Idx":12}` + "\n"))
	require.NoError(t, err)

	cmd, data := readMessage(t, conn, reader)
	require.Equal(t, "ErrorResp", cmd)

	var resp types.ErrorResp
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Contains(t, resp.ErrorMessage, "Bogus")
}

func TestStopNotifiesClients(t *testing.T) {
	svc := newTestService()
	p, conn, reader := startTestProtocol(t, svc)
	authenticate(t, conn, reader)

	p.Stop()

	cmd, _ := readMessage(t, conn, reader)
	require.Equal(t, "ServiceExitingResp", cmd)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := reader.ReadString('\n')
	require.Error(t, err, "daemon must close client connections on stop")

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.stopping && svc.unInitialised
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDisconnectionReasonMapping(t *testing.T) {
	cause := errors.New("handshake failed")

	tests := []struct {
		evt         events.Event
		reason      types.DisconnectionReason
		description string
	}{
		{events.AuthDenied{Reason: cause}, types.AuthenticationError, "handshake failed"},
		{events.Timeout{Reason: cause}, types.ConnectTimeout, "handshake failed"},
		{events.TunnelSetupFailed{Reason: cause}, types.TunnelSetupError, "handshake failed"},
		{events.DeviceDisconnected{Reason: cause}, types.DeviceLost, "handshake failed"},
		{events.UnexpectedError{Reason: cause}, types.Unknown, "handshake failed"},
		{events.Disconnected{}, types.Unknown, ""},
		{nil, types.Unknown, ""},
	}

	for _, tc := range tests {
		reason, description := disconnectionReason(tc.evt)
		assert.Equal(t, tc.reason, reason)
		assert.Equal(t, tc.description, description)
	}
}

func TestSendFraming(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(server).ReadString('\n')
		if err != nil {
			done <- ""
			return
		}
		done <- line
	}()

	require.NoError(t, Send(client, &types.EmptyResp{}, 77))

	select {
	case line := <-done:
		require.NotEmpty(t, line)
		assert.Equal(t, byte('\n'), line[len(line)-1])

		var base types.CommandBase
		require.NoError(t, json.Unmarshal([]byte(line), &base))
		assert.Equal(t, "EmptyResp", base.Command)
		assert.Equal(t, 77, base.Idx)
	case <-time.After(3 * time.Second):
		t.Fatal("no frame received")
	}
}
