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
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nimbusvpn/daemon/helpers"
	"github.com/nimbusvpn/daemon/logger"
	"github.com/nimbusvpn/daemon/protocol/types"
	"github.com/nimbusvpn/daemon/rageshake"
	"github.com/nimbusvpn/daemon/service/preferences"
	service_types "github.com/nimbusvpn/daemon/service/types"
	"github.com/nimbusvpn/daemon/tunnel/events"
	"github.com/nimbusvpn/daemon/version"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("prtcl")
}

// Service - service interface
type Service interface {
	MarkDaemonStopping()
	IsDaemonStopping() bool

	UnInitialise() error

	// Connect starts the connection and blocks until it is torn down
	Connect(params service_types.ConnectionParams) error
	Disconnect() error
	Connected() bool
	ConnectedOrConnecting() bool
	ConnectionStatus() service_types.ConnectionStatus

	KillSwitchState() service_types.KillSwitchStatus
	SetKillSwitchMode(mode service_types.KillSwitchMode) error
	SetHealthchecksType(t service_types.HealthchecksTypeEnum) error
	SetLogging(enabled bool) error

	SessionNew(emailOrAcctID string, password string, deviceName string, stableDeviceID bool) (
		apiCode int,
		apiErrorMsg string,
		rawResponse string,
		err error)
	SessionDelete(isCanDeleteSessionLocally bool) error

	Preferences() preferences.Preferences
}

// CreateProtocol - Create new protocol object
func CreateProtocol() (*Protocol, error) {
	return &Protocol{
		_connections:     make(map[net.Conn]connectionInfo),
		_connRequestChan: make(chan service_types.ConnectionParams, 1),
	}, nil
}

type connectionInfo struct {
	Type types.ClientTypeEnum // UI or CLI
}

// Protocol - TCP interface to communicate with NimbusVPN application
type Protocol struct {
	_secret uint64

	// connections listener
	_connListener *net.TCPListener

	_connectionsMutex sync.RWMutex
	_connections      map[net.Conn]connectionInfo

	// Only last connect request will be processed (if there are more then one received in short period of time)
	_connRequestMutex sync.Mutex
	_connRequestChan  chan service_types.ConnectionParams
	_connRequestReady sync.WaitGroup

	// 'true' while a connection request is processed synchronously; the
	// final DisconnectedResp of that request is sent by the request
	// processor, not by the state-change handler
	_processingConnRequest atomic.Bool

	_disconnectRequested bool

	_service Service

	// keep info about the last reported connection state
	_lastStateMutex      sync.Mutex
	_lastTunnelState     events.TunnelState
	_lastDisconnectEvent events.Event

	_isRunning bool // 'false' when not running OR after Stop() command call

	// Send this error info to a first connected client
	// (in use if no clients connected when the error happened)
	_lastConnectionErrorToNotifyClient string
}

// Stop - stop communication
func (p *Protocol) Stop() {
	log.Info("Stopping ...")

	// Notifying clients "service is going to stop" (client application (UI) will close)
	// Closing and erasing all clients connections
	// (do it only if stopping was requested by Stop() )
	p.notifyClientsDaemonExiting()

	listener := p._connListener
	if listener != nil {
		// keep info that stop command requested
		p._service.MarkDaemonStopping()
		p._isRunning = false
		// do not accept new incoming connections
		listener.Close()

		// Do not use any send\receive communications with connected clients after listener stopped
	}
}

// Start - starts TCP interface to communicate with NimbusVPN application (server to listen incoming connections)
func (p *Protocol) Start(secret uint64, startedOnPort chan<- int, service Service) error {
	if p._service != nil {
		return errors.New("unable to start protocol communication. It is already initialized")
	}

	p._service = service
	p._secret = secret

	p._isRunning = true
	defer func() {
		p._isRunning = false
		log.Info("Protocol stopped")

		// Disconnect VPN (if connected)
		p._service.UnInitialise()
	}()

	addr := "127.0.0.1:0"
	// Initializing listener
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve TCP address: %w", err)
	}

	// start listener
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener: %w", err)
	}

	// save listener to a protocol field (to be able to stop it)
	p._connListener = listener

	// get port opened by listener
	openedPortStr := strings.Split(listener.Addr().String(), ":")[1]
	openedPort, err := strconv.Atoi(openedPortStr)
	if err != nil {
		return fmt.Errorf("failed to convert port string to int: %w", err)
	}
	startedOnPort <- openedPort

	log.Info(fmt.Sprintf("%s service started: %d [...%s]", helpers.ServiceName, openedPort, fmt.Sprintf("%016x", secret)[12:]))
	defer func() {
		listener.Close()
		log.Info("Listener closed")
	}()

	// Start processing of new connection requests
	// (connection requests collecting in to chain and processing in order they were received.
	//  See also "RegisterConnectionRequest()" for details)
	go p.processConnectionRequests()

	// infinite loop of processing client connections
	for {
		conn, err := listener.Accept()

		if err != nil {
			if !p._isRunning {
				return nil // it is expected to get error here (we are requested protocol to stop): "use of closed network connection"
			}
			log.Error("Server: failed to accept incoming connection:", err)
			return fmt.Errorf("(server) failed to accept incoming connection: %w", err)
		}
		go p.processClient(conn)
	}
}

func (p *Protocol) processClient(conn net.Conn) {
	// The first request from a client should be 'Hello' request with correct secret
	// In case of wrong secret - the daemon drops connection
	isAuthenticated := false

	clientRemoteAddr := conn.RemoteAddr()
	log.Info("Client connected: ", clientRemoteAddr)

	defer func() {
		if r := recover(); r != nil {
			log.Error("PANIC during client communication!: ", r)
			log.Error(string(debug.Stack()))
			if err, ok := r.(error); ok {
				log.ErrorTrace(err)
			}
		}

		p.clientDisconnected(conn)
		log.Info("Client disconnected: ", clientRemoteAddr)
	}()

	reader := bufio.NewReader(conn)
	for {
		// will listen for message to process ending in newline (\n)
		message, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				log.Warning(fmt.Errorf("error receiving data from client: %w", err))
			}
			break
		}

		// CONNECTION AUTHENTICATION: First request should be 'Hello' with correct authentication secret
		if !isAuthenticated {
			messageData := []byte(message)

			cmd, err := types.GetRequestBase(messageData)
			if err != nil {
				log.Error(fmt.Sprintf("%sFailed to parse initialization request:", p.connLogID(conn)), err)
				return
			}
			// ensure if client use correct secret
			if cmd.Command != "Hello" {
				logger.Error(fmt.Sprintf("%sConnection not authenticated. Closing.", p.connLogID(conn)))
				return
			}
			// parsing 'Hello' request
			var hello types.Hello
			if err := json.Unmarshal(messageData, &hello); err != nil {
				p.sendErrorResponse(conn, cmd, fmt.Errorf("connection authentication error: %w", err))
				return
			}
			if hello.Secret != p._secret {
				log.Warning(fmt.Errorf("refusing connection: secret verification error"))
				p.sendErrorResponse(conn, cmd, fmt.Errorf("secret verification error"))
				return
			}

			// AUTHENTICATED
			isAuthenticated = true
			p.clientConnected(conn, hello.ClientType) // 0-ui 1-cli
		}

		// Processing requests from client (in separate routine)
		go p.processRequest(conn, message)
	}
}

func (p *Protocol) processRequest(conn net.Conn, message string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("%sPANIC during processing request!: ", p.connLogID(conn)), r)
			log.Error(string(debug.Stack()))
			if err, ok := r.(error); ok {
				log.ErrorTrace(err)
			}
			log.Info(fmt.Sprintf("%sClosing connection and recovering state", p.connLogID(conn)))
			conn.Close()
		}
	}()

	messageData := []byte(message)

	reqCmd, err := types.GetRequestBase(messageData)
	if err != nil {
		log.Error(fmt.Sprintf("%sFailed to parse request:", p.connLogID(conn)), err)
		return
	}

	log.Info("[<--] ", p.connLogID(conn), reqCmd.Command, fmt.Sprintf(" [%d]", reqCmd.Idx))

	sendState := func(reqIdx int, isOnlyIfConnected bool) {
		state := p.lastTunnelState()
		if state == events.StateConnected {
			p.sendResponse(conn, p.createConnectedResponse(), reqIdx)
		} else if !isOnlyIfConnected {
			if state == events.StateDisconnected {
				p.sendResponse(conn, &types.DisconnectedResp{IsStateInfo: true, Failure: false, Reason: 0, ReasonDescription: ""}, reqIdx)
			} else {
				p.sendResponse(conn, &types.TunnelStateResp{StateVal: state, State: state.String()}, reqIdx)
			}
		}
	}

	switch reqCmd.Command {
	case "EmptyReq":
		// test request (e.g. checking daemon liveness)
		p.sendResponse(conn, &types.EmptyResp{}, reqCmd.Idx)

	case "Hello":
		var req types.Hello

		if err := json.Unmarshal(messageData, &req); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
		}

		log.Info(fmt.Sprintf("%sConnected client version: '%s'", p.connLogID(conn), req.Version))

		// send back Hello message with account session info
		helloResponse := p.createHelloResponse()
		p.sendResponse(conn, helloResponse, req.Idx)
		if req.SendResponseToAllClients {
			p.notifyClients(helloResponse)
		}

		// a connection error that happened when no clients were around to
		// see it is delivered to the first client that appears
		if len(p._lastConnectionErrorToNotifyClient) > 0 {
			p.sendError(conn, p._lastConnectionErrorToNotifyClient, req.Idx)
			p._lastConnectionErrorToNotifyClient = ""
		}

		if req.GetStatus {
			// send connection state
			sendState(req.Idx, false)

			// send kill switch state
			p.sendResponse(conn, &types.KillSwitchStatusResp{KillSwitchStatus: p._service.KillSwitchState()}, reqCmd.Idx)
		}

	case "GetStatus":
		sendState(reqCmd.Idx, false)

	case "KillSwitchGetStatus":
		resp := types.KillSwitchStatusResp{KillSwitchStatus: p._service.KillSwitchState()}
		p.sendResponse(conn, &resp, reqCmd.Idx)

	case "KillSwitchSetMode":
		var req types.KillSwitchSetMode
		if err := json.Unmarshal(messageData, &req); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}

		if err := p._service.SetKillSwitchMode(req.Mode); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}

		// send the response to the requestor
		p.sendResponse(conn, &types.EmptyResp{}, req.Idx)
		// all clients will be notified in case of successful change by OnKillSwitchStateChanged() handler

	case "SetHealthchecksType":
		var req types.SetHealthchecksType
		if err := json.Unmarshal(messageData, &req); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}

		healthchecksType, ok := service_types.HealthcheckTypesByName[req.Type]
		if !ok {
			p.sendErrorResponse(conn, reqCmd, fmt.Errorf("unknown healthchecks type '%s'", req.Type))
			break
		}
		if err := p._service.SetHealthchecksType(healthchecksType); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}

		p.sendResponse(conn, &types.EmptyResp{}, req.Idx)

	case "SetLogging":
		var req types.SetLogging
		if err := json.Unmarshal(messageData, &req); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}

		if err := p._service.SetLogging(req.Enable); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}

		p.sendResponse(conn, &types.EmptyResp{}, req.Idx)

	case "SessionNew":
		var req types.SessionNew
		if err := json.Unmarshal(messageData, &req); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}

		var resp types.SessionNewResp
		apiCode, apiErrMsg, rawResponse, err := p._service.SessionNew(req.EmailOrAcctID, req.Password, req.DeviceName, req.StableDeviceID)
		if err != nil {
			if apiCode == 0 {
				// if apiCode == 0 - it is not API error. Sending error response
				p.sendErrorResponse(conn, reqCmd, err)
				break
			}
			// sending API error info
			resp = types.SessionNewResp{
				APIStatus:       apiCode,
				APIErrorMessage: apiErrMsg,
				Session:         types.SessionResp{}, // empty session info
				RawResponse:     rawResponse}
		} else {
			// Success. Sending session info
			resp = types.SessionNewResp{
				APIStatus:       apiCode,
				APIErrorMessage: apiErrMsg,
				Session:         types.CreateSessionResp(p._service.Preferences().Session),
				RawResponse:     rawResponse}
		}

		// send response
		p.sendResponse(conn, &resp, reqCmd.Idx)

		// notify all clients about changed session status
		p.notifyClients(p.createHelloResponse())

	case "SessionDelete":
		var req types.SessionDelete
		if err := json.Unmarshal(messageData, &req); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}

		if err := p._service.SessionDelete(req.IsCanDeleteSessionLocally); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}

		p.sendResponse(conn, &types.EmptyResp{}, reqCmd.Idx)
		// all clients get a fresh hello from the OnServiceSessionChanged() handler

	case "SendDiagnostics":
		var req types.SendDiagnostics
		if err := json.Unmarshal(messageData, &req); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}

		reportURL, err := rageshake.CollectAndUpload(req.UserComment, "user report")
		if err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
			break
		}
		p.sendResponse(conn, &types.DiagnosticsSentResp{ReportURL: reportURL}, reqCmd.Idx)

	case "Disconnect":
		p._disconnectRequested = true
		p._lastConnectionErrorToNotifyClient = ""

		if !p._service.ConnectedOrConnecting() {
			p.sendResponse(conn, &types.DisconnectedResp{Reason: types.DisconnectRequested}, reqCmd.Idx)
			// There is still a chance that a connection owner is between
			// tunnel objects while retrying. Therefore, we continue to
			// ensure that Disconnect() is called.
		}

		if err := p._service.Disconnect(); err != nil {
			p.sendErrorResponse(conn, reqCmd, err)
		}

	case "Connect":
		// parse request
		var connectRequest types.Connect
		if err := json.Unmarshal(messageData, &connectRequest); err != nil {
			p.sendErrorResponse(conn, reqCmd, fmt.Errorf("failed to unmarshal json 'Connect' request: %w", err))
			return
		}

		// Save last received connection request. It will be processed in separate routine 'processConnectionRequests()' which is already running
		p.RegisterConnectionRequest(connectRequest.Params)

		// send request confirmation to client
		p.sendResponse(conn, &types.EmptyResp{}, reqCmd.Idx)

	default:
		log.Warning("!!! Unsupported request type !!! ", reqCmd.Command)
		log.Debug("Unsupported request:", message)
		p.sendErrorResponse(conn, reqCmd, fmt.Errorf("unsupported request: '%s'", reqCmd.Command))
	}
}

// RegisterConnectionRequest - Register new connection request.
// If there is more than one connection request available - all requests will be ignored except the last one
func (p *Protocol) RegisterConnectionRequest(r service_types.ConnectionParams) error {
	p._disconnectRequested = false

	// New connection request would not start processing until p._connRequestReady.Done()
	p._connRequestReady.Add(1)
	// At the end: allow processing connection request which was added
	defer p._connRequestReady.Done()

	// synchronized block: only one connection request allowed. Remove previous request (if exists)
	func() {
		p._connRequestMutex.Lock()
		defer p._connRequestMutex.Unlock()
		// remove previous unprocessed requests (if they are)
		select {
		case <-p._connRequestChan:
			log.Info("Skipping previous connection request. Newest request received!")
		default:
		}

		// Add request to chain (it will be processed in 'processConnectionRequests()' routine)
		// Note: new connection request would not start processing until p._connRequestReady.Done()
		p._connRequestChan <- r
	}()

	// Disconnect active connection (if connected).
	// "Disconnected" notification will not be sent to the clients in this case (because new connection request is pending).
	// It is important to call it after new connection request registered
	if p._service != nil {
		if err := p._service.Disconnect(); err != nil {
			log.ErrorTrace(err)
		}
	}
	return nil
}

func (p *Protocol) processConnectionRequests() {
	log.Info("Connection requests processor started")
	defer log.Info("Connection requests processor stopped")

	for {
		if !p._isRunning {
			break
		}

		connectRequest := <-p._connRequestChan
		p._connRequestReady.Wait() // wait processing connection request until everything is ready

		// processing each connection request is wrapped into function in order to call 'defer' sections properly
		func() {
			p._processingConnRequest.Store(true)
			defer p._processingConnRequest.Store(false)

			defer func() {
				if r := recover(); r != nil {
					log.Error(fmt.Errorf("PANIC during processing connection request: %v", r))
					log.Error(string(debug.Stack()))
					if err, ok := r.(error); ok {
						log.ErrorTrace(err)
					}
				}
			}()

			saveLastError := func(e error) {
				// If no any clients connected - error notification will not be passed to user
				// Therefore we keep this error an pass it to the first connected client
				if e != nil && p.clientsConnectedCount() == 0 {
					p._lastConnectionErrorToNotifyClient = fmt.Sprintf("Failed to connect VPN: %s", e.Error())
				}
			}

			var connectionError error

			// do not forget to notify that process was stopped (disconnected)
			defer func() {
				// Do not send "Disconnected" notification if we are going to establish new connection immediately
				if len(p._connRequestChan) == 0 || p._disconnectRequested {
					reason, description := disconnectionReason(p.takeLastDisconnectEvent())
					if p._disconnectRequested {
						// notify clients that disconnection was manually requested by one of connected clients
						// (prevent UI clients trying to reconnect)
						reason = types.DisconnectRequested
					}

					if connectionError != nil {
						description = connectionError.Error()
					}
					saveLastError(connectionError)
					p.notifyClients(&types.DisconnectedResp{Failure: connectionError != nil, Reason: reason, ReasonDescription: description})
				}
			}()

			p._lastConnectionErrorToNotifyClient = ""
			// SYNCHRONOUSLY start VPN connection process (wait until it finished)
			if connectionError = p.processConnectRequest(connectRequest); connectionError != nil {
				log.ErrorTrace(connectionError)
				saveLastError(connectionError)
			}
		}()
	}
}

func (p *Protocol) processConnectRequest(r service_types.ConnectionParams) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("panic on connect: " + fmt.Sprint(r))
			log.Error(err)
			log.Error(string(debug.Stack()))
		}
	}()

	if p._disconnectRequested {
		log.Info("Disconnection was requested. Canceling connection.")
		return p._service.Disconnect()
	}

	return p._service.Connect(r)
}

func (p *Protocol) createHelloResponse() *types.HelloResp {
	prefs := p._service.Preferences()

	healthchecksType := service_types.HealthcheckTypeNames[service_types.HealthchecksTypeDefault]
	if int(prefs.HealthchecksType) >= 0 && int(prefs.HealthchecksType) < len(service_types.HealthcheckTypeNames) {
		healthchecksType = service_types.HealthcheckTypeNames[prefs.HealthchecksType]
	}

	return &types.HelloResp{
		Version:             version.Version(),
		SettingsSessionUUID: prefs.SettingsSessionUUID,
		Session:             types.CreateSessionResp(prefs.Session),
		DaemonSettings: types.DaemonSettingsResp{
			IsLogging:        prefs.IsLogging,
			KillSwitchMode:   prefs.KillSwitchMode,
			HealthchecksType: healthchecksType,
		},
	}
}

func (p *Protocol) createConnectedResponse() *types.ConnectedResp {
	return &types.ConnectedResp{ConnectionStatus: p._service.ConnectionStatus()}
}

func (p *Protocol) lastTunnelState() events.TunnelState {
	p._lastStateMutex.Lock()
	defer p._lastStateMutex.Unlock()
	return p._lastTunnelState
}

// takeLastDisconnectEvent returns the saved terminal event and clears it
// so a later connection does not report a stale reason.
func (p *Protocol) takeLastDisconnectEvent() events.Event {
	p._lastStateMutex.Lock()
	defer p._lastStateMutex.Unlock()
	evt := p._lastDisconnectEvent
	p._lastDisconnectEvent = nil
	return evt
}

func (p *Protocol) clientConnected(c net.Conn, cType types.ClientTypeEnum) {
	p._connectionsMutex.Lock()
	defer p._connectionsMutex.Unlock()
	p._connections[c] = connectionInfo{Type: cType}
}

func (p *Protocol) clientDisconnected(c net.Conn) {
	p._connectionsMutex.Lock()
	defer p._connectionsMutex.Unlock()
	delete(p._connections, c)
	c.Close()
}

func (p *Protocol) clientsConnectedCount() int {
	p._connectionsMutex.RLock()
	defer p._connectionsMutex.RUnlock()
	return len(p._connections)
}

// IsClientConnected - returns 'true' when at least one client is
// connected (only UI clients when checkOnlyUiClients is set)
func (p *Protocol) IsClientConnected(checkOnlyUiClients bool) bool {
	p._connectionsMutex.RLock()
	defer p._connectionsMutex.RUnlock()

	for _, connInfo := range p._connections {
		if checkOnlyUiClients {
			if connInfo.Type == types.ClientUi {
				return true
			}
		} else {
			return true
		}
	}
	return false
}

// notifyClientsDaemonExiting informs all connected clients that the
// daemon is going down, then closes and erases their connections.
func (p *Protocol) notifyClientsDaemonExiting() {
	p.notifyClients(&types.ServiceExitingResp{})

	p._connectionsMutex.Lock()
	defer p._connectionsMutex.Unlock()
	for conn := range p._connections {
		conn.Close()
	}
	p._connections = make(map[net.Conn]connectionInfo)
}

func (p *Protocol) connLogID(c net.Conn) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%s ", c.RemoteAddr().String())
}
