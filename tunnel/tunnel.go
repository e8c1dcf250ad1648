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

// Package tunnel drives the lifecycle of one VPN connection: profile
// creation, activation, teardown and the translation of raw daemon signals
// into typed connection events.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/nimbusvpn/daemon/logger"
	"github.com/nimbusvpn/daemon/nmclient"
	"github.com/nimbusvpn/daemon/tunnel/events"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("tunnl")
}

// DaemonClient is the slice of the NetworkManager client the tunnel uses.
// Implemented by *nmclient.Client; tests substitute a fake.
type DaemonClient interface {
	AddConnection(settings nmclient.ConnectionSettings, persist bool) *nmclient.Future
	ActivateConnection(profilePath dbus.ObjectPath, vpnStateCb, activeStateCb func(state uint32, reason uint32)) *nmclient.Future
	RemoveConnection(profilePath dbus.ObjectPath) *nmclient.Future
	GetConnection(uuid string) (dbus.ObjectPath, error)
	GetActiveConnection(uuid string) (dbus.ObjectPath, error)
	SubscribeVpnState(activePath dbus.ObjectPath, cb func(state uint32, reason uint32)) *nmclient.Future
	SubscribeActiveState(activePath dbus.ObjectPath, cb func(state uint32, reason uint32)) *nmclient.Future
	UnsubscribeVpnState(activePath dbus.ObjectPath)
	UnsubscribeActiveState(activePath dbus.ObjectPath)
}

// ReachabilityChecker performs the pre-connect TCP check.
type ReachabilityChecker interface {
	IsAnyPortReachable(ctx context.Context, ip net.IP, ports []int) bool
}

// HandleStore persists the connection handle so the initial state can be
// determined across daemon restarts.
type HandleStore interface {
	SaveHandle(h ConnectionHandle) error
	LoadHandle() (ConnectionHandle, bool)
	ClearHandle() error
}

// AgentController starts/stops the gateway control channel for connection
// kinds that carry one (wireguard). Both calls may block; the tunnel invokes
// them off the dispatch loop.
type AgentController interface {
	Start() error
	Stop()
}

// Subscriber consumes the tunnel's connection events.
type Subscriber interface {
	OnConnectionEvent(evt events.Event)
}

// Tunnel is the per-connection lifecycle state machine.
type Tunnel struct {
	client  DaemonClient
	checker ReachabilityChecker
	store   HandleStore
	agent   AgentController

	params  ConnectionParams
	builder Builder

	mutex      sync.Mutex
	cancelled  bool
	handle     *ConnectionHandle
	subbedPath dbus.ObjectPath

	subsMutex   sync.Mutex
	subscribers []Subscriber

	evtChan  chan events.Event
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTunnel creates the lifecycle object for one connection and starts its
// event-forwarding goroutine. Fails when no registered builder supports the
// requested protocol.
func NewTunnel(client DaemonClient, checker ReachabilityChecker, store HandleStore, params ConnectionParams) (*Tunnel, error) {
	builder, err := builderFor(params.Settings.Protocol)
	if err != nil {
		return nil, log.ErrorE(err, 0)
	}

	t := &Tunnel{
		client:   client,
		checker:  checker,
		store:    store,
		params:   params,
		builder:  builder,
		evtChan:  make(chan events.Event, 64),
		stopChan: make(chan struct{}),
	}
	t.wg.Add(1)
	go t.forwardEvents()
	return t, nil
}

// SetAgentController wires the gateway control channel. Must be called
// before Start.
func (t *Tunnel) SetAgentController(a AgentController) {
	t.agent = a
}

// Close stops event forwarding. The tunnel must not be used afterwards.
func (t *Tunnel) Close() {
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.wg.Wait()
}

// Register subscribes s to connection events.
func (t *Tunnel) Register(s Subscriber) {
	t.subsMutex.Lock()
	defer t.subsMutex.Unlock()
	t.subscribers = append(t.subscribers, s)
}

// Unregister removes a previously registered subscriber.
func (t *Tunnel) Unregister(s Subscriber) {
	t.subsMutex.Lock()
	defer t.subsMutex.Unlock()
	for i, sub := range t.subscribers {
		if sub == s {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			return
		}
	}
}

// Notify queues an event for delivery to the subscribers. Safe to call from
// any goroutine, including the dispatch loop (never blocks: a full queue
// drops the event with an error logged).
func (t *Tunnel) Notify(evt events.Event) {
	select {
	case t.evtChan <- evt:
	case <-t.stopChan:
	default:
		log.Error("event queue full, dropping event: ", evt.String())
	}
}

func (t *Tunnel) forwardEvents() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopChan:
			return
		case evt := <-t.evtChan:
			t.deliver(evt)
		}
	}
}

func (t *Tunnel) deliver(evt events.Event) {
	t.subsMutex.Lock()
	subs := make([]Subscriber, len(t.subscribers))
	copy(subs, t.subscribers)
	t.subsMutex.Unlock()

	log.Info("connection event: ", evt.String())
	for _, s := range subs {
		s.OnConnectionEvent(evt)
	}
}

// Start brings the connection up: reachability pre-check, profile build and
// add, activation, signal subscription. Terminal failures emit exactly one
// event; the daemon is not touched when the server is unreachable.
func (t *Tunnel) Start(ctx context.Context) error {
	t.mutex.Lock()
	t.cancelled = false
	t.mutex.Unlock()

	if !t.checker.IsAnyPortReachable(ctx, t.params.Server.IP, t.reachabilityPorts()) {
		log.Info("VPN server NOT reachable")
		t.Notify(events.Timeout{})
		return nil
	}
	log.Info("VPN server reachable")

	if t.isCancelled() {
		log.Info("connection cancelled")
		t.Notify(events.Disconnected{})
		return nil
	}

	id := uuid.New().String()
	settings, err := t.builder.Build(id, t.params)
	if err != nil {
		err = log.ErrorFE("failed to build connection profile: %w", err)
		t.Notify(events.TunnelSetupFailed{Reason: err})
		return err
	}

	profilePath, err := waitPath(t.client.AddConnection(settings, true))
	if err != nil {
		err = log.ErrorFE("failed to add connection: %w", err)
		t.Notify(events.TunnelSetupFailed{Reason: err})
		return err
	}

	handle := &ConnectionHandle{
		ID:            id,
		ProfileID:     settings.ID(),
		InterfaceName: settingsInterfaceName(settings),
		Kind:          settingsKind(settings),
		Path:          profilePath,
	}
	t.mutex.Lock()
	t.handle = handle
	cancelled := t.cancelled
	t.mutex.Unlock()

	if t.store != nil {
		if err := t.store.SaveHandle(*handle); err != nil {
			log.Warning("failed to persist connection handle: ", err)
		}
	}

	if cancelled {
		log.Info("connection cancelled, removing profile")
		t.removeProfile(profilePath)
		t.Notify(events.Disconnected{})
		return nil
	}

	var vpnCb, activeCb func(uint32, uint32)
	if handle.Kind == KindWireGuard {
		activeCb = t.onActiveStateChanged
	} else {
		vpnCb = t.onVpnStateChanged
	}

	activePath, err := waitPath(t.client.ActivateConnection(profilePath, vpnCb, activeCb))
	if err != nil {
		err = log.ErrorFE("failed to activate connection: %w", err)
		t.removeProfile(profilePath)
		t.Notify(events.TunnelSetupFailed{Reason: err})
		return err
	}

	t.mutex.Lock()
	if t.handle != nil {
		t.handle.ActivePath = activePath
	}
	t.subbedPath = activePath
	t.mutex.Unlock()
	return nil
}

// Stop tears the connection down. When the connection is not active the
// Disconnected event is emitted immediately; an in-flight Start that has not
// created the profile yet is flagged cancelled and performs its own cleanup.
// The daemon profile is always removed, so a later DetermineInitialState
// reports Disconnected.
func (t *Tunnel) Stop(ctx context.Context) error {
	t.mutex.Lock()
	handle := t.handle
	t.mutex.Unlock()

	isActive := false
	if handle != nil {
		activePath, err := t.client.GetActiveConnection(handle.ID)
		if err != nil {
			return log.ErrorFE("failed to query active connection: %w", err)
		}
		isActive = activePath != ""
	}

	if !isActive {
		// no deactivation signal is coming, so clean up here
		t.unsubscribe()
		t.Notify(events.Disconnected{})
	}

	if handle == nil {
		// stop raced an in-flight start; flag it so the start aborts
		t.mutex.Lock()
		t.cancelled = true
		t.mutex.Unlock()
		return nil
	}

	// removal deactivates an active connection first; for that case the
	// daemon's UserDisconnected signal produces the Disconnected event
	return t.removeByID(handle.ID)
}

// RemovePersistence forgets the persisted handle and removes any daemon
// profile it still points at. Used on logout/session teardown.
func (t *Tunnel) RemovePersistence() error {
	t.mutex.Lock()
	handle := t.handle
	t.mutex.Unlock()

	id := ""
	if handle != nil {
		id = handle.ID
	} else if t.store != nil {
		if stored, found := t.store.LoadHandle(); found {
			id = stored.ID
		}
	}

	t.unsubscribe()
	if t.store != nil {
		if err := t.store.ClearHandle(); err != nil {
			log.Warning("failed to clear persisted handle: ", err)
		}
	}
	if id == "" {
		return nil
	}
	return t.removeByID(id)
}

// DetermineInitialState inspects the daemon state for the persisted handle
// and reports the result both as a return value and as an Initialized event.
func (t *Tunnel) DetermineInitialState() (events.TunnelState, error) {
	var stored ConnectionHandle
	found := false
	if t.store != nil {
		stored, found = t.store.LoadHandle()
	}
	if !found {
		t.Notify(events.Initialized{State: events.StateDisconnected})
		return events.StateDisconnected, nil
	}

	activePath, err := t.client.GetActiveConnection(stored.ID)
	if err != nil {
		return events.StateError, log.ErrorFE("failed to query active connection: %w", err)
	}
	if activePath != "" {
		t.resubscribe(stored, activePath)
		if t.agent != nil {
			go t.startAgent()
		}
		t.Notify(events.Initialized{State: events.StateConnected})
		return events.StateConnected, nil
	}

	profilePath, err := t.client.GetConnection(stored.ID)
	if err != nil {
		return events.StateError, log.ErrorFE("failed to look up connection: %w", err)
	}
	if profilePath != "" {
		// the profile survived but isn't active: the connection dropped
		// unexpectedly (a clean stop would have removed the profile)
		adopted := stored
		adopted.Path = profilePath
		t.mutex.Lock()
		t.handle = &adopted
		t.mutex.Unlock()
		t.Notify(events.Initialized{State: events.StateError})
		return events.StateError, nil
	}

	t.Notify(events.Initialized{State: events.StateDisconnected})
	return events.StateDisconnected, nil
}

// State reports the coarse connection state derived from the handle.
func (t *Tunnel) State() events.TunnelState {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	switch {
	case t.handle == nil:
		return events.StateDisconnected
	case t.handle.IsActive:
		return events.StateConnected
	default:
		return events.StateConnecting
	}
}

// Handle returns a copy of the current connection handle, if any.
func (t *Tunnel) Handle() (ConnectionHandle, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.handle == nil {
		return ConnectionHandle{}, false
	}
	return *t.handle, true
}

func (t *Tunnel) resubscribe(stored ConnectionHandle, activePath dbus.ObjectPath) {
	var future *nmclient.Future
	if stored.Kind == KindWireGuard {
		future = t.client.SubscribeActiveState(activePath, t.onActiveStateChanged)
	} else {
		future = t.client.SubscribeVpnState(activePath, t.onVpnStateChanged)
	}
	if _, err := future.Wait(); err != nil {
		log.Warning("failed to re-subscribe to connection signals: ", err)
	}

	adopted := stored
	adopted.ActivePath = activePath
	adopted.IsActive = true
	t.mutex.Lock()
	t.handle = &adopted
	t.subbedPath = activePath
	t.mutex.Unlock()
}

// onVpnStateChanged translates a VpnStateChanged signal into a connection
// event. Runs on the dispatch loop; must not block.
func (t *Tunnel) onVpnStateChanged(stateCode, reasonCode uint32) {
	state := nmclient.VpnStateFromCode(stateCode)
	reason := nmclient.VpnStateReasonFromCode(reasonCode)
	log.Debug("vpn state changed: state=", state, " reason=", reason)

	switch state {
	case nmclient.VpnStateActivated:
		t.markActive(true)
		t.Notify(events.Connected{})

	case nmclient.VpnStateFailed:
		switch reason {
		case nmclient.VpnStateReasonConnectTimeout, nmclient.VpnStateReasonServiceStartTimeout:
			t.Notify(events.Timeout{Reason: reasonError(reason)})
		case nmclient.VpnStateReasonNoSecrets, nmclient.VpnStateReasonLoginFailed:
			t.Notify(events.AuthDenied{Reason: reasonError(reason)})
		default:
			t.Notify(events.UnexpectedError{Reason: reasonError(reason)})
		}

	case nmclient.VpnStateDisconnected:
		t.markActive(false)
		t.unsubscribe()
		switch reason {
		case nmclient.VpnStateReasonUserDisconnected:
			t.Notify(events.Disconnected{Reason: reasonError(reason)})
		case nmclient.VpnStateReasonDeviceDisconnected:
			t.Notify(events.DeviceDisconnected{Reason: reasonError(reason)})
		default:
			t.Notify(events.UnexpectedError{Reason: reasonError(reason)})
		}

	default:
		log.Debug("ignoring vpn state change: ", state)
	}
}

// onActiveStateChanged handles active-connection signals for kinds that do
// not emit VpnStateChanged (native wireguard profiles). Runs on the dispatch
// loop; agent calls hop to their own goroutine because they may block.
func (t *Tunnel) onActiveStateChanged(stateCode, reasonCode uint32) {
	state := nmclient.ActiveConnectionState(stateCode)
	log.Debug("connection state changed: state=", state)

	switch state {
	case nmclient.ActiveConnectionStateActivated:
		t.markActive(true)
		if t.agent != nil {
			go t.startAgent()
		} else {
			t.Notify(events.Connected{})
		}

	case nmclient.ActiveConnectionStateDeactivated:
		t.markActive(false)
		t.unsubscribe()
		if t.agent != nil {
			go t.agent.Stop()
		}
		t.Notify(events.Disconnected{})

	default:
		log.Debug("ignoring connection state change: ", state)
	}
}

func (t *Tunnel) startAgent() {
	if err := t.agent.Start(); err != nil {
		log.Error("failed to start gateway control channel: ", err)
	}
}

func (t *Tunnel) markActive(active bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.handle != nil {
		t.handle.IsActive = active
	}
}

func (t *Tunnel) isCancelled() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.cancelled
}

// unsubscribe drops the signal subscriptions of the current active path.
// Idempotent; safe from any goroutine including the dispatch loop. The
// terminal-state signal handlers call it themselves, so a connection torn
// down by the daemon is unsubscribed even after the handle is gone.
func (t *Tunnel) unsubscribe() {
	t.mutex.Lock()
	activePath := t.subbedPath
	t.subbedPath = ""
	t.mutex.Unlock()

	if activePath == "" {
		return
	}
	t.client.UnsubscribeVpnState(activePath)
	t.client.UnsubscribeActiveState(activePath)
}

// removeProfile deletes a just-created profile during Start cleanup.
func (t *Tunnel) removeProfile(profilePath dbus.ObjectPath) {
	if _, err := t.client.RemoveConnection(profilePath).Wait(); err != nil {
		log.Error("failed to remove connection profile: ", err)
	}
	t.clearHandle()
}

// removeByID looks the profile up by UUID (paths may be stale) and deletes
// it. Missing profiles count as success.
func (t *Tunnel) removeByID(id string) error {
	profilePath, err := t.client.GetConnection(id)
	if err != nil {
		return log.ErrorFE("failed to look up connection: %w", err)
	}
	if profilePath != "" {
		if _, err := t.client.RemoveConnection(profilePath).Wait(); err != nil {
			return log.ErrorFE("failed to remove connection: %w", err)
		}
	}
	t.clearHandle()
	return nil
}

func (t *Tunnel) clearHandle() {
	t.mutex.Lock()
	t.handle = nil
	t.mutex.Unlock()

	if t.store != nil {
		if err := t.store.ClearHandle(); err != nil {
			log.Warning("failed to clear persisted handle: ", err)
		}
	}
}

func (t *Tunnel) reachabilityPorts() []int {
	if len(t.params.Server.OpenVPNPortsTCP) > 0 {
		return t.params.Server.OpenVPNPortsTCP
	}
	return t.params.Server.WireGuardPorts
}

func waitPath(f *nmclient.Future) (dbus.ObjectPath, error) {
	val, err := f.Wait()
	if err != nil {
		return "", err
	}
	path, _ := val.(dbus.ObjectPath)
	return path, nil
}

func reasonError(reason nmclient.VpnStateReason) error {
	return fmt.Errorf("daemon reported reason %s", reason)
}

func settingsKind(settings nmclient.ConnectionSettings) string {
	if conn, ok := settings["connection"]; ok {
		if kind, ok := conn["type"].(string); ok {
			return kind
		}
	}
	return KindVPN
}

func settingsInterfaceName(settings nmclient.ConnectionSettings) string {
	if conn, ok := settings["connection"]; ok {
		if iface, ok := conn["interface-name"].(string); ok {
			return iface
		}
	}
	return ""
}
