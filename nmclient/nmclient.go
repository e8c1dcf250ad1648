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

// Package nmclient gives the daemon serialized access to NetworkManager
// over the D-Bus system bus. All daemon-facing calls run on a single
// dispatch goroutine; results travel back to callers through futures.
package nmclient

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/nimbusvpn/daemon/logger"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("nmbus")
}

type dispatchOp struct {
	fn     func() (interface{}, error)
	future *Future
}

type deviceWait struct {
	iface       string
	profilePath dbus.ObjectPath
	future      *Future
	created     time.Time
}

// Client - the NetworkManager client. One instance per process.
type Client struct {
	bus busAPI

	ops      chan dispatchOp
	signals  chan *dbus.Signal
	stopChan chan struct{}
	loopDone chan struct{}
	loopGoID atomic.Uint64

	// touched only on the dispatch loop
	vpnStateSubs    map[dbus.ObjectPath]func(state uint32, reason uint32)
	activeStateSubs map[dbus.ObjectPath]func(state uint32, reason uint32)
	deviceWaits     []*deviceWait
}

var (
	clientInstance *Client
	clientMutex    sync.Mutex
)

// GetClient returns the process-wide client, connecting to the system bus
// and starting the dispatch loop on first use.
func GetClient() (*Client, error) {
	clientMutex.Lock()
	defer clientMutex.Unlock()

	if clientInstance != nil {
		return clientInstance, nil
	}

	bus, err := connectSystemBus()
	if err != nil {
		return nil, log.ErrorFE("failed to initialize NetworkManager client: %w", err)
	}

	c, err := newClient(bus)
	if err != nil {
		bus.close()
		return nil, err
	}

	clientInstance = c
	return clientInstance, nil
}

func newClient(bus busAPI) (*Client, error) {
	c := &Client{
		bus:             bus,
		ops:             make(chan dispatchOp, 64),
		signals:         make(chan *dbus.Signal, 256),
		stopChan:        make(chan struct{}),
		loopDone:        make(chan struct{}),
		vpnStateSubs:    make(map[dbus.ObjectPath]func(uint32, uint32)),
		activeStateSubs: make(map[dbus.ObjectPath]func(uint32, uint32)),
	}

	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(nmVpnIface), dbus.WithMatchMember("VpnStateChanged")},
		{dbus.WithMatchInterface(nmActiveIface), dbus.WithMatchMember("StateChanged")},
		{dbus.WithMatchInterface(nmDeviceIface), dbus.WithMatchMember("StateChanged")},
	}
	for _, m := range matches {
		if err := bus.addMatch(m...); err != nil {
			return nil, log.ErrorFE("failed to subscribe to daemon signals: %w", err)
		}
	}

	bus.signals(c.signals)
	go c.dispatchLoop()

	return c, nil
}

// Close stops the dispatch loop and releases the bus connection.
func (c *Client) Close() {
	clientMutex.Lock()
	defer clientMutex.Unlock()

	select {
	case <-c.stopChan:
		return
	default:
	}
	close(c.stopChan)
	<-c.loopDone

	c.bus.removeSignals(c.signals)
	c.bus.close()
	if clientInstance == c {
		clientInstance = nil
	}
}

// RunOnDispatchLoop schedules fn onto the dispatch goroutine and returns a
// future fulfilled with fn's result. When called from the dispatch goroutine
// itself, fn runs inline (scheduling would deadlock).
func (c *Client) RunOnDispatchLoop(fn func() (interface{}, error)) *Future {
	future := newFuture(c)

	if c.isOnDispatchLoop() {
		c.runOp(dispatchOp{fn: fn, future: future})
		return future
	}

	select {
	case c.ops <- dispatchOp{fn: fn, future: future}:
	case <-c.stopChan:
		future.fulfill(nil, fmt.Errorf("daemon client is stopped"))
	}
	return future
}

func (c *Client) dispatchLoop() {
	c.loopGoID.Store(curGoroutineID())
	defer close(c.loopDone)

	for {
		select {
		case <-c.stopChan:
			return
		case op := <-c.ops:
			c.runOp(op)
		case sig, ok := <-c.signals:
			if !ok || sig == nil {
				continue
			}
			c.handleSignal(sig)
		}
	}
}

func (c *Client) runOp(op dispatchOp) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("PANIC on dispatch loop: %v", r))
			logger.PrintStackToStderr()
			op.future.fulfill(nil, fmt.Errorf("panic on dispatch loop: %v", r))
		}
	}()

	val, err := op.fn()
	op.future.fulfill(val, err)
}

func (c *Client) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case nmVpnIface + ".VpnStateChanged":
		state, reason, ok := signalStatePair(sig)
		if !ok {
			return
		}
		if cb, found := c.vpnStateSubs[sig.Path]; found {
			cb(state, reason)
		}

	case nmActiveIface + ".StateChanged":
		state, reason, ok := signalStatePair(sig)
		if !ok {
			return
		}
		if cb, found := c.activeStateSubs[sig.Path]; found {
			cb(state, reason)
		}

	case nmDeviceIface + ".StateChanged":
		if len(sig.Body) < 1 {
			return
		}
		newState, ok := sig.Body[0].(uint32)
		if !ok || DeviceState(newState) != DeviceStateActivated {
			return
		}
		c.resolveDeviceWaits(sig.Path)
	}
}

func signalStatePair(sig *dbus.Signal) (state uint32, reason uint32, ok bool) {
	if len(sig.Body) < 2 {
		return 0, 0, false
	}
	state, okState := sig.Body[0].(uint32)
	reason, okReason := sig.Body[1].(uint32)
	return state, reason, okState && okReason
}

// resolveDeviceWaits fulfills pending profile-activation waits once the
// device behind the given path reports the activated state.
func (c *Client) resolveDeviceWaits(devPath dbus.ObjectPath) {
	if len(c.deviceWaits) == 0 {
		return
	}

	ifaceProp, err := c.bus.getProperty(devPath, nmDeviceIface+".Interface")
	if err != nil {
		return
	}
	iface, _ := ifaceProp.(string)

	remaining := c.deviceWaits[:0]
	for _, w := range c.deviceWaits {
		if w.iface == iface {
			w.future.fulfill(w.profilePath, nil)
			continue
		}
		// drop stale entries whose callers gave up long ago
		if time.Since(w.created) > time.Minute {
			continue
		}
		remaining = append(remaining, w)
	}
	c.deviceWaits = remaining
}

func (c *Client) isOnDispatchLoop() bool {
	id := c.loopGoID.Load()
	return id != 0 && id == curGoroutineID()
}

// assertDispatchLoop guards the daemon-facing internals: they must only
// ever run on the dispatch goroutine.
func (c *Client) assertDispatchLoop() {
	if !c.isOnDispatchLoop() {
		log.Panic("daemon operation attempted off the dispatch loop")
	}
}

// curGoroutineID parses the goroutine id from the stack header
// ("goroutine NNN [running]:"). Used only for loop-affinity checks.
func curGoroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		if id, err := strconv.ParseUint(string(buf[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}
