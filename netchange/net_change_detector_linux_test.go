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

package netchange

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type gatewayStub struct {
	mu  sync.Mutex
	ip  net.IP
	err error
}

func (s *gatewayStub) set(ip net.IP, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ip, s.err = ip, err
}

func (s *gatewayStub) get() (net.IP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ip, s.err
}

func newTestDetector(t *testing.T, gw net.IP) (*Detector, *gatewayStub, chan struct{}, chan struct{}) {
	t.Helper()
	stub := &gatewayStub{ip: gw}
	orig := defaultGateway
	defaultGateway = stub.get
	t.Cleanup(func() { defaultGateway = orig })

	d := Create()
	d.delayBeforeNotify = 20 * time.Millisecond
	changeChan := make(chan struct{}, 2)
	updateChan := make(chan struct{}, 2)
	d.Init(changeChan, updateChan)
	t.Cleanup(d.UnInit)
	return d, stub, changeChan, updateChan
}

func expectNotify(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s notification", what)
	}
}

func expectQuiet(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s notification", what)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestGatewayMoveNotifiesChangeChannel(t *testing.T) {
	d, stub, changeChan, updateChan := newTestDetector(t, net.IPv4(192, 168, 1, 1))

	stub.set(net.IPv4(10, 0, 0, 1), nil)
	d.routingChangeDetected()

	expectNotify(t, updateChan, "routing update")
	expectNotify(t, changeChan, "routing change")
}

func TestUnchangedGatewayOnlyNotifiesUpdateChannel(t *testing.T) {
	d, _, changeChan, updateChan := newTestDetector(t, net.IPv4(192, 168, 1, 1))

	d.routingChangeDetected()

	expectNotify(t, updateChan, "routing update")
	expectQuiet(t, changeChan, "routing change")
}

func TestUpdateBurstCoalescesIntoOneNotification(t *testing.T) {
	d, _, _, updateChan := newTestDetector(t, net.IPv4(192, 168, 1, 1))

	for i := 0; i < 5; i++ {
		d.routingChangeDetected()
	}

	expectNotify(t, updateChan, "routing update")
	expectQuiet(t, updateChan, "second routing update")
}

func TestTransientGatewayLossIsNotAMove(t *testing.T) {
	d, stub, changeChan, updateChan := newTestDetector(t, net.IPv4(192, 168, 1, 1))

	// default route disappears for a moment
	stub.set(nil, fmt.Errorf("no default gateways found"))
	d.routingChangeDetected()
	expectNotify(t, updateChan, "routing update")
	expectQuiet(t, changeChan, "routing change")

	// and comes back unchanged
	stub.set(net.IPv4(192, 168, 1, 1), nil)
	d.routingChangeDetected()
	expectNotify(t, updateChan, "routing update")
	expectQuiet(t, changeChan, "routing change")

	// a real move is still detected afterwards
	stub.set(net.IPv4(172, 16, 0, 1), nil)
	d.routingChangeDetected()
	expectNotify(t, changeChan, "routing change")
}

func TestStopDropsPendingNotification(t *testing.T) {
	d, _, changeChan, updateChan := newTestDetector(t, net.IPv4(192, 168, 1, 1))
	d.delayBeforeNotify = 500 * time.Millisecond // keep the timer pending until Stop runs

	d.routingChangeDetected()
	d.Stop()

	expectQuiet(t, updateChan, "routing update")
	expectQuiet(t, changeChan, "routing change")
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	d := Create()
	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked without a running monitor")
	}
	require.Nil(t, d.props.routeUpdateChan)
}
