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

package killswitch

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvpn/daemon/nmclient"
	"github.com/nimbusvpn/daemon/service/types"
)

// fakeDaemon records profile operations in call order and keeps an
// in-memory profile table, so idempotence and add-before-remove ordering
// can be asserted.
type fakeDaemon struct {
	mu       sync.Mutex
	calls    []string
	profiles map[string]dbus.ObjectPath
	active   map[string]bool

	connectivity bool
	addErr       error
	nextPath     int

	devices   []nmclient.Device
	applied   map[dbus.ObjectPath]nmclient.AppliedConnection
	reapplied map[dbus.ObjectPath]nmclient.ConnectionSettings
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		profiles:  map[string]dbus.ObjectPath{},
		active:    map[string]bool{},
		applied:   map[dbus.ObjectPath]nmclient.AppliedConnection{},
		reapplied: map[dbus.ObjectPath]nmclient.ConnectionSettings{},
	}
}

func (d *fakeDaemon) record(call string) {
	d.calls = append(d.calls, call)
}

func (d *fakeDaemon) AddConnectionWaitDevice(settings nmclient.ConnectionSettings, ifaceName string, persist bool) *nmclient.Future {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := settings.ID()
	d.record("add:" + id)
	if d.addErr != nil {
		return nmclient.ResolvedFuture(nil, d.addErr)
	}

	d.nextPath++
	path := dbus.ObjectPath(fmt.Sprintf("/profile/%d", d.nextPath))
	d.profiles[id] = path
	d.active[id] = true
	return nmclient.ResolvedFuture(path, nil)
}

func (d *fakeDaemon) RemoveConnection(profilePath dbus.ObjectPath) *nmclient.Future {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, path := range d.profiles {
		if path == profilePath {
			d.record("remove:" + id)
			delete(d.profiles, id)
			delete(d.active, id)
			return nmclient.ResolvedFuture(nil, nil)
		}
	}
	return nmclient.ResolvedFuture(nil, errors.New("no such profile"))
}

func (d *fakeDaemon) FindConnectionByID(id string) (dbus.ObjectPath, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profiles[id], nil
}

func (d *fakeDaemon) FindActiveConnectionByID(id string) (dbus.ObjectPath, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active[id] {
		return "", nil
	}
	return d.profiles[id], nil
}

func (d *fakeDaemon) ConnectivityCheckEnabled() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectivity, nil
}

func (d *fakeDaemon) SetConnectivityCheckEnabled(enabled bool) *nmclient.Future {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("connectivity-check-off")
	d.connectivity = enabled
	return nmclient.ResolvedFuture(nil, nil)
}

func (d *fakeDaemon) PhysicalDevices() ([]nmclient.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices, nil
}

func (d *fakeDaemon) GetAppliedConnection(devPath dbus.ObjectPath) *nmclient.Future {
	d.mu.Lock()
	defer d.mu.Unlock()
	applied, ok := d.applied[devPath]
	if !ok {
		return nmclient.ResolvedFuture(nil, errors.New("no applied connection"))
	}
	return nmclient.ResolvedFuture(applied, nil)
}

func (d *fakeDaemon) Reapply(devPath dbus.ObjectPath, settings nmclient.ConnectionSettings, versionID uint64) *nmclient.Future {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("reapply:" + string(devPath))
	d.reapplied[devPath] = settings
	return nmclient.ResolvedFuture(nil, nil)
}

func (d *fakeDaemon) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDaemon) clearCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// resetKillSwitch wires the package state to a fresh fake.
func resetKillSwitch(t *testing.T, daemon *fakeDaemon) {
	t.Helper()
	mutex.Lock()
	defer mutex.Unlock()
	client = daemon
	isPersistent = false
	blockServerIP = nil
	serverRouteIP = nil
	activeProfiles.Clear()
}

func TestEnableWithServerEndsOnRoutedBlock(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.connectivity = true
	resetKillSwitch(t, daemon)

	require.NoError(t, EnableFullBlock(net.ParseIP("1.2.3.4")))

	assert.Equal(t, []string{
		"connectivity-check-off",
		"add:nvpn-killswitch",
		"add:nvpn-routed-killswitch",
		"remove:nvpn-killswitch",
	}, daemon.callLog(), "traffic must stay blocked throughout: new profile up before the old one goes away")

	status := GetStatus()
	assert.True(t, status.IsEnabled)
	assert.Equal(t, []string{"nvpn-routed-killswitch"}, status.ActiveProfiles)
}

func TestEnableWithoutServerKeepsFullBlock(t *testing.T) {
	daemon := newFakeDaemon()
	resetKillSwitch(t, daemon)

	require.NoError(t, EnableFullBlock(nil))

	assert.Equal(t, []string{"add:nvpn-killswitch"}, daemon.callLog())
	assert.True(t, GetEnabled())
}

func TestConnectedSwapAddsFullBeforeRemovingRouted(t *testing.T) {
	daemon := newFakeDaemon()
	resetKillSwitch(t, daemon)
	require.NoError(t, EnableFullBlock(net.ParseIP("1.2.3.4")))
	daemon.clearCalls()

	// once the tunnel is up the handshake hole is no longer needed
	require.NoError(t, EnableFullBlock(nil))

	assert.Equal(t, []string{
		"add:nvpn-killswitch",
		"remove:nvpn-routed-killswitch",
	}, daemon.callLog())
	assert.Equal(t, []string{"nvpn-killswitch"}, GetStatus().ActiveProfiles)
}

func TestEnableIsIdempotent(t *testing.T) {
	daemon := newFakeDaemon()
	resetKillSwitch(t, daemon)
	require.NoError(t, EnableFullBlock(nil))
	daemon.clearCalls()

	require.NoError(t, EnableFullBlock(nil))

	assert.Empty(t, daemon.callLog(), "an active profile must not be re-added")
}

func TestDisableRemovesAllBlockingProfiles(t *testing.T) {
	daemon := newFakeDaemon()
	resetKillSwitch(t, daemon)
	require.NoError(t, EnableFullBlock(net.ParseIP("1.2.3.4")))

	require.NoError(t, Disable())

	assert.False(t, GetEnabled())
	assert.Empty(t, daemon.profiles)
	assert.Empty(t, GetStatus().ActiveProfiles)
	assert.Equal(t, types.KillSwitchModeOff, GetStatus().Mode)
}

func TestDisableWithNothingActiveIsSuccess(t *testing.T) {
	daemon := newFakeDaemon()
	resetKillSwitch(t, daemon)

	require.NoError(t, Disable())
	assert.Empty(t, daemon.callLog())
}

func TestAddFailureSurfacesProfileID(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.addErr = errors.New("device did not activate")
	resetKillSwitch(t, daemon)

	err := EnableFullBlock(nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "nvpn-killswitch")
	assert.False(t, GetEnabled())
}

func TestSetPersistentBringsUpPermanentBlock(t *testing.T) {
	daemon := newFakeDaemon()
	resetKillSwitch(t, daemon)

	require.NoError(t, SetPersistent(true))

	assert.Equal(t, []string{"add:nvpn-killswitch-perm"}, daemon.callLog())
	status := GetStatus()
	assert.True(t, status.IsEnabled)
	assert.True(t, status.IsPersistent)
	assert.Equal(t, types.KillSwitchModePermanent, status.Mode)
}

func TestSetPersistentMigratesActiveBlock(t *testing.T) {
	daemon := newFakeDaemon()
	resetKillSwitch(t, daemon)
	require.NoError(t, SetPersistent(true))
	daemon.clearCalls()

	require.NoError(t, SetPersistent(false))

	assert.Equal(t, []string{
		"add:nvpn-killswitch",
		"remove:nvpn-killswitch-perm",
	}, daemon.callLog(), "the permanent profile must stay up until its replacement is active")
	assert.Equal(t, types.KillSwitchModeOn, GetStatus().Mode)
}

func TestSetPersistentOffWithBlockDownDoesNothing(t *testing.T) {
	daemon := newFakeDaemon()
	resetKillSwitch(t, daemon)

	require.NoError(t, SetPersistent(false))
	assert.Empty(t, daemon.callLog())
	assert.False(t, GetEnabled())
}

func TestInitializeAdoptsLeftoverProfiles(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.profiles["nvpn-killswitch-perm"] = "/profile/77"
	daemon.active["nvpn-killswitch-perm"] = true
	resetKillSwitch(t, daemon)

	require.NoError(t, Initialize(daemon))

	status := GetStatus()
	assert.True(t, status.IsEnabled)
	assert.Equal(t, []string{"nvpn-killswitch-perm"}, status.ActiveProfiles)
}

func TestConnectivityCheckDisabledOnlyWhenEnabled(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.connectivity = true
	resetKillSwitch(t, daemon)

	require.NoError(t, EnableFullBlock(nil))
	require.NoError(t, Disable())
	require.NoError(t, EnableFullBlock(nil))

	count := 0
	for _, call := range daemon.callLog() {
		if call == "connectivity-check-off" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestIPv6LeakBlockIsIndependent(t *testing.T) {
	daemon := newFakeDaemon()
	resetKillSwitch(t, daemon)

	require.NoError(t, EnableIPv6Leak())
	assert.Equal(t, []string{"add:nvpn-killswitch-ipv6"}, daemon.callLog())
	assert.False(t, GetEnabled(), "the IPv6 leak block alone is not a kill switch")
	assert.Equal(t, []string{"nvpn-killswitch-ipv6"}, GetStatus().ActiveProfiles)

	require.NoError(t, DisableIPv6Leak())
	assert.Empty(t, GetStatus().ActiveProfiles)
}

func TestOperationsRequireInitialization(t *testing.T) {
	mutex.Lock()
	client = nil
	mutex.Unlock()

	assert.Error(t, EnableFullBlock(nil))
	assert.Error(t, Disable())
	assert.Error(t, EnableIPv6Leak())
	assert.Error(t, AddVpnServerRoute(net.ParseIP("1.2.3.4")))
}
