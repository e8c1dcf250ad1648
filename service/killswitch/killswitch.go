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

// Package killswitch blocks non-VPN traffic through dummy connection
// profiles of the network daemon. A blocking profile carries addresses and
// routes with a metric below every ordinary connection but above the VPN
// tunnel, so while the tunnel is down the routing table swallows all
// outgoing packets.
//
// Profiles are addressed by fixed connection ids (the daemon regenerates
// UUIDs on every add), which also lets a fresh daemon instance adopt
// permanent profiles left over from the previous run.
package killswitch

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/nimbusvpn/daemon/logger"
	"github.com/nimbusvpn/daemon/nmclient"
	"github.com/nimbusvpn/daemon/service/types"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("kswch")
}

// daemonClient is the slice of the network daemon client the kill switch
// drives. *nmclient.Client satisfies it.
type daemonClient interface {
	AddConnectionWaitDevice(settings nmclient.ConnectionSettings, ifaceName string, persist bool) *nmclient.Future
	RemoveConnection(profilePath dbus.ObjectPath) *nmclient.Future
	FindConnectionByID(id string) (dbus.ObjectPath, error)
	FindActiveConnectionByID(id string) (dbus.ObjectPath, error)
	ConnectivityCheckEnabled() (bool, error)
	SetConnectivityCheckEnabled(enabled bool) *nmclient.Future
	PhysicalDevices() ([]nmclient.Device, error)
	GetAppliedConnection(devPath dbus.ObjectPath) *nmclient.Future
	Reapply(devPath dbus.ObjectPath, settings nmclient.ConnectionSettings, versionID uint64) *nmclient.Future
}

var (
	mutex          sync.Mutex
	client         daemonClient
	isPersistent   bool
	blockServerIP  net.IP // exclusion of the routed block, kept for persistence toggles
	serverRouteIP  net.IP // host route currently placed on the physical devices
	activeProfiles = mapset.NewSet[string]()
)

// Initialize records the daemon client and adopts blocking profiles that
// survived the previous daemon run.
func Initialize(c daemonClient) error {
	mutex.Lock()
	defer mutex.Unlock()

	client = c
	return implInitialize()
}

// EnableFullBlock applies the blocking profiles. When serverIP is not nil
// the block keeps a hole for that one host, so the VPN handshake can pass.
// Calling it again with a different serverIP moves the hole; the old and
// the new profile overlap during the swap, traffic stays blocked throughout.
func EnableFullBlock(serverIP net.IP) error {
	mutex.Lock()
	defer mutex.Unlock()

	if client == nil {
		return fmt.Errorf("kill switch is not initialized")
	}

	log.Info(fmt.Sprintf("Enabling (server=%v persistent=%t)...", serverIP, isPersistent))
	if err := implEnableFullBlock(serverIP, isPersistent); err != nil {
		return log.ErrorFE("failed to enable kill switch: %w", err)
	}
	blockServerIP = serverIP
	return nil
}

// Disable removes the blocking profiles, permanent variants included.
func Disable() error {
	mutex.Lock()
	defer mutex.Unlock()

	if client == nil {
		return fmt.Errorf("kill switch is not initialized")
	}

	log.Info("Disabling...")
	if err := implDisable(); err != nil {
		return log.ErrorFE("failed to disable kill switch: %w", err)
	}
	blockServerIP = nil
	return nil
}

// EnableIPv6Leak blocks IPv6 traffic while the tunnel carries IPv4 only.
func EnableIPv6Leak() error {
	mutex.Lock()
	defer mutex.Unlock()

	if client == nil {
		return fmt.Errorf("kill switch is not initialized")
	}
	return implEnableIPv6Leak(isPersistent)
}

func DisableIPv6Leak() error {
	mutex.Lock()
	defer mutex.Unlock()

	if client == nil {
		return fmt.Errorf("kill switch is not initialized")
	}
	return implDisableIPv6Leak()
}

// AddVpnServerRoute places a host route to the VPN server on every active
// physical device, so the handshake bypasses both the blocking profiles
// and the tunnel's own default route.
func AddVpnServerRoute(serverIP net.IP) error {
	mutex.Lock()
	defer mutex.Unlock()

	if client == nil {
		return fmt.Errorf("kill switch is not initialized")
	}
	if serverIP == nil {
		return fmt.Errorf("no server IP")
	}
	return implAddVpnServerRoute(serverIP)
}

// RemoveVpnServerRoute undoes AddVpnServerRoute. No-op when no route
// was placed.
func RemoveVpnServerRoute() error {
	mutex.Lock()
	defer mutex.Unlock()

	if client == nil || serverRouteIP == nil {
		return nil
	}
	return implRemoveVpnServerRoute()
}

// ReapplyVpnServerRoute re-places the current server route after a network
// topology change (the default gateway may have moved to another device).
func ReapplyVpnServerRoute() error {
	mutex.Lock()
	defer mutex.Unlock()

	if client == nil || serverRouteIP == nil {
		return nil
	}
	return implAddVpnServerRoute(serverRouteIP)
}

// SetPersistent switches between profiles that vanish with the daemon and
// profiles saved to disk. When the block is already up it is re-applied in
// the requested variant; enabling persistence with the block down brings
// the block up.
func SetPersistent(persistent bool) error {
	mutex.Lock()
	defer mutex.Unlock()

	log.Info(fmt.Sprintf("Persistent: %t", persistent))
	isPersistent = persistent

	if client == nil {
		return nil // applied on Initialize + Enable
	}

	if !blockActiveLocked() {
		if !persistent {
			return nil
		}
		if err := implEnableFullBlock(nil, true); err != nil {
			return log.ErrorFE("failed to apply persistent kill switch: %w", err)
		}
		blockServerIP = nil
		return nil
	}

	if err := implEnableFullBlock(blockServerIP, persistent); err != nil {
		return log.ErrorFE("failed to switch kill switch persistence: %w", err)
	}
	return nil
}

// GetEnabled reports whether a blocking profile (full or routed) is up.
// The IPv6 leak profile alone does not count as enabled.
func GetEnabled() bool {
	mutex.Lock()
	defer mutex.Unlock()
	return blockActiveLocked()
}

func GetStatus() types.KillSwitchStatus {
	mutex.Lock()
	defer mutex.Unlock()

	profiles := activeProfiles.ToSlice()
	sort.Strings(profiles)

	enabled := blockActiveLocked()
	mode := types.KillSwitchModeOff
	if enabled {
		mode = types.KillSwitchModeOn
		if isPersistent {
			mode = types.KillSwitchModePermanent
		}
	}

	return types.KillSwitchStatus{
		IsEnabled:      enabled,
		IsPersistent:   isPersistent,
		Mode:           mode,
		ActiveProfiles: profiles,
	}
}

func blockActiveLocked() bool {
	for _, permanent := range []bool{false, true} {
		if activeProfiles.Contains(connectionID(false, false, permanent)) ||
			activeProfiles.Contains(connectionID(true, false, permanent)) {
			return true
		}
	}
	return false
}
