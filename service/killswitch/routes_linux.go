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
	"time"

	"github.com/vishvananda/netlink"

	"github.com/nimbusvpn/daemon/nmclient"
)

// ErrRouteVerifyTimeout - the kernel routing table never showed the
// expected change after a route update was applied.
var ErrRouteVerifyTimeout = errors.New("timed out verifying the VPN server route")

// The daemon applies route updates asynchronously; the kernel table is
// polled on this schedule before giving up.
var routePollDelays = []time.Duration{
	time.Millisecond * 500,
	time.Millisecond * 500,
	time.Second,
	time.Second,
	time.Second * 2,
}

// replaced in tests
var (
	defaultGateway = kernelDefaultGateway
	hasHostRoute   = kernelHasHostRoute
	sleepFor       = time.Sleep
)

// implAddVpnServerRoute updates the applied connection of every active
// physical device: stale host routes to the previous server go away and a
// fresh one to serverIP is appended.
func implAddVpnServerRoute(serverIP net.IP) error {
	if err := ensureConnectivityCheckDisabled(); err != nil {
		return err
	}

	devices, err := client.PhysicalDevices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	for _, dev := range devices {
		if !dev.IsActivePhysical() {
			continue
		}
		if err := updateDeviceRoutes(dev, serverIP, serverRouteIP); err != nil {
			return err
		}
		if err := waitServerRoute(serverIP, dev.Interface, true); err != nil {
			return err
		}
		log.Info(fmt.Sprintf("server route %s/32 placed on %s", serverIP, dev.Interface))
	}

	serverRouteIP = serverIP
	return nil
}

func implRemoveVpnServerRoute() error {
	devices, err := client.PhysicalDevices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	for _, dev := range devices {
		if !dev.IsActivePhysical() {
			continue
		}
		if err := updateDeviceRoutes(dev, nil, serverRouteIP); err != nil {
			return err
		}
		if err := waitServerRoute(serverRouteIP, dev.Interface, false); err != nil {
			return err
		}
		log.Info(fmt.Sprintf("server route %s/32 removed from %s", serverRouteIP, dev.Interface))
	}

	serverRouteIP = nil
	return nil
}

// updateDeviceRoutes rewrites the route-data of the device's applied
// connection: host routes to previous and serverIP are dropped (leftovers
// from an earlier run included) and, when serverIP is not nil, a new host
// route through the device's default gateway is appended. The change is
// reapplied in place and not saved to disk.
func updateDeviceRoutes(dev nmclient.Device, serverIP, previous net.IP) error {
	res, err := client.GetAppliedConnection(dev.Path).WaitTimeout(opTimeout)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev.Interface, err)
	}
	applied, ok := res.(nmclient.AppliedConnection)
	if !ok {
		return fmt.Errorf("unexpected applied connection type %T", res)
	}

	routes := routeData(applied.Settings)
	routes = dropHostRoutes(routes, previous)
	routes = dropHostRoutes(routes, serverIP)

	if serverIP != nil {
		entry := map[string]interface{}{
			"dest":   serverIP.String(),
			"prefix": uint32(32),
		}
		// without a gateway the kernel treats it as a direct link route
		if gw, err := defaultGateway(dev.Interface); err != nil {
			return err
		} else if gw != nil {
			entry["next-hop"] = gw.String()
		}
		routes = append(routes, entry)
	}

	setRouteData(applied.Settings, routes)

	if _, err := client.Reapply(dev.Path, applied.Settings, applied.VersionID).WaitTimeout(opTimeout); err != nil {
		return fmt.Errorf("device %s: %w", dev.Interface, err)
	}
	return nil
}

func routeData(settings nmclient.ConnectionSettings) []map[string]interface{} {
	ipv4, ok := settings["ipv4"]
	if !ok {
		return nil
	}
	routes, _ := ipv4["route-data"].([]map[string]interface{})
	return routes
}

func setRouteData(settings nmclient.ConnectionSettings, routes []map[string]interface{}) {
	if settings["ipv4"] == nil {
		settings["ipv4"] = map[string]interface{}{}
	}
	settings["ipv4"]["route-data"] = routes
}

func dropHostRoutes(routes []map[string]interface{}, ip net.IP) []map[string]interface{} {
	if ip == nil {
		return routes
	}

	kept := make([]map[string]interface{}, 0, len(routes))
	for _, route := range routes {
		dest, _ := route["dest"].(string)
		prefix, _ := route["prefix"].(uint32)
		if prefix == 32 && dest == ip.String() {
			continue
		}
		kept = append(kept, route)
	}
	return kept
}

// waitServerRoute polls the kernel routing table until the host route to
// serverIP appears (or disappears) on the given interface.
func waitServerRoute(serverIP net.IP, iface string, expectPresent bool) error {
	for _, delay := range routePollDelays {
		present, err := hasHostRoute(iface, serverIP)
		if err != nil {
			return fmt.Errorf("failed to read routes of %s: %w", iface, err)
		}
		if present == expectPresent {
			return nil
		}
		sleepFor(delay)
	}

	change := "added"
	if !expectPresent {
		change = "removed"
	}
	return fmt.Errorf("%w: %s/32 dev %s not %s", ErrRouteVerifyTimeout, serverIP, iface, change)
}

func kernelDefaultGateway(iface string) (net.IP, error) {
	routes, err := interfaceRoutes(iface)
	if err != nil {
		return nil, err
	}
	for _, route := range routes {
		if route.Dst == nil && route.Gw != nil {
			return route.Gw, nil
		}
	}
	return nil, nil
}

func kernelHasHostRoute(iface string, serverIP net.IP) (bool, error) {
	routes, err := interfaceRoutes(iface)
	if err != nil {
		return false, err
	}
	for _, route := range routes {
		if route.Dst == nil {
			continue
		}
		if ones, bits := route.Dst.Mask.Size(); ones == bits && route.Dst.IP.Equal(serverIP) {
			return true, nil
		}
	}
	return false, nil
}

func interfaceRoutes(iface string) ([]netlink.Route, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to find link '%s': %w", iface, err)
	}
	return netlink.RouteList(link, netlink.FAMILY_V4)
}
