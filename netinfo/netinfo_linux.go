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

package netinfo

import (
	"fmt"
	"net"
	"sort"

	"github.com/vishvananda/netlink"
)

var routeList = netlink.RouteList

// doDefaultGatewayIPs - returns all default gateways, lowest metric first
func doDefaultGatewayIPs() (defGatewayIPs []net.IP, err error) {
	routes, err := defaultRoutes()
	if err != nil {
		return nil, err
	}
	for _, route := range routes {
		defGatewayIPs = append(defGatewayIPs, route.Gw)
	}
	return defGatewayIPs, nil
}

// doDefaultRoutingInterface - returns the interface of the best default route
func doDefaultRoutingInterface() (*net.Interface, error) {
	routes, err := defaultRoutes()
	if err != nil {
		return nil, err
	}
	inf, err := net.InterfaceByIndex(routes[0].LinkIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve the interface of the default route: %w", err)
	}
	return inf, nil
}

// defaultRoutes reads the kernel IPv4 routing table and returns the default
// routes sorted by metric, best first.
func defaultRoutes() ([]netlink.Route, error) {
	routes, err := routeList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("failed to read the routing table: %w", err)
	}

	var defaults []netlink.Route
	for _, route := range routes {
		if route.Dst == nil && route.Gw != nil {
			defaults = append(defaults, route)
		}
	}
	if len(defaults) == 0 {
		return nil, fmt.Errorf("no default gateways found")
	}

	sort.SliceStable(defaults, func(i, j int) bool {
		return defaults[i].Priority < defaults[j].Priority
	})
	return defaults, nil
}
