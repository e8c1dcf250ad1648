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

// Package netinfo resolves local network facts the daemon needs:
// default gateways, the interface owning an address, outbound IPs,
// free local ports.
package netinfo

import (
	"fmt"
	"net"

	"github.com/nimbusvpn/daemon/logger"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("netinf")
}

// DefaultGateway - returns the preferred IPv4 default gateway (lowest metric)
func DefaultGateway() (defGatewayIP net.IP, err error) {
	gateways, err := doDefaultGatewayIPs()
	if err != nil {
		return nil, err
	}
	return gateways[0], nil
}

// DefaultGatewayIPs - returns all IPv4 default gateways present in the routing
// table, preferred (lowest metric) first
func DefaultGatewayIPs() ([]net.IP, error) {
	return doDefaultGatewayIPs()
}

// DefaultRoutingInterface - returns the interface that carries the preferred
// IPv4 default route
func DefaultRoutingInterface() (*net.Interface, error) {
	return doDefaultRoutingInterface()
}

// InterfaceByIPAddr - returns the local network interface that has the given
// IP address assigned
func InterfaceByIPAddr(localAddr net.IP) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}
	for _, ifs := range ifaces {
		addrs, _ := ifs.Addrs()
		if addrs == nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch a := addr.(type) {
			case *net.IPNet:
				ip = a.IP
			case *net.IPAddr:
				ip = a.IP
			}
			if ip != nil && ip.Equal(localAddr) {
				retIf := ifs
				return &retIf, nil
			}
		}
	}
	return nil, fmt.Errorf("unable to find network interface with address %s", localAddr)
}

// GetOutboundIP - returns the source address the OS picks for outbound
// traffic. The UDP dial never sends a packet; it only resolves routing.
func GetOutboundIP(isIPv6 bool) (net.IP, error) {
	dialAddr := "8.8.8.8:80"
	if isIPv6 {
		dialAddr = "[2001:4860:4860::8888]:80"
	}
	conn, err := net.Dial("udp", dialAddr)
	if err != nil {
		return net.IP{}, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// GetFreeUDPPort - returns a local UDP port that is currently unused
func GetFreeUDPPort() (int, error) {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenUDP("udp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.LocalAddr().(*net.UDPAddr).Port, nil
}

// GetFreeTCPPort - returns a local TCP port that is currently unused
func GetFreeTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
