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

package types

import (
	"fmt"
	"net"
)

// ConnectionParams - the connection request as received from a client.
// Credentials are never part of it: the daemon merges those in from the
// stored session before connecting.
type ConnectionParams struct {
	Protocol string `json:"protocol"` // "wireguard" or "openvpn"

	ServerName      string `json:"server_name"`
	ServerDomain    string `json:"server_domain"`
	ServerIP        string `json:"server_ip"`
	ServerPublicKey string `json:"server_public_key,omitempty"` // base64 X25519 key (wireguard only)
	ServerLabel     string `json:"server_label,omitempty"`
	HasIPv6         bool   `json:"has_ipv6,omitempty"`

	WireGuardPorts  []int `json:"wireguard_ports,omitempty"`
	OpenVPNPortsUDP []int `json:"openvpn_ports_udp,omitempty"`
	OpenVPNPortsTCP []int `json:"openvpn_ports_tcp,omitempty"`

	EnableIPv6 bool     `json:"enable_ipv6,omitempty"`
	CustomDNS  []string `json:"custom_dns,omitempty"`
}

// CheckIsDefined returns nil when the parameters describe a connectable
// server.
func (p ConnectionParams) CheckIsDefined() error {
	if len(p.Protocol) == 0 {
		return fmt.Errorf("VPN protocol is not defined")
	}
	if len(p.ServerName) == 0 {
		return fmt.Errorf("server name is not defined")
	}
	if net.ParseIP(p.ServerIP) == nil {
		return fmt.Errorf("bad or missing server IP address '%s'", p.ServerIP)
	}
	if len(p.WireGuardPorts) == 0 && len(p.OpenVPNPortsUDP) == 0 && len(p.OpenVPNPortsTCP) == 0 {
		return fmt.Errorf("no ports defined for server '%s'", p.ServerName)
	}
	for _, dnsSrv := range p.CustomDNS {
		if net.ParseIP(dnsSrv) == nil {
			return fmt.Errorf("bad custom DNS address '%s'", dnsSrv)
		}
	}
	return nil
}

// ConnectionStatus - the connection state snapshot reported to clients.
// Counter fields are populated for active wireguard connections only.
type ConnectionStatus struct {
	State string `json:"state"`

	Protocol   string `json:"protocol,omitempty"`
	ServerName string `json:"server_name,omitempty"`
	ServerIP   string `json:"server_ip,omitempty"`

	InterfaceName  string `json:"interface_name,omitempty"`
	ConnectedSince int64  `json:"connected_since,omitempty"` // unix seconds

	LastHandshake int64  `json:"last_handshake,omitempty"` // unix seconds
	ReceivedBytes int64  `json:"received_bytes,omitempty"`
	SentBytes     int64  `json:"sent_bytes,omitempty"`
	Received      string `json:"received,omitempty"` // human-readable
	Sent          string `json:"sent,omitempty"`
}
