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

package tunnel

import (
	"net"

	"github.com/godbus/dbus/v5"
)

// Protocol names accepted by the builder registry.
const (
	ProtocolWireGuard = "wireguard"
	ProtocolOpenVPN   = "openvpn"
)

// Connection kinds as reported in the daemon profile ("connection"/"type").
const (
	KindVPN       = "vpn"
	KindWireGuard = "wireguard"
	KindDummy     = "dummy"
)

// ServerInfo describes the VPN server to connect to.
type ServerInfo struct {
	Name            string // human-readable server name, used in the profile id
	Domain          string // server domain, pinned by certificate checks
	IP              net.IP
	WireGuardPorts  []int // UDP
	OpenVPNPortsUDP []int
	OpenVPNPortsTCP []int
	X25519PublicKey string // server-side wireguard public key
	Label           string // server load-balancing label, forwarded to the gateway agent
	HasIPv6         bool
}

// Credentials carries the secrets the protocol builders and the gateway
// control channel need.
type Credentials struct {
	OpenVPNUsername string
	OpenVPNPassword string
	WGPrivateKey    string
	ClientCertPEM   []byte // client certificate for the gateway control channel
	ClientKeyPEM    []byte
}

// Settings - per-connection options chosen by the user.
type Settings struct {
	Protocol   string
	EnableIPv6 bool
	CustomDNS  []net.IP
	Owner      string // session user the profile is restricted to; empty = any
}

// ConnectionParams bundles everything needed to build and run one
// connection.
type ConnectionParams struct {
	Server      ServerInfo
	Credentials Credentials
	Settings    Settings
}

// ConnectionHandle identifies one daemon-side connection profile. The ID is
// the only identity used to correlate daemon state with our state; object
// paths are treated as hints that may go stale across daemon restarts.
type ConnectionHandle struct {
	ID            string // stable UUID, generated once per connection attempt
	ProfileID     string // human-readable profile id
	InterfaceName string
	Kind          string // KindVPN, KindWireGuard or KindDummy

	Path       dbus.ObjectPath
	ActivePath dbus.ObjectPath
	IsActive   bool
}
