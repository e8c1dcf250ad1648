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

// Package wgtunnel builds native wireguard connection profiles and reads
// tunnel device counters.
package wgtunnel

import (
	"fmt"
	"net"
	"strconv"

	"github.com/nimbusvpn/daemon/nmclient"
	"github.com/nimbusvpn/daemon/tunnel"
)

// VirtualDevice is the wireguard tunnel interface managed by the daemon.
const VirtualDevice = "nvpn0"

const (
	dnsPriority = -1500
	dnsSearch   = "~"

	ipv4Address    = "10.2.0.2"
	ipv4Prefix     = 32
	ipv4DNS        = "10.2.0.1"
	ipv4AllowedIPs = "0.0.0.0/0"

	ipv6Address    = "2a07:b944::2:2"
	ipv6Prefix     = 128
	ipv6DNS        = "2a07:b944::2:1"
	ipv6AllowedIPs = "::/0"
)

// Builder produces wireguard connection profiles.
type Builder struct{}

func (Builder) Supports(protocol string) bool { return protocol == tunnel.ProtocolWireGuard }

func (Builder) Priority() int { return 1 }

// Build encodes the connection parameters into a wireguard profile with a
// single peer. The tunnel keeps a fixed client-side addressing plan; only
// the peer endpoint, keys and DNS overrides vary per connection.
func (Builder) Build(id string, params tunnel.ConnectionParams) (nmclient.ConnectionSettings, error) {
	if params.Credentials.WGPrivateKey == "" {
		return nil, fmt.Errorf("wireguard private key is not set")
	}
	if params.Server.X25519PublicKey == "" {
		return nil, fmt.Errorf("server public key is not set")
	}
	if params.Server.IP == nil {
		return nil, fmt.Errorf("server IP is not set")
	}
	if len(params.Server.WireGuardPorts) == 0 {
		return nil, fmt.Errorf("server has no wireguard ports")
	}

	endpoint := net.JoinHostPort(params.Server.IP.String(), strconv.Itoa(params.Server.WireGuardPorts[0]))
	enableIPv6 := params.Settings.EnableIPv6 && params.Server.HasIPv6

	allowedIPs := []string{ipv4AllowedIPs}
	if enableIPv6 {
		allowedIPs = append(allowedIPs, ipv6AllowedIPs)
	}

	conn := map[string]interface{}{
		"id":             params.Server.Name,
		"uuid":           id,
		"type":           "wireguard",
		"interface-name": VirtualDevice,
	}
	if params.Settings.Owner != "" {
		conn["permissions"] = []string{"user:" + params.Settings.Owner + ":"}
	}

	return nmclient.ConnectionSettings{
		"connection": conn,
		"wireguard": {
			"private-key": params.Credentials.WGPrivateKey,
			"peers": []map[string]interface{}{{
				"public-key":  params.Server.X25519PublicKey,
				"endpoint":    endpoint,
				"allowed-ips": allowedIPs,
			}},
		},
		"ipv4": ipv4Section(params.Settings.CustomDNS),
		"ipv6": ipv6Section(enableIPv6, params.Settings.CustomDNS),
	}, nil
}

func ipv4Section(customDNS []net.IP) map[string]interface{} {
	section := map[string]interface{}{
		"method": "manual",
		"address-data": []map[string]interface{}{{
			"address": ipv4Address,
			"prefix":  uint32(ipv4Prefix),
		}},
		"dns-priority":    int32(dnsPriority),
		"ignore-auto-dns": true,
	}

	if v4, _ := nmclient.PackDNS(customDNS); len(v4) > 0 {
		section["dns"] = v4
	} else {
		section["dns"] = []uint32{nmclient.PackIPv4(net.ParseIP(ipv4DNS))}
		section["dns-search"] = []string{dnsSearch}
	}
	return section
}

func ipv6Section(enabled bool, customDNS []net.IP) map[string]interface{} {
	if !enabled {
		return map[string]interface{}{
			"method":          "disabled",
			"dns-priority":    int32(dnsPriority),
			"ignore-auto-dns": true,
		}
	}

	section := map[string]interface{}{
		"method": "manual",
		"address-data": []map[string]interface{}{{
			"address": ipv6Address,
			"prefix":  uint32(ipv6Prefix),
		}},
		"dns-priority":    int32(dnsPriority),
		"ignore-auto-dns": true,
	}

	if _, v6 := nmclient.PackDNS(customDNS); len(v6) > 0 {
		section["dns"] = v6
	} else {
		section["dns"] = [][]byte{nmclient.PackIPv6(net.ParseIP(ipv6DNS))}
		section["dns-search"] = []string{dnsSearch}
	}
	return section
}
