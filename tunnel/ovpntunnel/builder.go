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

// Package ovpntunnel builds openvpn connection profiles carried by the
// daemon's openvpn plugin.
package ovpntunnel

import (
	"fmt"
	"strconv"

	"github.com/nimbusvpn/daemon/nmclient"
	"github.com/nimbusvpn/daemon/tunnel"
)

const (
	serviceType   = "org.freedesktop.NetworkManager.openvpn"
	virtualDevice = "nvpn0"
	dnsPriority   = -1500
)

// Builder produces openvpn connection profiles. Server identity is pinned
// with verify-x509-name against the server domain; client authentication is
// username/password (the password travels in the profile secrets, never in
// the plain data items).
type Builder struct {
	// CACertFile is the CA bundle used to verify the server certificate.
	CACertFile string
}

func (Builder) Supports(protocol string) bool { return protocol == tunnel.ProtocolOpenVPN }

func (Builder) Priority() int { return 2 }

func (b Builder) Build(id string, params tunnel.ConnectionParams) (nmclient.ConnectionSettings, error) {
	if params.Server.IP == nil {
		return nil, fmt.Errorf("server IP is not set")
	}
	if params.Server.Domain == "" {
		return nil, fmt.Errorf("server domain is not set")
	}
	if params.Credentials.OpenVPNUsername == "" || params.Credentials.OpenVPNPassword == "" {
		return nil, fmt.Errorf("openvpn credentials are not set")
	}

	port, protoTCP, err := choosePort(params.Server)
	if err != nil {
		return nil, err
	}

	data := map[string]string{
		"connection-type":  "password",
		"remote":           params.Server.IP.String(),
		"port":             strconv.Itoa(port),
		"proto-tcp":        protoTCP,
		"dev":              virtualDevice,
		"dev-type":         "tun",
		"remote-cert-tls":  "server",
		"verify-x509-name": "name:" + params.Server.Domain,
		"username":         params.Credentials.OpenVPNUsername,
		// the daemon has no secret agent, keep the password system-owned
		"password-flags": "0",
	}
	if b.CACertFile != "" {
		data["ca"] = b.CACertFile
	}

	conn := map[string]interface{}{
		"id":   params.Server.Name,
		"uuid": id,
		"type": "vpn",
	}
	if params.Settings.Owner != "" {
		conn["permissions"] = []string{"user:" + params.Settings.Owner + ":"}
	}

	return nmclient.ConnectionSettings{
		"connection": conn,
		"vpn": {
			"service-type": serviceType,
			"data":         data,
			"secrets":      map[string]string{"password": params.Credentials.OpenVPNPassword},
		},
		"ipv4": ipv4Section(params.Settings),
		"ipv6": ipv6Section(params.Settings),
	}, nil
}

// choosePort prefers UDP, falling back to TCP when the server offers no UDP
// ports.
func choosePort(server tunnel.ServerInfo) (port int, protoTCP string, err error) {
	if len(server.OpenVPNPortsUDP) > 0 {
		return server.OpenVPNPortsUDP[0], "no", nil
	}
	if len(server.OpenVPNPortsTCP) > 0 {
		return server.OpenVPNPortsTCP[0], "yes", nil
	}
	return 0, "", fmt.Errorf("server has no openvpn ports")
}

func ipv4Section(settings tunnel.Settings) map[string]interface{} {
	section := map[string]interface{}{
		"method":       "auto",
		"dns-priority": int32(dnsPriority),
	}
	if v4, _ := nmclient.PackDNS(settings.CustomDNS); len(v4) > 0 {
		section["dns"] = v4
		section["ignore-auto-dns"] = true
	}
	return section
}

func ipv6Section(settings tunnel.Settings) map[string]interface{} {
	section := map[string]interface{}{
		"method":       "auto",
		"dns-priority": int32(dnsPriority),
	}
	if _, v6 := nmclient.PackDNS(settings.CustomDNS); len(v6) > 0 {
		section["dns"] = v6
		section["ignore-auto-dns"] = true
	}
	return section
}
