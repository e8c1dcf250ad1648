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

package ovpntunnel

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvpn/daemon/nmclient"
	"github.com/nimbusvpn/daemon/tunnel"
)

const testUUID = "d3f1a7b8-55f8-40c5-bb4f-86ccc3cbab12"

func testParams() tunnel.ConnectionParams {
	return tunnel.ConnectionParams{
		Server: tunnel.ServerInfo{
			Name:            "CH#11",
			Domain:          "ch-11.gw.nimbusvpn.net",
			IP:              net.ParseIP("203.0.113.44"),
			OpenVPNPortsUDP: []int{1194, 5060},
			OpenVPNPortsTCP: []int{443, 7770},
		},
		Credentials: tunnel.Credentials{
			OpenVPNUsername: "nimbus_user",
			OpenVPNPassword: "nimbus_pass",
		},
		Settings: tunnel.Settings{
			Protocol: tunnel.ProtocolOpenVPN,
			Owner:    "dave",
		},
	}
}

func TestSupports(t *testing.T) {
	b := Builder{}
	assert.True(t, b.Supports(tunnel.ProtocolOpenVPN))
	assert.False(t, b.Supports(tunnel.ProtocolWireGuard))
}

func TestBuildProfile(t *testing.T) {
	b := Builder{CACertFile: "/etc/nimbusvpn/ca.crt"}
	settings, err := b.Build(testUUID, testParams())
	require.NoError(t, err)

	conn := settings["connection"]
	require.NotNil(t, conn)
	assert.Equal(t, "CH#11", conn["id"])
	assert.Equal(t, testUUID, conn["uuid"])
	assert.Equal(t, "vpn", conn["type"])
	assert.Equal(t, []string{"user:dave:"}, conn["permissions"])

	vpn := settings["vpn"]
	require.NotNil(t, vpn)
	assert.Equal(t, "org.freedesktop.NetworkManager.openvpn", vpn["service-type"])

	data, ok := vpn["data"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "password", data["connection-type"])
	assert.Equal(t, "203.0.113.44", data["remote"])
	assert.Equal(t, "1194", data["port"], "UDP is preferred when offered")
	assert.Equal(t, "no", data["proto-tcp"])
	assert.Equal(t, "nvpn0", data["dev"])
	assert.Equal(t, "tun", data["dev-type"])
	assert.Equal(t, "server", data["remote-cert-tls"])
	assert.Equal(t, "name:ch-11.gw.nimbusvpn.net", data["verify-x509-name"])
	assert.Equal(t, "nimbus_user", data["username"])
	assert.Equal(t, "0", data["password-flags"])
	assert.Equal(t, "/etc/nimbusvpn/ca.crt", data["ca"])
	_, hasPassword := data["password"]
	assert.False(t, hasPassword, "the password must only travel in the secrets")

	secrets, ok := vpn["secrets"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "nimbus_pass", secrets["password"])

	assert.Equal(t, int32(-1500), settings["ipv4"]["dns-priority"])
	assert.Equal(t, int32(-1500), settings["ipv6"]["dns-priority"])
	assert.Equal(t, "auto", settings["ipv4"]["method"])
}

func TestBuildFallsBackToTCP(t *testing.T) {
	params := testParams()
	params.Server.OpenVPNPortsUDP = nil

	settings, err := Builder{}.Build(testUUID, params)
	require.NoError(t, err)

	data := settings["vpn"]["data"].(map[string]string)
	assert.Equal(t, "443", data["port"])
	assert.Equal(t, "yes", data["proto-tcp"])
}

func TestBuildCustomDNS(t *testing.T) {
	params := testParams()
	params.Settings.CustomDNS = []net.IP{net.ParseIP("1.1.1.1")}

	settings, err := Builder{}.Build(testUUID, params)
	require.NoError(t, err)

	ipv4 := settings["ipv4"]
	assert.Equal(t, []uint32{nmclient.PackIPv4(net.ParseIP("1.1.1.1"))}, ipv4["dns"])
	assert.Equal(t, true, ipv4["ignore-auto-dns"])
	_, hasV6DNS := settings["ipv6"]["dns"]
	assert.False(t, hasV6DNS)
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*tunnel.ConnectionParams)
	}{
		{"no server ip", func(p *tunnel.ConnectionParams) { p.Server.IP = nil }},
		{"no domain", func(p *tunnel.ConnectionParams) { p.Server.Domain = "" }},
		{"no username", func(p *tunnel.ConnectionParams) { p.Credentials.OpenVPNUsername = "" }},
		{"no password", func(p *tunnel.ConnectionParams) { p.Credentials.OpenVPNPassword = "" }},
		{"no ports", func(p *tunnel.ConnectionParams) {
			p.Server.OpenVPNPortsUDP = nil
			p.Server.OpenVPNPortsTCP = nil
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			params := testParams()
			tc.mutate(&params)
			_, err := Builder{}.Build(testUUID, params)
			assert.Error(t, err)
		})
	}
}
