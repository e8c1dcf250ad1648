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

package wgtunnel

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvpn/daemon/nmclient"
	"github.com/nimbusvpn/daemon/tunnel"
)

const testUUID = "6f2b5c0a-6d53-4f56-8a41-90de2cfc29d4"

func testParams() tunnel.ConnectionParams {
	return tunnel.ConnectionParams{
		Server: tunnel.ServerInfo{
			Name:            "NL#42",
			Domain:          "nl-42.gw.nimbusvpn.net",
			IP:              net.ParseIP("198.51.100.7"),
			WireGuardPorts:  []int{51820, 88},
			X25519PublicKey: "yBSp5SsctLVUjDawsP1r3r4essBtmaiTjIBnHWAMmmM=",
			HasIPv6:         true,
		},
		Credentials: tunnel.Credentials{
			WGPrivateKey: "GAnx5ElvOWk0xvWbLJ0LEklCdHHzGmwfJcJCpyPgF1s=",
		},
		Settings: tunnel.Settings{
			Protocol: tunnel.ProtocolWireGuard,
			Owner:    "dave",
		},
	}
}

func TestSupports(t *testing.T) {
	b := Builder{}
	assert.True(t, b.Supports(tunnel.ProtocolWireGuard))
	assert.False(t, b.Supports(tunnel.ProtocolOpenVPN))
}

func TestBuildProfile(t *testing.T) {
	params := testParams()
	settings, err := Builder{}.Build(testUUID, params)
	require.NoError(t, err)

	conn := settings["connection"]
	require.NotNil(t, conn)
	assert.Equal(t, "NL#42", conn["id"])
	assert.Equal(t, testUUID, conn["uuid"])
	assert.Equal(t, "wireguard", conn["type"])
	assert.Equal(t, "nvpn0", conn["interface-name"])
	assert.Equal(t, []string{"user:dave:"}, conn["permissions"])

	wg := settings["wireguard"]
	require.NotNil(t, wg)
	assert.Equal(t, params.Credentials.WGPrivateKey, wg["private-key"])

	peers, ok := wg["peers"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, peers, 1)
	assert.Equal(t, params.Server.X25519PublicKey, peers[0]["public-key"])
	assert.Equal(t, "198.51.100.7:51820", peers[0]["endpoint"], "endpoint must use the first wireguard port")

	ipv4 := settings["ipv4"]
	require.NotNil(t, ipv4)
	assert.Equal(t, "manual", ipv4["method"])
	addrs, ok := ipv4["address-data"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, addrs, 1)
	assert.Equal(t, "10.2.0.2", addrs[0]["address"])
	assert.Equal(t, uint32(32), addrs[0]["prefix"])
	assert.Equal(t, []uint32{nmclient.PackIPv4(net.ParseIP("10.2.0.1"))}, ipv4["dns"])
	assert.Equal(t, []string{"~"}, ipv4["dns-search"])
	assert.Equal(t, int32(-1500), ipv4["dns-priority"])
	assert.Equal(t, true, ipv4["ignore-auto-dns"])
}

func TestBuildIPv6(t *testing.T) {
	params := testParams()
	params.Settings.EnableIPv6 = true

	settings, err := Builder{}.Build(testUUID, params)
	require.NoError(t, err)

	peers := settings["wireguard"]["peers"].([]map[string]interface{})
	assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, peers[0]["allowed-ips"])

	ipv6 := settings["ipv6"]
	assert.Equal(t, "manual", ipv6["method"])
	addrs := ipv6["address-data"].([]map[string]interface{})
	require.Len(t, addrs, 1)
	assert.Equal(t, "2a07:b944::2:2", addrs[0]["address"])
	assert.Equal(t, uint32(128), addrs[0]["prefix"])
	assert.Equal(t, [][]byte{nmclient.PackIPv6(net.ParseIP("2a07:b944::2:1"))}, ipv6["dns"])
}

func TestBuildIPv6Disabled(t *testing.T) {
	params := testParams()
	params.Settings.EnableIPv6 = false

	settings, err := Builder{}.Build(testUUID, params)
	require.NoError(t, err)

	peers := settings["wireguard"]["peers"].([]map[string]interface{})
	assert.Equal(t, []string{"0.0.0.0/0"}, peers[0]["allowed-ips"])
	assert.Equal(t, "disabled", settings["ipv6"]["method"])
	assert.Equal(t, int32(-1500), settings["ipv6"]["dns-priority"])
}

func TestBuildIPv6NotOfferedByServer(t *testing.T) {
	params := testParams()
	params.Settings.EnableIPv6 = true
	params.Server.HasIPv6 = false

	settings, err := Builder{}.Build(testUUID, params)
	require.NoError(t, err)
	assert.Equal(t, "disabled", settings["ipv6"]["method"])
}

func TestBuildCustomDNS(t *testing.T) {
	params := testParams()
	params.Settings.EnableIPv6 = true
	params.Settings.CustomDNS = []net.IP{
		net.ParseIP("9.9.9.9"),
		net.ParseIP("2620:fe::fe"),
	}

	settings, err := Builder{}.Build(testUUID, params)
	require.NoError(t, err)

	ipv4 := settings["ipv4"]
	assert.Equal(t, []uint32{nmclient.PackIPv4(net.ParseIP("9.9.9.9"))}, ipv4["dns"])
	_, hasSearch := ipv4["dns-search"]
	assert.False(t, hasSearch, "custom DNS must not get the tunnel search domain")

	ipv6 := settings["ipv6"]
	assert.Equal(t, [][]byte{nmclient.PackIPv6(net.ParseIP("2620:fe::fe"))}, ipv6["dns"])
}

func TestBuildAnonymousProfile(t *testing.T) {
	params := testParams()
	params.Settings.Owner = ""

	settings, err := Builder{}.Build(testUUID, params)
	require.NoError(t, err)
	_, hasPermissions := settings["connection"]["permissions"]
	assert.False(t, hasPermissions)
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*tunnel.ConnectionParams)
	}{
		{"no private key", func(p *tunnel.ConnectionParams) { p.Credentials.WGPrivateKey = "" }},
		{"no server public key", func(p *tunnel.ConnectionParams) { p.Server.X25519PublicKey = "" }},
		{"no server ip", func(p *tunnel.ConnectionParams) { p.Server.IP = nil }},
		{"no ports", func(p *tunnel.ConnectionParams) { p.Server.WireGuardPorts = nil }},
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

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 Bytes", FormatBytes(0))
	assert.Equal(t, "512.00 Bytes", FormatBytes(512))
	assert.Equal(t, "1.00 KB", FormatBytes(1024))
	assert.Equal(t, "1.50 MB", FormatBytes(1572864))
}
