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
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nimbusvpn/daemon/nmclient"
)

const (
	connectionPrefix = "nvpn"

	fullInterfaceName   = "nvpnksintrf0"
	routedInterfaceName = "nvpnrouteintrf0"
	ipv6InterfaceName   = "ipv6leakintrf0"

	blockDNSPriority = -1400

	ipv4BlockAddress = "100.85.0.1/24"
	ipv4BlockDNS     = "0.0.0.0"
	ipv4BlockGateway = "100.85.0.1"
	ipv4RouteMetric  = 98

	ipv6BlockAddress = "fdeb:446c:912d:08da::/64"
	ipv6BlockDNS     = "::1"
	ipv6BlockGateway = "fdeb:446c:912d:08da::1"
	ipv6RouteMetric  = 95
)

// IPConfig is the v4 or v6 half of one blocking profile.
type IPConfig struct {
	Addresses     []string // CIDR
	DNS           []net.IP
	DNSPriority   int32
	IgnoreAutoDNS bool
	RouteMetric   int64
	Gateway       string
	Routes        []string // CIDR; explicit route set of the routed block
}

// Profile describes one blocking connection before it materializes as a
// daemon profile of the dummy device type. A nil IP config disables that
// address family in the profile.
type Profile struct {
	ID        string
	Interface string
	IPv4      *IPConfig
	IPv6      *IPConfig
}

// Settings encodes the profile in the daemon's settings-map shape. Each
// call mints a fresh UUID; kill-switch profiles are addressed by their
// fixed connection id, never by UUID.
func (p Profile) Settings() nmclient.ConnectionSettings {
	return nmclient.ConnectionSettings{
		"connection": {
			"id":             p.ID,
			"uuid":           uuid.New().String(),
			"type":           "dummy",
			"interface-name": p.Interface,
		},
		"ipv4": blockIPv4Section(p.IPv4),
		"ipv6": blockIPv6Section(p.IPv6),
	}
}

func blockIPv4Section(cfg *IPConfig) map[string]interface{} {
	if cfg == nil {
		return map[string]interface{}{"method": "disabled"}
	}

	// the manual method stopped honoring route-metric on Ubuntu 24.04,
	// so the blocking address rides on auto
	section := map[string]interface{}{
		"method":          "auto",
		"address-data":    addressData(cfg.Addresses),
		"dns-priority":    cfg.DNSPriority,
		"ignore-auto-dns": cfg.IgnoreAutoDNS,
		"route-metric":    cfg.RouteMetric,
	}
	if v4, _ := nmclient.PackDNS(cfg.DNS); len(v4) > 0 {
		section["dns"] = v4
	}
	if len(cfg.Routes) > 0 {
		section["route-data"] = routeDataEntries(cfg.Routes)
	}
	if cfg.Gateway != "" {
		section["gateway"] = cfg.Gateway
	}
	return section
}

func blockIPv6Section(cfg *IPConfig) map[string]interface{} {
	if cfg == nil {
		return map[string]interface{}{"method": "disabled"}
	}

	section := map[string]interface{}{
		"method":          "manual",
		"address-data":    addressData(cfg.Addresses),
		"dns-priority":    cfg.DNSPriority,
		"ignore-auto-dns": cfg.IgnoreAutoDNS,
		"route-metric":    cfg.RouteMetric,
	}
	if _, v6 := nmclient.PackDNS(cfg.DNS); len(v6) > 0 {
		section["dns"] = v6
	}
	if cfg.Gateway != "" {
		section["gateway"] = cfg.Gateway
	}
	return section
}

func addressData(cidrs []string) []map[string]interface{} {
	entries := make([]map[string]interface{}, 0, len(cidrs))
	for _, cidr := range cidrs {
		addr, prefix, err := splitCIDR(cidr)
		if err != nil {
			continue
		}
		entries = append(entries, map[string]interface{}{
			"address": addr,
			"prefix":  prefix,
		})
	}
	return entries
}

// routeDataEntries leaves the metric unset, so the daemon applies the
// profile's route-metric.
func routeDataEntries(cidrs []string) []map[string]interface{} {
	entries := make([]map[string]interface{}, 0, len(cidrs))
	for _, cidr := range cidrs {
		dest, prefix, err := splitCIDR(cidr)
		if err != nil {
			continue
		}
		entries = append(entries, map[string]interface{}{
			"dest":   dest,
			"prefix": prefix,
		})
	}
	return entries
}

func splitCIDR(cidr string) (string, uint32, error) {
	addr, prefixStr, found := strings.Cut(cidr, "/")
	if !found {
		return "", 0, fmt.Errorf("'%s' is not in CIDR notation", cidr)
	}
	prefix, err := strconv.ParseUint(prefixStr, 10, 8)
	if err != nil {
		return "", 0, fmt.Errorf("bad prefix in '%s': %w", cidr, err)
	}
	return addr, uint32(prefix), nil
}

func connectionID(routed, ipv6, permanent bool) string {
	var id string
	switch {
	case ipv6:
		id = connectionPrefix + "-killswitch-ipv6"
	case routed:
		id = connectionPrefix + "-routed-killswitch"
	default:
		id = connectionPrefix + "-killswitch"
	}
	if permanent {
		id += "-perm"
	}
	return id
}

func allProfileIDs() []string {
	ids := make([]string, 0, 6)
	for _, permanent := range []bool{false, true} {
		ids = append(ids,
			connectionID(false, false, permanent),
			connectionID(true, false, permanent),
			connectionID(false, true, permanent))
	}
	return ids
}

// fullProfile blocks all outgoing traffic except what is bound to an
// existing VPN interface.
func fullProfile(permanent bool) Profile {
	return Profile{
		ID:        connectionID(false, false, permanent),
		Interface: fullInterfaceName,
		IPv4:      ipv4BlockConfig(nil),
		IPv6:      ipv6BlockConfig(),
	}
}

// routedProfile blocks everything except the VPN server itself, so the
// initial handshake can pass while the rest of the traffic stays swallowed.
func routedProfile(serverIP net.IP, permanent bool) Profile {
	return Profile{
		ID:        connectionID(true, false, permanent),
		Interface: routedInterfaceName,
		IPv4:      ipv4BlockConfig(serverIP),
		IPv6:      ipv6BlockConfig(),
	}
}

// ipv6LeakProfile swallows IPv6 traffic while the tunnel carries IPv4 only.
func ipv6LeakProfile(permanent bool) Profile {
	return Profile{
		ID:        connectionID(false, true, permanent),
		Interface: ipv6InterfaceName,
		IPv6:      ipv6BlockConfig(),
	}
}

func ipv4BlockConfig(excludedServer net.IP) *IPConfig {
	cfg := &IPConfig{
		Addresses:     []string{ipv4BlockAddress},
		DNS:           []net.IP{net.ParseIP(ipv4BlockDNS)},
		DNSPriority:   blockDNSPriority,
		IgnoreAutoDNS: true,
		RouteMetric:   ipv4RouteMetric,
	}
	if excludedServer != nil {
		cfg.Routes = excludeHostRoutes(excludedServer)
	} else {
		cfg.Gateway = ipv4BlockGateway
	}
	return cfg
}

func ipv6BlockConfig() *IPConfig {
	return &IPConfig{
		Addresses:     []string{ipv6BlockAddress},
		DNS:           []net.IP{net.ParseIP(ipv6BlockDNS)},
		DNSPriority:   blockDNSPriority,
		IgnoreAutoDNS: true,
		RouteMetric:   ipv6RouteMetric,
		Gateway:       ipv6BlockGateway,
	}
}

// excludeHostRoutes covers 0.0.0.0/0 minus host/32 with 32 disjoint
// networks: for every prefix length the sibling of the block containing
// the host.
func excludeHostRoutes(host net.IP) []string {
	v4 := host.To4()
	if v4 == nil {
		return nil
	}

	addr := binary.BigEndian.Uint32(v4)
	routes := make([]string, 0, 32)
	for prefix := 1; prefix <= 32; prefix++ {
		bit := uint32(1) << (32 - prefix)
		mask := ^(bit - 1)
		sibling := (addr ^ bit) & mask

		ip := make(net.IP, net.IPv4len)
		binary.BigEndian.PutUint32(ip, sibling)
		routes = append(routes, fmt.Sprintf("%s/%d", ip, prefix))
	}
	return routes
}
