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

package nmclient

import (
	"encoding/binary"
	"net"

	"github.com/godbus/dbus/v5"
)

// VpnState - VPN connection state as reported by NetworkManager
// (VpnStateChanged signal, first argument).
type VpnState uint32

const (
	VpnStateUnknown      VpnState = 0
	VpnStatePrepare      VpnState = 1
	VpnStateNeedAuth     VpnState = 2
	VpnStateConnect      VpnState = 3
	VpnStateIPConfigGet  VpnState = 4
	VpnStateActivated    VpnState = 5
	VpnStateFailed       VpnState = 6
	VpnStateDisconnected VpnState = 7
	// VpnStateUnknownError - sentinel for numeric codes this daemon version does not know
	VpnStateUnknownError VpnState = 999
)

// VpnStateFromCode normalizes a raw signal code. Codes outside the known
// range map to VpnStateUnknownError, never to a decode failure.
func VpnStateFromCode(code uint32) VpnState {
	if code <= uint32(VpnStateDisconnected) {
		return VpnState(code)
	}
	return VpnStateUnknownError
}

func (s VpnState) String() string {
	switch s {
	case VpnStateUnknown:
		return "UNKNOWN"
	case VpnStatePrepare:
		return "PREPARE"
	case VpnStateNeedAuth:
		return "NEED_AUTH"
	case VpnStateConnect:
		return "CONNECT"
	case VpnStateIPConfigGet:
		return "IP_CONFIG_GET"
	case VpnStateActivated:
		return "ACTIVATED"
	case VpnStateFailed:
		return "FAILED"
	case VpnStateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// VpnStateReason - reason code accompanying a VpnStateChanged signal.
type VpnStateReason uint32

const (
	VpnStateReasonUnknown             VpnStateReason = 0
	VpnStateReasonNone                VpnStateReason = 1
	VpnStateReasonUserDisconnected    VpnStateReason = 2
	VpnStateReasonDeviceDisconnected  VpnStateReason = 3
	VpnStateReasonServiceStopped      VpnStateReason = 4
	VpnStateReasonIPConfigInvalid     VpnStateReason = 5
	VpnStateReasonConnectTimeout      VpnStateReason = 6
	VpnStateReasonServiceStartTimeout VpnStateReason = 7
	VpnStateReasonServiceStartFailed  VpnStateReason = 8
	VpnStateReasonNoSecrets           VpnStateReason = 9
	VpnStateReasonLoginFailed         VpnStateReason = 10
	VpnStateReasonConnectionRemoved   VpnStateReason = 11
	VpnStateReasonDependencyFailed    VpnStateReason = 12
	VpnStateReasonDeviceRealizeFailed VpnStateReason = 13
	VpnStateReasonDeviceRemoved       VpnStateReason = 14
	// VpnStateReasonUnknownError - sentinel for out-of-range codes
	VpnStateReasonUnknownError VpnStateReason = 999
)

func VpnStateReasonFromCode(code uint32) VpnStateReason {
	if code <= uint32(VpnStateReasonDeviceRemoved) {
		return VpnStateReason(code)
	}
	return VpnStateReasonUnknownError
}

func (r VpnStateReason) String() string {
	switch r {
	case VpnStateReasonUnknown:
		return "UNKNOWN"
	case VpnStateReasonNone:
		return "NONE"
	case VpnStateReasonUserDisconnected:
		return "USER_DISCONNECTED"
	case VpnStateReasonDeviceDisconnected:
		return "DEVICE_DISCONNECTED"
	case VpnStateReasonServiceStopped:
		return "SERVICE_STOPPED"
	case VpnStateReasonIPConfigInvalid:
		return "IP_CONFIG_INVALID"
	case VpnStateReasonConnectTimeout:
		return "CONNECT_TIMEOUT"
	case VpnStateReasonServiceStartTimeout:
		return "SERVICE_START_TIMEOUT"
	case VpnStateReasonServiceStartFailed:
		return "SERVICE_START_FAILED"
	case VpnStateReasonNoSecrets:
		return "NO_SECRETS"
	case VpnStateReasonLoginFailed:
		return "LOGIN_FAILED"
	case VpnStateReasonConnectionRemoved:
		return "CONNECTION_REMOVED"
	case VpnStateReasonDependencyFailed:
		return "DEPENDENCY_FAILED"
	case VpnStateReasonDeviceRealizeFailed:
		return "DEVICE_REALIZE_FAILED"
	case VpnStateReasonDeviceRemoved:
		return "DEVICE_REMOVED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// ActiveConnectionState - state of an active connection object.
type ActiveConnectionState uint32

const (
	ActiveConnectionStateUnknown      ActiveConnectionState = 0
	ActiveConnectionStateActivating   ActiveConnectionState = 1
	ActiveConnectionStateActivated    ActiveConnectionState = 2
	ActiveConnectionStateDeactivating ActiveConnectionState = 3
	ActiveConnectionStateDeactivated  ActiveConnectionState = 4
)

func (s ActiveConnectionState) String() string {
	switch s {
	case ActiveConnectionStateActivating:
		return "ACTIVATING"
	case ActiveConnectionStateActivated:
		return "ACTIVATED"
	case ActiveConnectionStateDeactivating:
		return "DEACTIVATING"
	case ActiveConnectionStateDeactivated:
		return "DEACTIVATED"
	default:
		return "UNKNOWN"
	}
}

// DeviceState - state of a network device.
type DeviceState uint32

const (
	DeviceStateUnknown      DeviceState = 0
	DeviceStateUnmanaged    DeviceState = 10
	DeviceStateUnavailable  DeviceState = 20
	DeviceStateDisconnected DeviceState = 30
	DeviceStateActivated    DeviceState = 100
	DeviceStateDeactivating DeviceState = 110
	DeviceStateFailed       DeviceState = 120
)

// DeviceType - hardware type of a network device. Only the types relevant
// for kill-switch route placement are named.
type DeviceType uint32

const (
	DeviceTypeUnknown  DeviceType = 0
	DeviceTypeEthernet DeviceType = 1
	DeviceTypeWifi     DeviceType = 2
)

// Device - a snapshot of one network device.
type Device struct {
	Path             dbus.ObjectPath
	Interface        string
	Type             DeviceType
	State            DeviceState
	ActiveConnection dbus.ObjectPath
}

// IsActivePhysical reports whether the device is an activated
// ethernet or wifi device (a candidate for a VPN server route).
func (d Device) IsActivePhysical() bool {
	return (d.Type == DeviceTypeEthernet || d.Type == DeviceTypeWifi) &&
		d.State == DeviceStateActivated
}

// ConnectionSettings - a connection profile in the daemon's nested
// settings-map shape ("connection", "ipv4", "vpn", ... sections).
type ConnectionSettings map[string]map[string]interface{}

// ID returns the human-readable connection id, "" when absent.
func (s ConnectionSettings) ID() string {
	if conn, ok := s["connection"]; ok {
		if id, ok := conn["id"].(string); ok {
			return id
		}
	}
	return ""
}

// UUID returns the connection UUID, "" when absent.
func (s ConnectionSettings) UUID() string {
	if conn, ok := s["connection"]; ok {
		if id, ok := conn["uuid"].(string); ok {
			return id
		}
	}
	return ""
}

// PackIPv4 encodes an IPv4 address in the daemon's legacy "au" wire format:
// the network-order bytes reinterpreted as a native-endian integer.
func PackIPv4(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.NativeEndian.Uint32(v4)
}

// PackIPv6 encodes an IPv6 address as the 16-byte array of the daemon's
// legacy "aay" wire format.
func PackIPv6(ip net.IP) []byte {
	v6 := ip.To16()
	if v6 == nil {
		return nil
	}
	out := make([]byte, net.IPv6len)
	copy(out, v6)
	return out
}

// PackDNS splits a nameserver list into the daemon's ipv4 and ipv6 wire
// encodings.
func PackDNS(ips []net.IP) (v4 []uint32, v6 [][]byte) {
	for _, ip := range ips {
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			v4 = append(v4, PackIPv4(ip))
		} else {
			v6 = append(v6, PackIPv6(ip))
		}
	}
	return v4, v6
}
