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
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	nmDest         = "org.freedesktop.NetworkManager"
	nmPath         = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmSettingsPath = dbus.ObjectPath("/org/freedesktop/NetworkManager/Settings")

	nmIface           = "org.freedesktop.NetworkManager"
	nmSettingsIface   = "org.freedesktop.NetworkManager.Settings"
	nmConnectionIface = "org.freedesktop.NetworkManager.Settings.Connection"
	nmActiveIface     = "org.freedesktop.NetworkManager.Connection.Active"
	nmVpnIface        = "org.freedesktop.NetworkManager.VPN.Connection"
	nmDeviceIface     = "org.freedesktop.NetworkManager.Device"
)

// busAPI is the slice of the system bus the client needs. Production code
// talks to NetworkManager through systemBus; tests substitute a fake.
type busAPI interface {
	call(path dbus.ObjectPath, method string, args []interface{}, rets ...interface{}) error
	getProperty(path dbus.ObjectPath, prop string) (interface{}, error)
	setProperty(path dbus.ObjectPath, prop string, value interface{}) error
	addMatch(opts ...dbus.MatchOption) error
	removeMatch(opts ...dbus.MatchOption) error
	signals(ch chan<- *dbus.Signal)
	removeSignals(ch chan<- *dbus.Signal)
	close() error
}

type systemBus struct {
	conn *dbus.Conn
}

func connectSystemBus() (*systemBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the system bus: %w", err)
	}
	return &systemBus{conn: conn}, nil
}

func (b *systemBus) call(path dbus.ObjectPath, method string, args []interface{}, rets ...interface{}) error {
	call := b.conn.Object(nmDest, path).Call(method, 0, args...)
	if call.Err != nil {
		return call.Err
	}
	if len(rets) > 0 {
		return call.Store(rets...)
	}
	return nil
}

func (b *systemBus) getProperty(path dbus.ObjectPath, prop string) (interface{}, error) {
	variant, err := b.conn.Object(nmDest, path).GetProperty(prop)
	if err != nil {
		return nil, err
	}
	return variant.Value(), nil
}

func (b *systemBus) setProperty(path dbus.ObjectPath, prop string, value interface{}) error {
	return b.conn.Object(nmDest, path).SetProperty(prop, dbus.MakeVariant(value))
}

func (b *systemBus) addMatch(opts ...dbus.MatchOption) error {
	return b.conn.AddMatchSignal(opts...)
}

func (b *systemBus) removeMatch(opts ...dbus.MatchOption) error {
	return b.conn.RemoveMatchSignal(opts...)
}

func (b *systemBus) signals(ch chan<- *dbus.Signal) {
	b.conn.Signal(ch)
}

func (b *systemBus) removeSignals(ch chan<- *dbus.Signal) {
	b.conn.RemoveSignal(ch)
}

func (b *systemBus) close() error {
	return b.conn.Close()
}

// toVariantSettings converts a settings map to the a{sa{sv}} wire shape.
func toVariantSettings(settings ConnectionSettings) map[string]map[string]dbus.Variant {
	out := make(map[string]map[string]dbus.Variant, len(settings))
	for section, values := range settings {
		converted := make(map[string]dbus.Variant, len(values))
		for key, value := range values {
			converted[key] = makeVariant(value)
		}
		out[section] = converted
	}
	return out
}

// makeVariant wraps a value for the wire, recursing into the nested
// map/slice shapes used by address-data and route-data entries.
func makeVariant(value interface{}) dbus.Variant {
	switch v := value.(type) {
	case map[string]interface{}:
		converted := make(map[string]dbus.Variant, len(v))
		for key, item := range v {
			converted[key] = makeVariant(item)
		}
		return dbus.MakeVariant(converted)
	case []map[string]interface{}:
		converted := make([]map[string]dbus.Variant, 0, len(v))
		for _, item := range v {
			entry := make(map[string]dbus.Variant, len(item))
			for key, leaf := range item {
				entry[key] = makeVariant(leaf)
			}
			converted = append(converted, entry)
		}
		return dbus.MakeVariant(converted)
	default:
		return dbus.MakeVariant(value)
	}
}

// fromVariantSettings converts daemon-returned settings back to the
// native map shape (the inverse of toVariantSettings).
func fromVariantSettings(settings map[string]map[string]dbus.Variant) ConnectionSettings {
	out := make(ConnectionSettings, len(settings))
	for section, values := range settings {
		converted := make(map[string]interface{}, len(values))
		for key, value := range values {
			converted[key] = fromVariantValue(value.Value())
		}
		out[section] = converted
	}
	return out
}

func fromVariantValue(value interface{}) interface{} {
	switch v := value.(type) {
	case dbus.Variant:
		return fromVariantValue(v.Value())
	case map[string]dbus.Variant:
		converted := make(map[string]interface{}, len(v))
		for key, item := range v {
			converted[key] = fromVariantValue(item.Value())
		}
		return converted
	case []map[string]dbus.Variant:
		converted := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			entry := make(map[string]interface{}, len(item))
			for key, leaf := range item {
				entry[key] = fromVariantValue(leaf.Value())
			}
			converted = append(converted, entry)
		}
		return converted
	case []dbus.Variant:
		converted := make([]interface{}, 0, len(v))
		for _, item := range v {
			converted = append(converted, fromVariantValue(item.Value()))
		}
		return converted
	default:
		return value
	}
}
