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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// AppliedConnection - settings currently applied on a device, together with
// the version id required for a subsequent Reapply.
type AppliedConnection struct {
	Settings  ConnectionSettings
	VersionID uint64
}

// AddConnection asks the daemon to create a connection profile. Profiles
// added with persist=false stay in the daemon's memory only and vanish with
// it (the right default for kill-switch blocks). The future resolves with
// the profile object path.
func (c *Client) AddConnection(settings ConnectionSettings, persist bool) *Future {
	return c.RunOnDispatchLoop(func() (interface{}, error) {
		return c.addConnection(settings, persist)
	})
}

// AddConnectionWaitDevice adds a profile like AddConnection, but the future
// resolves only once the device behind ifaceName reports the activated
// state. Used for kill-switch profiles whose block must be in force before
// the caller proceeds.
func (c *Client) AddConnectionWaitDevice(settings ConnectionSettings, ifaceName string, persist bool) *Future {
	future := newFuture(c)
	inner := c.RunOnDispatchLoop(func() (interface{}, error) {
		path, err := c.addConnection(settings, persist)
		if err != nil {
			return nil, err
		}

		if dev := c.findDeviceByInterface(ifaceName); dev != nil && dev.State == DeviceStateActivated {
			future.fulfill(path, nil)
			return nil, nil
		}

		c.deviceWaits = append(c.deviceWaits, &deviceWait{
			iface:       ifaceName,
			profilePath: path,
			future:      future,
			created:     time.Now(),
		})
		return nil, nil
	})

	// forward add failures; on success the future resolves from the
	// device state signal (or the caller's own wait timeout)
	go func() {
		if _, err := inner.Wait(); err != nil {
			future.fulfill(nil, err)
		}
	}()
	return future
}

func (c *Client) addConnection(settings ConnectionSettings, persist bool) (dbus.ObjectPath, error) {
	c.assertDispatchLoop()

	method := nmSettingsIface + ".AddConnectionUnsaved"
	if persist {
		method = nmSettingsIface + ".AddConnection"
	}

	var path dbus.ObjectPath
	err := c.bus.call(nmSettingsPath, method,
		[]interface{}{toVariantSettings(settings)}, &path)
	if err != nil {
		return "", fmt.Errorf("failed to add connection '%s': %w", settings.ID(), err)
	}

	log.Debug("added connection '", settings.ID(), "' (", path, ")")
	return path, nil
}

// ActivateConnection starts activation of a profile. The future resolves
// with the active connection object path as soon as the daemon accepts
// the request; progress beyond that is reported via signals. Non-nil
// callbacks are registered for the resulting active path before the future
// resolves, within the same dispatch-loop operation, so no state-change
// signal can slip past an un-registered subscription.
func (c *Client) ActivateConnection(profilePath dbus.ObjectPath, vpnStateCb, activeStateCb func(state uint32, reason uint32)) *Future {
	return c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()

		var activePath dbus.ObjectPath
		err := c.bus.call(nmPath, nmIface+".ActivateConnection",
			[]interface{}{profilePath, dbus.ObjectPath("/"), dbus.ObjectPath("/")}, &activePath)
		if err != nil {
			return nil, fmt.Errorf("failed to activate connection %s: %w", profilePath, err)
		}

		if vpnStateCb != nil {
			c.vpnStateSubs[activePath] = vpnStateCb
		}
		if activeStateCb != nil {
			c.activeStateSubs[activePath] = activeStateCb
		}
		return activePath, nil
	})
}

// DeactivateConnection stops an active connection. A connection that is no
// longer active counts as success.
func (c *Client) DeactivateConnection(activePath dbus.ObjectPath) *Future {
	return c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()

		err := c.bus.call(nmPath, nmIface+".DeactivateConnection", []interface{}{activePath})
		if err != nil && !isNotFoundErr(err) {
			return nil, fmt.Errorf("failed to deactivate connection %s: %w", activePath, err)
		}
		return nil, nil
	})
}

// RemoveConnection deletes a connection profile. A missing profile counts
// as success.
func (c *Client) RemoveConnection(profilePath dbus.ObjectPath) *Future {
	return c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()

		c.dropDeviceWaits(profilePath)

		err := c.bus.call(profilePath, nmConnectionIface+".Delete", nil)
		if err != nil && !isNotFoundErr(err) {
			return nil, fmt.Errorf("failed to remove connection %s: %w", profilePath, err)
		}
		return nil, nil
	})
}

func (c *Client) dropDeviceWaits(profilePath dbus.ObjectPath) {
	remaining := c.deviceWaits[:0]
	for _, w := range c.deviceWaits {
		if w.profilePath != profilePath {
			remaining = append(remaining, w)
		}
	}
	c.deviceWaits = remaining
}

// GetConnection finds a connection profile by UUID. Returns "" when the
// daemon has no such profile.
func (c *Client) GetConnection(uuid string) (dbus.ObjectPath, error) {
	res, err := c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()

		var path dbus.ObjectPath
		err := c.bus.call(nmSettingsPath, nmSettingsIface+".GetConnectionByUuid",
			[]interface{}{uuid}, &path)
		if err != nil {
			if isNotFoundErr(err) {
				return dbus.ObjectPath(""), nil
			}
			return nil, fmt.Errorf("failed to look up connection %s: %w", uuid, err)
		}
		return path, nil
	}).Wait()
	if err != nil {
		return "", err
	}
	return res.(dbus.ObjectPath), nil
}

// GetActiveConnection finds an active connection by the UUID of its profile.
// Returns "" when no such connection is active.
func (c *Client) GetActiveConnection(uuid string) (dbus.ObjectPath, error) {
	res, err := c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()

		prop, err := c.bus.getProperty(nmPath, nmIface+".ActiveConnections")
		if err != nil {
			return nil, fmt.Errorf("failed to list active connections: %w", err)
		}
		paths, _ := prop.([]dbus.ObjectPath)
		for _, path := range paths {
			uuidProp, err := c.bus.getProperty(path, nmActiveIface+".Uuid")
			if err != nil {
				continue
			}
			if activeUUID, _ := uuidProp.(string); activeUUID == uuid {
				return path, nil
			}
		}
		return dbus.ObjectPath(""), nil
	}).Wait()
	if err != nil {
		return "", err
	}
	return res.(dbus.ObjectPath), nil
}

// FindConnectionByID finds a profile by its human-readable connection id.
// Kill-switch profiles are addressed this way: their UUIDs are generated
// fresh on every add, but the ids are fixed, so leftovers from an earlier
// daemon run can still be found. Returns "" when no profile matches.
func (c *Client) FindConnectionByID(id string) (dbus.ObjectPath, error) {
	res, err := c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()

		var paths []dbus.ObjectPath
		if err := c.bus.call(nmSettingsPath, nmSettingsIface+".ListConnections", nil, &paths); err != nil {
			return nil, fmt.Errorf("failed to list connections: %w", err)
		}
		for _, path := range paths {
			var raw map[string]map[string]dbus.Variant
			if err := c.bus.call(path, nmConnectionIface+".GetSettings", nil, &raw); err != nil {
				continue
			}
			if fromVariantSettings(raw).ID() == id {
				return path, nil
			}
		}
		return dbus.ObjectPath(""), nil
	}).Wait()
	if err != nil {
		return "", err
	}
	return res.(dbus.ObjectPath), nil
}

// FindActiveConnectionByID finds an active connection by the human-readable
// id of its profile. Returns "" when no such connection is active.
func (c *Client) FindActiveConnectionByID(id string) (dbus.ObjectPath, error) {
	res, err := c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()

		prop, err := c.bus.getProperty(nmPath, nmIface+".ActiveConnections")
		if err != nil {
			return nil, fmt.Errorf("failed to list active connections: %w", err)
		}
		paths, _ := prop.([]dbus.ObjectPath)
		for _, path := range paths {
			idProp, err := c.bus.getProperty(path, nmActiveIface+".Id")
			if err != nil {
				continue
			}
			if activeID, _ := idProp.(string); activeID == id {
				return path, nil
			}
		}
		return dbus.ObjectPath(""), nil
	}).Wait()
	if err != nil {
		return "", err
	}
	return res.(dbus.ObjectPath), nil
}

// SubscribeVpnState registers a callback for VpnStateChanged signals of an
// active connection. The callback runs on the dispatch loop and must not
// block; raw signal codes are passed through unnormalized.
func (c *Client) SubscribeVpnState(activePath dbus.ObjectPath, cb func(state uint32, reason uint32)) *Future {
	return c.RunOnDispatchLoop(func() (interface{}, error) {
		c.vpnStateSubs[activePath] = cb
		return nil, nil
	})
}

func (c *Client) UnsubscribeVpnState(activePath dbus.ObjectPath) {
	c.RunOnDispatchLoop(func() (interface{}, error) {
		delete(c.vpnStateSubs, activePath)
		return nil, nil
	})
}

// SubscribeActiveState registers a callback for StateChanged signals of an
// active connection (the signal family used by native wireguard profiles,
// which do not emit VpnStateChanged).
func (c *Client) SubscribeActiveState(activePath dbus.ObjectPath, cb func(state uint32, reason uint32)) *Future {
	return c.RunOnDispatchLoop(func() (interface{}, error) {
		c.activeStateSubs[activePath] = cb
		return nil, nil
	})
}

func (c *Client) UnsubscribeActiveState(activePath dbus.ObjectPath) {
	c.RunOnDispatchLoop(func() (interface{}, error) {
		delete(c.activeStateSubs, activePath)
		return nil, nil
	})
}

// PhysicalDevices returns a snapshot of the daemon's network devices.
func (c *Client) PhysicalDevices() ([]Device, error) {
	res, err := c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()

		var paths []dbus.ObjectPath
		if err := c.bus.call(nmPath, nmIface+".GetDevices", nil, &paths); err != nil {
			return nil, fmt.Errorf("failed to enumerate devices: %w", err)
		}

		devices := make([]Device, 0, len(paths))
		for _, path := range paths {
			if dev := c.readDevice(path); dev != nil {
				devices = append(devices, *dev)
			}
		}
		return devices, nil
	}).Wait()
	if err != nil {
		return nil, err
	}
	return res.([]Device), nil
}

func (c *Client) readDevice(path dbus.ObjectPath) *Device {
	devType, err := c.bus.getProperty(path, nmDeviceIface+".DeviceType")
	if err != nil {
		return nil
	}
	state, err := c.bus.getProperty(path, nmDeviceIface+".State")
	if err != nil {
		return nil
	}
	iface, err := c.bus.getProperty(path, nmDeviceIface+".Interface")
	if err != nil {
		return nil
	}

	dev := &Device{Path: path}
	if t, ok := devType.(uint32); ok {
		dev.Type = DeviceType(t)
	}
	if s, ok := state.(uint32); ok {
		dev.State = DeviceState(s)
	}
	dev.Interface, _ = iface.(string)

	if active, err := c.bus.getProperty(path, nmDeviceIface+".ActiveConnection"); err == nil {
		dev.ActiveConnection, _ = active.(dbus.ObjectPath)
	}
	return dev
}

func (c *Client) findDeviceByInterface(ifaceName string) *Device {
	c.assertDispatchLoop()

	var paths []dbus.ObjectPath
	if err := c.bus.call(nmPath, nmIface+".GetDevices", nil, &paths); err != nil {
		return nil
	}
	for _, path := range paths {
		dev := c.readDevice(path)
		if dev != nil && dev.Interface == ifaceName {
			return dev
		}
	}
	return nil
}

// ConnectivityCheckEnabled reads the daemon-level connectivity check flag.
func (c *Client) ConnectivityCheckEnabled() (bool, error) {
	res, err := c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()
		prop, err := c.bus.getProperty(nmPath, nmIface+".ConnectivityCheckEnabled")
		if err != nil {
			return nil, fmt.Errorf("failed to read connectivity check state: %w", err)
		}
		enabled, _ := prop.(bool)
		return enabled, nil
	}).Wait()
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// SetConnectivityCheckEnabled switches the daemon connectivity check.
// The kill switch disables it so the daemon does not punch probe holes
// through the block.
func (c *Client) SetConnectivityCheckEnabled(enabled bool) *Future {
	return c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()
		if err := c.bus.setProperty(nmPath, nmIface+".ConnectivityCheckEnabled", enabled); err != nil {
			return nil, fmt.Errorf("failed to set connectivity check to %v: %w", enabled, err)
		}
		return nil, nil
	})
}

// GetAppliedConnection fetches the settings currently applied on a device.
func (c *Client) GetAppliedConnection(devPath dbus.ObjectPath) *Future {
	return c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()

		var raw map[string]map[string]dbus.Variant
		var versionID uint64
		err := c.bus.call(devPath, nmDeviceIface+".GetAppliedConnection",
			[]interface{}{uint32(0)}, &raw, &versionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get applied connection of %s: %w", devPath, err)
		}
		return AppliedConnection{Settings: fromVariantSettings(raw), VersionID: versionID}, nil
	})
}

// Reapply pushes modified settings back onto a device. versionID must come
// from the matching GetAppliedConnection to detect concurrent modification.
func (c *Client) Reapply(devPath dbus.ObjectPath, settings ConnectionSettings, versionID uint64) *Future {
	return c.RunOnDispatchLoop(func() (interface{}, error) {
		c.assertDispatchLoop()

		err := c.bus.call(devPath, nmDeviceIface+".Reapply",
			[]interface{}{toVariantSettings(settings), versionID, uint32(0)})
		if err != nil {
			return nil, fmt.Errorf("failed to reapply connection on %s: %w", devPath, err)
		}
		return nil, nil
	})
}

// notFoundErrSuffixes - daemon error names that mean "the object is already
// gone", which remove/deactivate treat as success.
var notFoundErrSuffixes = []string{
	".UnknownConnection",
	".ConnectionNotActive",
	".InvalidConnection",
	".UnknownObject",
	".UnknownMethod",
	".NotActivated",
}

func isNotFoundErr(err error) bool {
	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) {
		return false
	}
	for _, suffix := range notFoundErrSuffixes {
		if strings.HasSuffix(dbusErr.Name, suffix) {
			return true
		}
	}
	return false
}
