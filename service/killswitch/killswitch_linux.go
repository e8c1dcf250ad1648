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
	"fmt"
	"net"
	"time"
)

const (
	opTimeout         = time.Second * 5
	deviceWaitTimeout = time.Second * 10 // adding a profile waits for its dummy device to come up
)

func implInitialize() error {
	// adopt leftovers: permanent profiles survive daemon restarts
	for _, id := range allProfileIDs() {
		path, err := client.FindActiveConnectionByID(id)
		if err != nil {
			return fmt.Errorf("failed to look up profile '%s': %w", id, err)
		}
		if path != "" {
			log.Info("adopted active profile '", id, "'")
			activeProfiles.Add(id)
		}
	}
	return nil
}

// implEnableFullBlock brings up the requested blocking profile and tears
// down the others. The new profile is always added before anything is
// removed, so there is no window with traffic unblocked.
func implEnableFullBlock(serverIP net.IP, permanent bool) error {
	if err := ensureConnectivityCheckDisabled(); err != nil {
		return err
	}

	if err := addProfile(fullProfile(permanent), permanent); err != nil {
		return err
	}
	if err := removeProfile(connectionID(false, false, !permanent)); err != nil {
		return err
	}

	// the hole of the routed block cannot be updated in place, only replaced
	if err := removeProfile(connectionID(true, false, true)); err != nil {
		return err
	}
	if err := removeProfile(connectionID(true, false, false)); err != nil {
		return err
	}

	if serverIP == nil {
		return nil
	}

	if err := addProfile(routedProfile(serverIP, permanent), permanent); err != nil {
		return err
	}
	if err := removeProfile(connectionID(false, false, true)); err != nil {
		return err
	}
	return removeProfile(connectionID(false, false, false))
}

func implDisable() error {
	for _, permanent := range []bool{true, false} {
		if err := removeProfile(connectionID(false, false, permanent)); err != nil {
			return err
		}
		if err := removeProfile(connectionID(true, false, permanent)); err != nil {
			return err
		}
	}
	return nil
}

func implEnableIPv6Leak(permanent bool) error {
	if err := ensureConnectivityCheckDisabled(); err != nil {
		return err
	}
	if err := addProfile(ipv6LeakProfile(permanent), permanent); err != nil {
		return err
	}
	return removeProfile(connectionID(false, true, !permanent))
}

func implDisableIPv6Leak() error {
	for _, permanent := range []bool{true, false} {
		if err := removeProfile(connectionID(false, true, permanent)); err != nil {
			return err
		}
	}
	return nil
}

// addProfile is idempotent: a profile that is already active is left alone.
func addProfile(profile Profile, permanent bool) error {
	path, err := client.FindActiveConnectionByID(profile.ID)
	if err != nil {
		return fmt.Errorf("failed to look up profile '%s': %w", profile.ID, err)
	}
	if path != "" {
		log.Debug("profile '", profile.ID, "' is already active")
		activeProfiles.Add(profile.ID)
		return nil
	}

	if _, err := client.AddConnectionWaitDevice(profile.Settings(), profile.Interface, permanent).WaitTimeout(deviceWaitTimeout); err != nil {
		return fmt.Errorf("failed to add profile '%s': %w", profile.ID, err)
	}

	activeProfiles.Add(profile.ID)
	log.Info("profile '", profile.ID, "' added")
	return nil
}

// removeProfile treats a missing profile as success.
func removeProfile(id string) error {
	path, err := client.FindConnectionByID(id)
	if err != nil {
		return fmt.Errorf("failed to look up profile '%s': %w", id, err)
	}
	if path == "" {
		activeProfiles.Remove(id)
		return nil
	}

	if _, err := client.RemoveConnection(path).WaitTimeout(opTimeout); err != nil {
		return fmt.Errorf("failed to remove profile '%s': %w", id, err)
	}

	activeProfiles.Remove(id)
	log.Info("profile '", id, "' removed")
	return nil
}

// ensureConnectivityCheckDisabled turns the daemon's connectivity check
// off once. While the check runs the daemon inflates the metric of routes
// it considers dead by 20000, which would push the blocking routes behind
// the real ones.
func ensureConnectivityCheckDisabled() error {
	enabled, err := client.ConnectivityCheckEnabled()
	if err != nil {
		return fmt.Errorf("failed to read connectivity check state: %w", err)
	}
	if !enabled {
		return nil
	}

	if _, err := client.SetConnectivityCheckEnabled(false).WaitTimeout(opTimeout); err != nil {
		return fmt.Errorf("failed to disable connectivity check: %w", err)
	}
	log.Info("network connectivity check disabled")
	return nil
}
