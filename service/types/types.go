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

package types

// KillSwitchMode - the configured traffic blocking policy
type KillSwitchMode string

const (
	KillSwitchModeOff       KillSwitchMode = "off"
	KillSwitchModeOn        KillSwitchMode = "on"
	KillSwitchModePermanent KillSwitchMode = "permanent" // blocking profiles survive daemon restarts and reboots
)

func (m KillSwitchMode) IsValid() bool {
	switch m {
	case KillSwitchModeOff, KillSwitchModeOn, KillSwitchModePermanent:
		return true
	}
	return false
}

type KillSwitchStatus struct {
	IsEnabled    bool // a blocking profile is up
	IsPersistent bool // configuration: true - when profiles are saved to disk

	Mode KillSwitchMode

	// connection ids of the blocking profiles currently applied
	ActiveProfiles []string
}

type HealthchecksTypeEnum int

const (
	HealthchecksType_Ping        HealthchecksTypeEnum = iota
	HealthchecksType_RestApiCall HealthchecksTypeEnum = iota
	HealthchecksType_Disabled    HealthchecksTypeEnum = iota

	HealthchecksTypeDefault = HealthchecksType_Ping
)

var (
	HealthcheckTypeNames = []string{"Ping", "RestApiCall", "Disabled"}

	HealthcheckTypesByName = map[string]HealthchecksTypeEnum{
		HealthcheckTypeNames[HealthchecksType_Ping]:        HealthchecksType_Ping,
		HealthcheckTypeNames[HealthchecksType_RestApiCall]: HealthchecksType_RestApiCall,
		HealthcheckTypeNames[HealthchecksType_Disabled]:    HealthchecksType_Disabled,
	}
)
