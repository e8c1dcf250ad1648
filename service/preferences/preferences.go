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

package preferences

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusvpn/daemon/helpers"
	"github.com/nimbusvpn/daemon/logger"
	"github.com/nimbusvpn/daemon/service/platform"
	"github.com/nimbusvpn/daemon/service/types"
	"github.com/nimbusvpn/daemon/tunnel"
	"github.com/nimbusvpn/daemon/version"
)

var log *logger.Logger
var mutexRW sync.RWMutex

func init() {
	log = logger.NewLogger("prefs")
}

// replaced in tests
var settingsFilePath = platform.SettingsFile

// Preferences - the daemon's mutable state. One instance lives for the
// daemon's lifetime; every mutation is written back to the settings file.
type Preferences struct {
	// The daemon version that saved this data.
	// Can be used to determine the format version on the first start after an upgrade.
	Version string
	// SettingsSessionUUID is unique for the Preferences object.
	// It allows detecting situations when the settings were erased
	// (a new Preferences object was created).
	SettingsSessionUUID string

	IsLogging        bool
	KillSwitchMode   types.KillSwitchMode
	HealthchecksType types.HealthchecksTypeEnum

	// the last connection, kept for initial-state determination after a
	// daemon restart
	LastConnectionParams *types.ConnectionParams
	LastConnectionHandle *tunnel.ConnectionHandle

	Session SessionStatus

	// JSON content of the last successful save; the settings watcher uses
	// it to tell our own writes from external modifications
	lastSaved []byte
	// settings watcher lifetime
	watcherDone chan struct{}
}

// Create returns preferences with the default values.
func Create() *Preferences {
	return &Preferences{
		SettingsSessionUUID: uuid.New().String(),
		KillSwitchMode:      types.KillSwitchModeOff,
		HealthchecksType:    types.HealthchecksTypeDefault,
	}
}

// SetSession saves the account credentials. An empty accountID or session
// wipes the stored session.
func (p *Preferences) SetSession(accountID string,
	session string,
	deviceID string,
	deviceName string,
	vpnUser string,
	vpnPass string,
	wgPublicKey string,
	wgPrivateKey string,
	wgLocalIP string) error {

	p.Session = SessionStatus{
		AccountID:   strings.TrimSpace(accountID),
		Session:     strings.TrimSpace(session),
		DeviceID:    deviceID,
		DeviceName:  strings.TrimSpace(deviceName),
		OpenVPNUser: strings.TrimSpace(vpnUser),
		OpenVPNPass: strings.TrimSpace(vpnPass),
	}
	p.Session.updateWgCredentials(wgPublicKey, wgPrivateKey, wgLocalIP)

	return p.SavePreferences()
}

// ClearSession wipes the session and all credentials obtained for it.
func (p *Preferences) ClearSession() error {
	p.Session = SessionStatus{}
	return p.SavePreferences()
}

// UpdateWgCredentials saves fresh wireguard credentials.
func (p *Preferences) UpdateWgCredentials(wgPublicKey string, wgPrivateKey string, wgLocalIP string) error {
	p.Session.updateWgCredentials(wgPublicKey, wgPrivateKey, wgLocalIP)
	return p.SavePreferences()
}

// UpdateClientCertificate saves a fresh client certificate for the gateway
// agent channel.
func (p *Preferences) UpdateClientCertificate(certPEM string, keyPEM string) error {
	p.Session.updateClientCertificate(certPEM, keyPEM)
	return p.SavePreferences()
}

// SetKillSwitchMode persists the blocking policy.
func (p *Preferences) SetKillSwitchMode(mode types.KillSwitchMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("unknown kill switch mode '%s'", mode)
	}
	p.KillSwitchMode = mode
	return p.SavePreferences()
}

// SetHealthchecksType persists the connectivity healthchecks flavor.
func (p *Preferences) SetHealthchecksType(t types.HealthchecksTypeEnum) error {
	p.HealthchecksType = t
	return p.SavePreferences()
}

// SetLastConnectionParams persists the last connection request, so a
// connection surviving a daemon restart can be resumed with the same
// server.
func (p *Preferences) SetLastConnectionParams(params types.ConnectionParams) error {
	p.LastConnectionParams = &params
	return p.SavePreferences()
}

// GetLastConnectionParams returns the persisted connection request.
func (p *Preferences) GetLastConnectionParams() (types.ConnectionParams, bool) {
	mutexRW.RLock()
	defer mutexRW.RUnlock()
	if p.LastConnectionParams == nil {
		return types.ConnectionParams{}, false
	}
	return *p.LastConnectionParams, true
}

// SetLogging persists the logging flag.
func (p *Preferences) SetLogging(enabled bool) error {
	p.IsLogging = enabled
	return p.SavePreferences()
}

// SaveHandle persists the connection handle (tunnel.HandleStore).
func (p *Preferences) SaveHandle(h tunnel.ConnectionHandle) error {
	p.LastConnectionHandle = &h
	return p.SavePreferences()
}

// LoadHandle returns the persisted connection handle (tunnel.HandleStore).
func (p *Preferences) LoadHandle() (tunnel.ConnectionHandle, bool) {
	mutexRW.RLock()
	defer mutexRW.RUnlock()
	if p.LastConnectionHandle == nil {
		return tunnel.ConnectionHandle{}, false
	}
	return *p.LastConnectionHandle, true
}

// ClearHandle forgets the persisted connection handle (tunnel.HandleStore).
func (p *Preferences) ClearHandle() error {
	p.LastConnectionHandle = nil
	return p.SavePreferences()
}

func (p *Preferences) getTempFilePath() string {
	return settingsFilePath() + ".tmp"
}

// SavePreferences saves preferences
func (p *Preferences) SavePreferences() error {
	mutexRW.Lock()
	defer mutexRW.Unlock()

	p.Version = version.Version()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to save preferences file (json marshal error): %w", err)
	}

	settingsFile := settingsFilePath()
	settingsFileMode := os.FileMode(0600) // read\write only for privileged user

	// The settings go to a temporary file first. This prevents data loss
	// when a power failure or a crash interrupts the write: if the settings
	// file ends up corrupted, the daemon restores it from the temporary file.
	settingsFileTmp := p.getTempFilePath()
	if err := helpers.WriteFile(settingsFileTmp, data, settingsFileMode); err != nil {
		return err
	}

	if err := helpers.WriteFile(settingsFile, data, settingsFileMode); err != nil {
		return err
	}

	// Remove temp file after successful saving
	os.Remove(settingsFileTmp)

	p.lastSaved = data

	return nil
}

// LoadPreferences loads preferences. A settings file that cannot be parsed
// is restored from the temporary copy of an interrupted save, if one exists.
func (p *Preferences) LoadPreferences() error {
	mutexRW.Lock()
	defer mutexRW.Unlock()
	return p.loadLocked()
}

func (p *Preferences) loadLocked() error {
	funcReadPreferences := func(filePath string) (data []byte, err error) {
		data, err = os.ReadFile(filePath)
		if err != nil {
			return data, fmt.Errorf("failed to read preferences file: %w", err)
		}

		if err = json.Unmarshal(data, p); err != nil {
			return data, fmt.Errorf("error unmarshaling preferences file: %w", err)
		}
		return data, nil
	}

	data, err := funcReadPreferences(settingsFilePath())
	if err != nil {
		log.Error(err)
		// Try to read from temp file, if exists (this is necessary to prevent data loss in case of a power failure)
		var errTmp error
		if data, errTmp = funcReadPreferences(p.getTempFilePath()); errTmp != nil {
			return err // return original error
		}
		log.Info("Preferences file was restored from temporary file")
	}
	p.lastSaved = data

	if !helpers.IsAGuidString(p.SettingsSessionUUID) {
		p.SettingsSessionUUID = uuid.New().String()
	}
	if !p.KillSwitchMode.IsValid() {
		p.KillSwitchMode = types.KillSwitchModeOff
	}

	// init WG properties
	if len(p.Session.WGPublicKey) == 0 || len(p.Session.WGPrivateKey) == 0 || len(p.Session.WGLocalIP) == 0 {
		p.Session.WGKeyGenerated = time.Time{}
	}

	return nil
}

// reloadIfChangedExternally re-reads the settings file unless its content
// matches what the daemon itself saved last. Reports whether a reload
// happened.
func (p *Preferences) reloadIfChangedExternally() (bool, error) {
	mutexRW.Lock()
	defer mutexRW.Unlock()

	data, err := os.ReadFile(settingsFilePath())
	if err == nil && bytes.Equal(data, p.lastSaved) {
		return false, nil
	}

	if err := p.loadLocked(); err != nil {
		return false, err
	}
	return true, nil
}
