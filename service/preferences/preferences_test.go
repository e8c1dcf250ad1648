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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvpn/daemon/service/types"
	"github.com/nimbusvpn/daemon/tunnel"
)

// usePrefsDir points the settings file into a fresh temp directory.
func usePrefsDir(t *testing.T) string {
	t.Helper()

	file := filepath.Join(t.TempDir(), "settings.json")
	orig := settingsFilePath
	settingsFilePath = func() string { return file }
	t.Cleanup(func() { settingsFilePath = orig })
	return file
}

func TestSaveLoadRoundTrip(t *testing.T) {
	file := usePrefsDir(t)

	p := Create()
	require.NoError(t, p.SetSession("a-ABCD-EFGH-JKLM", "token-1", "dev-id", "my laptop",
		"ovpn-user", "ovpn-pass", "wg-pub", "wg-priv", "10.2.0.7"))
	require.NoError(t, p.SetKillSwitchMode(types.KillSwitchModePermanent))
	require.NoError(t, p.SetLogging(true))
	require.NoError(t, p.SaveHandle(tunnel.ConnectionHandle{
		ID:            "0b60cf17-9a3c-4e5a-a52e-6a4f39aaf7f0",
		ProfileID:     "NimbusVPN FR#77",
		InterfaceName: "nvpn0",
		Kind:          tunnel.KindWireGuard,
	}))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.NoFileExists(t, file+".tmp", "the temporary file must not outlive a successful save")

	loaded := Create()
	require.NoError(t, loaded.LoadPreferences())

	assert.Equal(t, p.SettingsSessionUUID, loaded.SettingsSessionUUID)
	assert.True(t, loaded.IsLogging)
	assert.Equal(t, types.KillSwitchModePermanent, loaded.KillSwitchMode)
	assert.Equal(t, "a-ABCD-EFGH-JKLM", loaded.Session.AccountID)
	assert.Equal(t, "token-1", loaded.Session.Session)
	assert.True(t, loaded.Session.IsLoggedIn())
	assert.Equal(t, "wg-priv", loaded.Session.WGPrivateKey)
	assert.WithinDuration(t, p.Session.WGKeyGenerated, loaded.Session.WGKeyGenerated, time.Second)

	handle, found := loaded.LoadHandle()
	require.True(t, found)
	assert.Equal(t, "0b60cf17-9a3c-4e5a-a52e-6a4f39aaf7f0", handle.ID)
	assert.Equal(t, "nvpn0", handle.InterfaceName)
	assert.Equal(t, tunnel.KindWireGuard, handle.Kind)
}

func TestRecoveryFromTemporaryFile(t *testing.T) {
	file := usePrefsDir(t)

	p := Create()
	require.NoError(t, p.SetLogging(true))

	// simulate a crash mid-save: the settings file is garbage, the
	// temporary copy holds the data
	valid, err := os.ReadFile(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file+".tmp", valid, 0600))
	require.NoError(t, os.WriteFile(file, []byte("{\"IsLogging\": tru"), 0600))

	loaded := Create()
	require.NoError(t, loaded.LoadPreferences())
	assert.True(t, loaded.IsLogging)
	assert.Equal(t, p.SettingsSessionUUID, loaded.SettingsSessionUUID)
}

func TestCorruptedFileWithoutTemporaryCopy(t *testing.T) {
	file := usePrefsDir(t)
	require.NoError(t, os.WriteFile(file, []byte("not json"), 0600))

	assert.Error(t, Create().LoadPreferences())
}

func TestLoadMissingFile(t *testing.T) {
	usePrefsDir(t)
	assert.Error(t, Create().LoadPreferences())
}

func TestClearHandle(t *testing.T) {
	usePrefsDir(t)

	p := Create()
	require.NoError(t, p.SaveHandle(tunnel.ConnectionHandle{ID: "x", Kind: tunnel.KindVPN}))
	require.NoError(t, p.ClearHandle())

	_, found := p.LoadHandle()
	assert.False(t, found)

	loaded := Create()
	require.NoError(t, loaded.LoadPreferences())
	_, found = loaded.LoadHandle()
	assert.False(t, found, "a cleared handle must stay cleared across a restart")
}

func TestClearSession(t *testing.T) {
	usePrefsDir(t)

	p := Create()
	require.NoError(t, p.SetSession("acct", "token", "", "", "", "", "pub", "priv", "ip"))
	require.NoError(t, p.ClearSession())

	loaded := Create()
	require.NoError(t, loaded.LoadPreferences())
	assert.False(t, loaded.Session.IsLoggedIn())
	assert.Empty(t, loaded.Session.WGPrivateKey)
	assert.True(t, loaded.Session.WGKeyGenerated.IsZero())
}

func TestKillSwitchModeValidation(t *testing.T) {
	usePrefsDir(t)

	p := Create()
	assert.Error(t, p.SetKillSwitchMode(types.KillSwitchMode("sideways")))
	assert.Equal(t, types.KillSwitchModeOff, p.KillSwitchMode)
}

func TestLoadSanitizesUnknownMode(t *testing.T) {
	file := usePrefsDir(t)
	require.NoError(t, os.WriteFile(file, []byte(`{"KillSwitchMode":"sideways"}`), 0600))

	p := Create()
	require.NoError(t, p.LoadPreferences())
	assert.Equal(t, types.KillSwitchModeOff, p.KillSwitchMode)
	assert.NotEmpty(t, p.SettingsSessionUUID)
}

func TestUpdateClientCertificate(t *testing.T) {
	usePrefsDir(t)

	p := Create()
	require.NoError(t, p.UpdateClientCertificate("CERT-PEM", "KEY-PEM"))

	loaded := Create()
	require.NoError(t, loaded.LoadPreferences())
	assert.Equal(t, "CERT-PEM", loaded.Session.ClientCertificatePEM)
	assert.Equal(t, "KEY-PEM", loaded.Session.ClientPrivateKeyPEM)
}

func TestWatcherReloadsExternalChange(t *testing.T) {
	file := usePrefsDir(t)

	origDebounce := watcherDebounce
	watcherDebounce = time.Millisecond * 10
	t.Cleanup(func() { watcherDebounce = origDebounce })

	p := Create()
	require.NoError(t, p.SavePreferences())

	reloaded := make(chan struct{}, 8)
	require.NoError(t, p.StartSettingsWatcher(func() { reloaded <- struct{}{} }))
	t.Cleanup(p.StopSettingsWatcher)

	// an external tool rewrites the settings
	external := Create()
	external.IsLogging = true
	external.SettingsSessionUUID = p.SettingsSessionUUID
	data, err := json.Marshal(external)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, data, 0600))

	select {
	case <-reloaded:
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for the settings reload")
	}
	assert.True(t, p.IsLogging)
}

func TestWatcherIgnoresOwnSaves(t *testing.T) {
	usePrefsDir(t)

	origDebounce := watcherDebounce
	watcherDebounce = time.Millisecond * 10
	t.Cleanup(func() { watcherDebounce = origDebounce })

	p := Create()
	require.NoError(t, p.SavePreferences())

	reloaded := make(chan struct{}, 8)
	require.NoError(t, p.StartSettingsWatcher(func() { reloaded <- struct{}{} }))
	t.Cleanup(p.StopSettingsWatcher)

	require.NoError(t, p.SetLogging(true))

	select {
	case <-reloaded:
		t.Fatal("the watcher must not react to the daemon's own save")
	case <-time.After(time.Millisecond * 300):
	}
}

func TestWatcherRunsOnce(t *testing.T) {
	usePrefsDir(t)

	p := Create()
	require.NoError(t, p.SavePreferences())
	require.NoError(t, p.StartSettingsWatcher(nil))
	t.Cleanup(p.StopSettingsWatcher)

	assert.Error(t, p.StartSettingsWatcher(nil))
}
