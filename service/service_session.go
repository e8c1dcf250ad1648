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

package service

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/nimbusvpn/daemon/helpers"
	"github.com/nimbusvpn/daemon/tunnel"
)

// SessionNew creates a new session on the backend and stores the obtained
// credentials. The wireguard keypair is generated locally, the private key
// never leaves this machine. A successful login also requests the client
// certificate for the gateway control channel.
//
// apiCode is 0 when the request never reached the API.
func (s *Service) SessionNew(emailOrAcctID string, password string, deviceName string, stableDeviceID bool) (
	apiCode int,
	apiErrorMsg string,
	rawResponse string,
	err error) {

	emailOrAcctID = strings.TrimSpace(emailOrAcctID)
	if len(emailOrAcctID) == 0 {
		return 0, "", "", fmt.Errorf("account email or ID is not defined")
	}
	// anything without '@' has to be an account ID
	if !strings.Contains(emailOrAcctID, "@") && !helpers.IsAValidAccountID(emailOrAcctID) {
		return 0, "", "", fmt.Errorf("'%s' is not a valid account ID", emailOrAcctID)
	}

	// delete the current session (if there is one)
	if err := s.SessionDelete(true); err != nil {
		log.Error("Creating new session -> Failed to delete active session: ", err)
	}

	deviceID := s.deviceID(stableDeviceID)
	if len(deviceName) == 0 {
		if hostname, err := os.Hostname(); err == nil {
			deviceName = hostname
		}
	}

	log.Info("Logging in...")
	successResp, errorLimitResp, apiErr, rawResponse, err := s._api.SessionNew(emailOrAcctID, password, deviceID, deviceName)

	if apiErr != nil {
		apiCode = apiErr.HttpStatusCode
		apiErrorMsg = apiErr.Message
	}

	if err != nil {
		log.Info("Logging in - FAILED: ", err)
		if errorLimitResp != nil {
			// no session was created; the limit details ride in the raw
			// response for the client to act on
			log.Info(fmt.Sprintf("Session limit reached (device limit %d)", errorLimitResp.SessionLimitData.DeviceLimit))
		}
		return apiCode, apiErrorMsg, rawResponse, err
	}
	if successResp == nil || len(successResp.Data.Token) == 0 {
		return apiCode, apiErrorMsg, rawResponse, fmt.Errorf("API returned no session token")
	}

	accountID := successResp.Data.Email
	if len(accountID) == 0 {
		accountID = emailOrAcctID
	}

	wgPublicKey, wgPrivateKey := "", ""
	if key, err := wgtypes.GeneratePrivateKey(); err != nil {
		// openvpn still works; wireguard connects will fail until keys exist
		log.Error("Failed to generate wireguard keys: ", err)
	} else {
		wgPublicKey = key.PublicKey().String()
		wgPrivateKey = key.String()
	}

	if err := s._preferences.SetSession(accountID,
		successResp.Data.Token,
		deviceID,
		deviceName,
		successResp.VpnUsername,
		successResp.VpnPassword,
		wgPublicKey,
		wgPrivateKey,
		successResp.WireGuard.IPAddress); err != nil {
		return apiCode, apiErrorMsg, rawResponse, fmt.Errorf("failed to store session: %w", err)
	}

	log.Info("Logging in - SUCCESS")

	// the gateway control channel refuses connections without a client
	// certificate; a failure here is retried on the next connect
	if err := s.renewClientCertificate(); err != nil {
		log.Warning("failed to obtain a client certificate: ", err)
	}

	s._evtReceiver.OnServiceSessionChanged()
	return apiCode, apiErrorMsg, rawResponse, nil
}

// SessionDelete removes the current session: stops an active connection,
// removes the persisted connection profile and deletes the session on the
// backend. isCanDeleteSessionLocally - wipe the local session data even
// when the backend delete fails (forced logout).
func (s *Service) SessionDelete(isCanDeleteSessionLocally bool) error {
	if err := s.disconnect(); err != nil {
		log.Error("Failed to stop the active connection: ", err)
	}

	// the persisted profile is useless without the session
	s.removeTunnelPersistence()

	session := s.Preferences().Session
	if session.IsLoggedIn() {
		log.Info("Logging out")
		if err := s._api.SessionDelete(session.Session); err != nil {
			log.Warning("failed to delete session on the backend: ", err)
			if !isCanDeleteSessionLocally {
				return err
			}
		}
	}

	if err := s._preferences.ClearSession(); err != nil {
		return fmt.Errorf("failed to wipe session data: %w", err)
	}

	s._evtReceiver.OnServiceSessionChanged()
	return nil
}

// removeTunnelPersistence removes the persisted connection profile from the
// network daemon, through the live tunnel when one exists.
func (s *Service) removeTunnelPersistence() {
	tun := s.getTunnel()
	if tun == nil {
		handle, found := s._preferences.LoadHandle()
		if !found {
			return
		}
		protocol := tunnel.ProtocolWireGuard
		if handle.Kind == tunnel.KindVPN {
			protocol = tunnel.ProtocolOpenVPN
		}
		params := tunnel.ConnectionParams{Settings: tunnel.Settings{Protocol: protocol}}
		temp, err := tunnel.NewTunnel(s._nmClient, s._reachabilityChecker, s._preferences, params)
		if err != nil {
			log.Error("failed to remove the persisted connection profile: ", err)
			return
		}
		defer temp.Close()
		tun = temp
	}

	if err := tun.RemovePersistence(); err != nil {
		log.Warning("failed to remove the persisted connection profile: ", err)
	}
}

// deviceID returns the identifier the session is registered under: the
// hashed machine id when the client asked for a stable one, a random
// identifier otherwise.
func (s *Service) deviceID(stableDeviceID bool) string {
	if stableDeviceID {
		if id, err := helpers.StableMachineID(); err == nil {
			return id
		}
		log.Warning("failed to get a stable machine id, falling back to a random device id")
	}
	return uuid.New().String()
}

// renewClientCertificate generates a fresh ed25519 keypair, asks the API
// for a client certificate bound to it and stores both.
func (s *Service) renewClientCertificate() error {
	session := s.Preferences().Session
	if !session.IsLoggedIn() {
		return fmt.Errorf("not logged in")
	}

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate a certificate key: %w", err)
	}

	resp, err := s._api.CertificateNew(session.Session, base64.StdEncoding.EncodeToString(publicKey))
	if err != nil {
		return fmt.Errorf("certificate request failed: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to serialize the certificate key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := s._preferences.UpdateClientCertificate(resp.Data.Certificate, string(keyPEM)); err != nil {
		return fmt.Errorf("failed to store the client certificate: %w", err)
	}

	log.Info("Obtained a client certificate, valid until ", time.Unix(resp.Data.ExpirationTime, 0).Format(time.RFC3339))
	return nil
}

// ClientCertificate returns the stored client certificate and key for the
// gateway control channel, requesting a fresh pair when none is stored.
func (s *Service) ClientCertificate() (certPEM, keyPEM []byte, err error) {
	session := s.Preferences().Session
	if len(session.ClientCertificatePEM) == 0 || len(session.ClientPrivateKeyPEM) == 0 {
		if err := s.renewClientCertificate(); err != nil {
			return nil, nil, err
		}
		session = s.Preferences().Session
	}
	return []byte(session.ClientCertificatePEM), []byte(session.ClientPrivateKeyPEM), nil
}
