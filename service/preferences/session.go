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

import "time"

// SessionStatus - the logged-in account state and the credentials obtained
// for it. Saved as part of the preferences, so the daemon can reconnect
// after a restart without the client re-authenticating.
type SessionStatus struct {
	AccountID  string
	Session    string // session token
	DeviceID   string
	DeviceName string

	OpenVPNUser string
	OpenVPNPass string

	WGPublicKey    string
	WGPrivateKey   string
	WGLocalIP      string
	WGKeyGenerated time.Time

	// client certificate for the gateway agent channel
	ClientCertificatePEM string
	ClientPrivateKeyPEM  string
}

// IsLoggedIn reports whether a session token is present.
func (s *SessionStatus) IsLoggedIn() bool {
	return len(s.Session) > 0
}

func (s *SessionStatus) updateWgCredentials(wgPublicKey string, wgPrivateKey string, wgLocalIP string) {
	s.WGPublicKey = wgPublicKey
	s.WGPrivateKey = wgPrivateKey
	s.WGLocalIP = wgLocalIP

	if len(wgPublicKey) == 0 || len(wgPrivateKey) == 0 {
		s.WGKeyGenerated = time.Time{}
	} else {
		s.WGKeyGenerated = time.Now()
	}
}

func (s *SessionStatus) updateClientCertificate(certPEM string, keyPEM string) {
	s.ClientCertificatePEM = certPEM
	s.ClientPrivateKeyPEM = keyPEM
}
