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

// RequestWithAuthorization - a request that may carry a bearer token for the
// Authorization header
type RequestWithAuthorization interface {
	// Returns "" if there is no authentication token in this request
	GetAuthenticationToken() string
}

type SessionTokenStruct struct {
	// bearer token for authorization; set on the http request, never serialized
	SessionToken string `json:"-"`
}

// SessionNewRequest request to create a new session
type SessionNewRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
}

func (req SessionNewRequest) GetAuthenticationToken() string {
	return ""
}

// SessionDeleteRequest request to delete a session
type SessionDeleteRequest struct {
	Session string `json:"session_token"`
}

func (req SessionDeleteRequest) GetAuthenticationToken() string {
	return req.Session
}

// CertificateNewRequest request to issue a client certificate for the
// session. The public key is a base64-encoded ed25519 key; the gateway agent
// expects the certificate issued for it during the mutual-TLS handshake.
type CertificateNewRequest struct {
	ClientPublicKey string `json:"client_public_key"`

	SessionTokenStruct
}

func (req CertificateNewRequest) GetAuthenticationToken() string {
	return req.SessionToken
}
