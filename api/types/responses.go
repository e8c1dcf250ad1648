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

// The purpose of this interface is to allow copying http.Response.StatusCode to API response objects
type APIResponse interface {
	SetHttpStatusCode(newHttpStatusCode int)
}

// APIErrorResponse generic NimbusVPN API error envelope.
// Unmarshal it with the envelope helper, not with a bare json.Unmarshal(),
// so the HTTP status code gets attached.
type APIErrorResponse struct {
	Status  bool   `json:"status,omitempty"`
	Message string `json:"message,omitempty"` // text description of the error

	HttpStatusCode int // manually set by parsers
}

func (resp *APIErrorResponse) SetHttpStatusCode(newHttpStatusCode int) {
	resp.HttpStatusCode = newHttpStatusCode
}

// ServiceStatusAPIResp account info
type ServiceStatusAPIResp struct {
	Active              bool   `json:"is_active"`
	ActiveUntil         int64  `json:"active_until"`
	CurrentPlan         string `json:"current_plan"`
	DeviceManagementURL string `json:"device_management_url"` // applicable for 'session limit' error
	DeviceLimit         int    `json:"device_limit"`          // applicable for 'session limit' error

	HttpStatusCode int // manually set by parsers
}

func (resp *ServiceStatusAPIResp) SetHttpStatusCode(newHttpStatusCode int) {
	resp.HttpStatusCode = newHttpStatusCode
}

// SessionNewResponse information about the created session
type SessionNewResponse struct {
	APIErrorResponse
	Data struct {
		Token string `json:"token"`
		Email string `json:"email"`
		Name  string `json:"name"`
		ID    int    `json:"id"`
		UUID  string `json:"uuid,omitempty"`
	} `json:"data"`

	VpnUsername string `json:"vpn_username,omitempty"`
	VpnPassword string `json:"vpn_password,omitempty"`
	WireGuard   struct {
		IPAddress string `json:"ip_address,omitempty"`
	} `json:"wireguard,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
}

func (resp *SessionNewResponse) SetHttpStatusCode(newHttpStatusCode int) {
	resp.HttpStatusCode = newHttpStatusCode
}

// SessionNewErrorLimitResponse information about the session limit error
type SessionNewErrorLimitResponse struct {
	APIErrorResponse
	SessionLimitData ServiceStatusAPIResp `json:"data"`
}

func (resp *SessionNewErrorLimitResponse) SetHttpStatusCode(newHttpStatusCode int) {
	resp.HttpStatusCode = newHttpStatusCode
}

// CertificateNewResponse client certificate issued for the session
type CertificateNewResponse struct {
	APIErrorResponse
	Data struct {
		Certificate    string `json:"certificate"` // PEM
		ExpirationTime int64  `json:"expiration_time"`
		SerialNumber   string `json:"serial_number,omitempty"`
	} `json:"data"`
}

func (resp *CertificateNewResponse) SetHttpStatusCode(newHttpStatusCode int) {
	resp.HttpStatusCode = newHttpStatusCode
}
