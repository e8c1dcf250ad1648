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

// Package api talks to the NimbusVPN REST API: session registration and
// removal, and client certificate issuance for the gateway agent. Requests
// go to the API host by DNS with a fallback over the published alternate
// IP addresses; TLS is verified against pinned public keys.
package api

import (
	"encoding/json"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/nimbusvpn/daemon/api/types"
	"github.com/nimbusvpn/daemon/logger"
)

const (
	_defaultRequestTimeout = time.Second * 10 // full request time (for each request)
	_defaultDialTimeout    = time.Second * 5  // time for the dial to the API server (for each request)
	_apiHost               = "api.nimbusvpn.net"

	_sessionNewPath     = "/v1/user/login"
	_sessionDeletePath  = "/v1/user/logout"
	_certificateNewPath = "/v1/session/client-certificate"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("api")
}

// IConnectivityInfo information about connectivity
type IConnectivityInfo interface {
	// IsConnectivityBlocked - returns nil if connectivity NOT blocked
	IsConnectivityBlocked() (err error)
}

// API contains data about the NimbusVPN API servers
type API struct {
	mutex                 sync.Mutex
	alternateIPsV4        []net.IP
	lastGoodAlternateIPv4 net.IP
	alternateIPsV6        []net.IP
	lastGoodAlternateIPv6 net.IP
	connectivityChecker   IConnectivityInfo
}

// CreateAPI creates new API object
func CreateAPI() (*API, error) {
	return &API{}, nil
}

func (a *API) SetConnectivityChecker(connectivityChecker IConnectivityInfo) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.connectivityChecker = connectivityChecker
}

// IsAlternateIPsInitialized - checks if the alternate IP list was initialized
func (a *API) IsAlternateIPsInitialized(IPv6 bool) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if IPv6 {
		return len(a.alternateIPsV6) > 0
	}
	return len(a.alternateIPsV4) > 0
}

// GetLastGoodAlternateIP - the alternate IP of the last successful request
func (a *API) GetLastGoodAlternateIP(IPv6 bool) net.IP {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.lastGoodAlternateIP(IPv6)
}

func (a *API) lastGoodAlternateIP(IPv6 bool) net.IP {
	if IPv6 {
		if a.lastGoodAlternateIPv6.To4() != nil {
			return nil // something wrong here: lastGoodAlternateIPv6 must be an IPv6 address
		}
		return a.lastGoodAlternateIPv6
	}
	return a.lastGoodAlternateIPv4.To4()
}

// SetLastGoodAlternateIP - save last good alternate IP address of the API server.
// It keeps IPv4 and IPv6 addresses separately.
func (a *API) SetLastGoodAlternateIP(ip net.IP) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if ip.To4() == nil {
		a.lastGoodAlternateIPv6 = ip
		return
	}
	a.lastGoodAlternateIPv4 = ip
}

func (a *API) getAlternateIPs(IPv6 bool) []net.IP {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if IPv6 {
		return a.alternateIPsV6
	}
	return a.alternateIPsV4
}

// SetAlternateIPs save info about alternate API server IP addresses
func (a *API) SetAlternateIPs(IPv4List []string, IPv6List []string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.doSetAlternateIPs(false, IPv4List)
	a.doSetAlternateIPs(true, IPv6List)
	return nil
}

func (a *API) doSetAlternateIPs(IPv6 bool, IPs []string) {
	if len(IPs) == 0 {
		log.Warning("Unable to set alternate API IP list. List is empty")
	}

	lastGoodIP := a.lastGoodAlternateIP(IPv6)

	ipList := make([]net.IP, 0, len(IPs))

	isLastIPExists := false
	for _, ipStr := range IPs {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}

		ipList = append(ipList, ip)

		if ip.Equal(lastGoodIP) {
			isLastIPExists = true
		}
	}

	// the last good IP is only meaningful while it stays in the published list
	if !isLastIPExists {
		if IPv6 {
			a.lastGoodAlternateIPv6 = nil
		} else {
			a.lastGoodAlternateIPv4 = nil
		}
	}

	if IPv6 {
		a.alternateIPsV6 = ipList
	} else {
		a.alternateIPsV4 = ipList
	}
}

// SessionNew - try to register new session
func (a *API) SessionNew(email string, password string, deviceID string, deviceName string) (
	*types.SessionNewResponse,
	*types.SessionNewErrorLimitResponse,
	*types.APIErrorResponse,
	string, // RAW response
	error) {

	var successResp types.SessionNewResponse
	var errorLimitResp types.SessionNewErrorLimitResponse
	var apiErr types.APIErrorResponse

	rawResponse := ""

	request := &types.SessionNewRequest{
		Email:      email,
		Password:   password,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Platform:   runtime.GOOS,
	}

	data, httpResp, err := a.requestRaw(_apiHost, _sessionNewPath, "POST", "application/json", request, 0, 0)
	if err != nil {
		return nil, nil, nil, rawResponse, err
	}

	rawResponse = string(data)

	// check is it API error
	if err := unmarshalAPIErrorResponse(data, httpResp, &apiErr); err != nil {
		return nil, nil, nil, rawResponse, fmt.Errorf("failed to deserialize API response: %w", err)
	}

	// success
	if apiErr.HttpStatusCode == types.CodeSuccess {
		err := json.Unmarshal(data, &successResp)
		successResp.SetHttpStatusCode(apiErr.HttpStatusCode)
		if err != nil {
			return nil, nil, &apiErr, rawResponse, fmt.Errorf("failed to deserialize API response: %w", err)
		}

		return &successResp, nil, &apiErr, rawResponse, nil
	}

	// session limit check
	if apiErr.HttpStatusCode == types.CodeSessionsLimitReached {
		err := json.Unmarshal(data, &errorLimitResp)
		errorLimitResp.SetHttpStatusCode(apiErr.HttpStatusCode)
		if err != nil {
			return nil, nil, &apiErr, rawResponse, fmt.Errorf("failed to deserialize API response: %w", err)
		}
		return nil, &errorLimitResp, &apiErr, rawResponse, types.CreateAPIError(apiErr.HttpStatusCode, apiErr.Message)
	}

	return nil, nil, &apiErr, rawResponse, types.CreateAPIError(apiErr.HttpStatusCode, apiErr.Message)
}

// SessionDelete - remove session
func (a *API) SessionDelete(session string) error {
	request := &types.SessionDeleteRequest{Session: session}
	resp := &types.APIErrorResponse{}
	if err := a.request(_apiHost, _sessionDeletePath, "DELETE", "application/json", request, resp); err != nil {
		return err
	}
	if resp.HttpStatusCode != types.CodeSuccess {
		return types.CreateAPIError(resp.HttpStatusCode, resp.Message)
	}
	return nil
}

// CertificateNew - issue a client certificate for the session.
// clientPublicKey is the base64-encoded ed25519 public key the certificate
// must be bound to.
func (a *API) CertificateNew(session string, clientPublicKey string) (*types.CertificateNewResponse, error) {
	request := &types.CertificateNewRequest{
		ClientPublicKey:    clientPublicKey,
		SessionTokenStruct: types.SessionTokenStruct{SessionToken: session},
	}

	resp := &types.CertificateNewResponse{}
	data, httpResp, err := a.requestRaw(_apiHost, _certificateNewPath, "POST", "application/json", request, 0, 0)
	if err != nil {
		return nil, err
	}

	if err := unmarshalAPIErrorResponse(data, httpResp, &resp.APIErrorResponse); err != nil {
		return nil, fmt.Errorf("failed to deserialize API response: %w", err)
	}
	if resp.HttpStatusCode != types.CodeSuccess {
		return nil, types.CreateAPIError(resp.HttpStatusCode, resp.Message)
	}

	if err := json.Unmarshal(data, resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize API response: %w", err)
	}
	if resp.Data.Certificate == "" {
		return nil, fmt.Errorf("API returned an empty client certificate")
	}
	return resp, nil
}
