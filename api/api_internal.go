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

package api

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/nimbusvpn/daemon/api/types"
	"github.com/nimbusvpn/daemon/netinfo"
)

func getURL(host string, urlpath string) string {
	return "https://" + path.Join(host, urlpath)
}

func getURL_IPHost(ip net.IP, isIPv6 bool, urlpath string) string {
	if isIPv6 {
		return "https://" + path.Join("["+ip.String()+"]", urlpath)
	}
	return "https://" + path.Join(ip.String(), urlpath)
}

func newRequest(urlPath string, method string, contentType string, body io.Reader) (*http.Request, error) {
	if len(method) == 0 {
		method = "GET"
	}

	req, err := http.NewRequest(method, urlPath, body)
	if err != nil {
		return nil, err
	}

	if len(contentType) > 0 {
		req.Header.Add("Content-type", contentType)
	}

	return req, nil
}

func setAuthTokenIfPresent(clientReq types.RequestWithAuthorization, httpReq *http.Request) {
	if clientReq != nil && clientReq.GetAuthenticationToken() != "" {
		httpReq.Header.Set("Authorization", "Bearer "+clientReq.GetAuthenticationToken())
	}
}

func findPinnedKey(certHashes []string, certBase64hash256 string) bool {
	for _, hash := range certHashes {
		if hash == certBase64hash256 {
			return true
		}
	}
	return false
}

type dialer func(network, addr string) (net.Conn, error)

// makeDialer returns a TLS dialer that accepts the connection only when one
// of the peer certificates carries a pinned public key.
func makeDialer(certHashes []string, serverName string, dialTimeout time.Duration) dialer {
	if len(certHashes) == 0 {
		log.Warning("No pinned certificates for ", serverName)
		return nil
	}

	return func(network, addr string) (net.Conn, error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("PANIC (API request): ", r)
				if err, ok := r.(error); ok {
					log.ErrorTrace(err)
				}
			}
		}()

		tlsConfig := &tls.Config{
			// NOTE: Can't use SSLv3 because of POODLE and BEAST
			// NOTE: Can't use TLSv1.0 because of POODLE and BEAST using CBC cipher
			// NOTE: Can't use TLSv1.1 because of RC4 cipher usage
			MinVersion: tls.VersionTLS12,
			ServerName: serverName,
		}

		c, err := tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, network, addr, tlsConfig)
		if err != nil {
			return c, err
		}

		connstate := c.ConnectionState()
		var lastErr error
		for _, peercert := range connstate.PeerCertificates {
			der, err := x509.MarshalPKIXPublicKey(peercert.PublicKey)
			if err != nil {
				lastErr = err
				continue
			}

			hash := sha256.Sum256(der)
			if findPinnedKey(certHashes, base64.StdEncoding.EncodeToString(hash[:])) {
				return c, nil // pinned key found
			}
		}

		c.Close()
		if lastErr != nil {
			return nil, fmt.Errorf("certificate check error: pinned certificate key not found: %w", lastErr)
		}
		return nil, fmt.Errorf("certificate check error: pinned certificate key not found")
	}
}

func (a *API) doRequest(host string, urlPath string, method string, contentType string, request types.RequestWithAuthorization, timeoutMs int, timeoutDialMs int) ([]byte, *http.Response, error) {
	connectivityChecker := a.connectivityChecker
	if connectivityChecker != nil {
		if err := connectivityChecker.IsConnectivityBlocked(); err != nil {
			return nil, nil, err
		}
	}

	if len(host) != 0 && host != _apiHost {
		return nil, nil, fmt.Errorf("unknown host type")
	}

	// trying IPv4 first, falling back to IPv6 when the host has it
	body4, resp4, err4 := a.doRequestAPIHost(false, true, urlPath, method, contentType, request, timeoutMs, timeoutDialMs)
	if err4 == nil {
		return body4, resp4, nil
	}

	if _, errIPv6 := netinfo.GetOutboundIP(true); errIPv6 == nil && len(a.getAlternateIPs(true)) > 0 {
		log.Info("Failed to access API server using IPv4. Trying IPv6 ...")
		// DNS has been tried already, no sense to try it again
		body6, resp6, err6 := a.doRequestAPIHost(true, false, urlPath, method, contentType, request, timeoutMs, timeoutDialMs)
		if err6 == nil {
			return body6, resp6, nil
		}
	}

	return body4, resp4, err4
}

func (a *API) doRequestAPIHost(isIPv6 bool, isCanUseDNS bool, urlPath string, method string, contentType string, request types.RequestWithAuthorization, timeoutMs int, timeoutDialMs int) ([]byte, *http.Response, error) {
	// timeout time for the full request
	timeout := _defaultRequestTimeout
	if timeoutMs > 0 {
		timeout = time.Millisecond * time.Duration(timeoutMs)
	}
	// timeout for the dial
	timeoutDial := _defaultDialTimeout
	if timeoutDialMs > 0 {
		timeoutDial = time.Millisecond * time.Duration(timeoutDialMs)
	}
	if timeoutDial > timeout {
		timeoutDial = 0
	}

	// When accessing the API by alternate IPs (not by the DNS name), TLS has
	// to verify against the api host name. ServerName also keeps certificate
	// verification working when the request goes through a proxy server.
	transCfg := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: _apiHost,
		},

		// certificate key pinning
		DialTLS: makeDialer(APINimbusVPNHashes, _apiHost, timeoutDial),
	}
	client := &http.Client{Transport: transCfg, Timeout: timeout}

	data := []byte{}
	if request != nil {
		var err error
		data, err = json.Marshal(request)
		if err != nil {
			return nil, nil, err
		}
	}

	// each attempt needs its own body reader
	doAttempt := func(rawURL string) ([]byte, *http.Response, error) {
		req, err := newRequest(rawURL, method, contentType, bytes.NewReader(data))
		if err != nil {
			return nil, nil, err
		}
		setAuthTokenIfPresent(request, req)

		resp, err := client.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resp, err
		}
		return body, resp, nil
	}

	// access the API by the last good alternate IP (if known)
	lastGoodIP := a.GetLastGoodAlternateIP(isIPv6)
	if lastGoodIP != nil {
		body, resp, err := doAttempt(getURL_IPHost(lastGoodIP, isIPv6, urlPath))
		if err == nil {
			return body, resp, nil
		}
		log.Debug(fmt.Sprintf("Bad API response via %s: %v", lastGoodIP, err))
	}

	// try to access the API server by host DNS
	var firstErr error
	if isCanUseDNS {
		body, resp, err := doAttempt(getURL(_apiHost, urlPath))
		if err == nil {
			return body, resp, nil
		}
		firstErr = err
		log.Warning(fmt.Sprintf("Failed to access %s: %v", _apiHost, err))
	}

	// try to access the API server by the remaining alternate IPs
	isLogNotificationPrinted := false
	for _, ip := range a.getAlternateIPs(isIPv6) {
		if ip.Equal(lastGoodIP) {
			continue
		}

		if !isLogNotificationPrinted {
			isLogNotificationPrinted = true
			ipVerStr := ""
			if isIPv6 {
				ipVerStr = "(IPv6) "
			}
			log.Info(fmt.Sprintf("Trying to use alternate API IPs %s...", ipVerStr))
		}

		body, resp, err := doAttempt(getURL_IPHost(ip, isIPv6, urlPath))
		if err != nil {
			log.Debug(fmt.Sprintf("Bad API response via %s: %v", ip, err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		// save last good IP
		a.SetLastGoodAlternateIP(ip)
		log.Info("Success!")
		return body, resp, nil
	}

	if firstErr == nil {
		firstErr = fmt.Errorf("no API endpoints left to try")
	}
	return nil, nil, fmt.Errorf("unable to access the API server: %w", firstErr)
}

// unmarshalAPIErrorResponse parses the generic error envelope and attaches
// the HTTP status code to it
func unmarshalAPIErrorResponse(data []byte, httpResp *http.Response, apiErr *types.APIErrorResponse) error {
	if err := json.Unmarshal(data, apiErr); err != nil {
		return err
	}
	if httpResp != nil {
		apiErr.SetHttpStatusCode(httpResp.StatusCode)
	}
	return nil
}

func (a *API) requestRaw(host string, urlPath string, method string, contentType string, requestObject types.RequestWithAuthorization, timeoutMs int, timeoutDialMs int) ([]byte, *http.Response, error) {
	body, httpResp, err := a.doRequest(host, urlPath, method, contentType, requestObject, timeoutMs, timeoutDialMs)
	if err != nil {
		return nil, nil, fmt.Errorf("API request failed: %w", err)
	}
	return body, httpResp, nil
}

func (a *API) request(host string, urlPath string, method string, contentType string, requestObject types.RequestWithAuthorization, responseObject interface{}) error {
	return a.requestEx(host, urlPath, method, contentType, requestObject, responseObject, 0, 0)
}

func (a *API) requestEx(host string, urlPath string, method string, contentType string, requestObject types.RequestWithAuthorization, responseObject interface{}, timeoutMs int, timeoutDialMs int) error {
	body, httpResp, err := a.requestRaw(host, urlPath, method, contentType, requestObject, timeoutMs, timeoutDialMs)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, responseObject); err != nil {
		return fmt.Errorf("failed to deserialize API response: %w", err)
	}
	if resp, ok := responseObject.(types.APIResponse); ok && httpResp != nil {
		resp.SetHttpStatusCode(httpResp.StatusCode)
	}
	return nil
}
