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

package agent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	// the agent always lives on the gateway side of the wireguard tunnel
	gatewayAddr    = "10.2.0.1:65432"
	connectTimeout = time.Second * 10
)

// CredentialsProvider returns the PEM-encoded client certificate and key
// used to authenticate against the gateway agent.
type CredentialsProvider interface {
	ClientCertificate() (certPEM, keyPEM []byte, err error)
}

// wire structures of the agent protocol (one JSON document per message)

type wireMessage struct {
	State  string     `json:"state"`
	Reason *Reason    `json:"reason,omitempty"`
	Error  *wireError `json:"error,omitempty"`
}

type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type wireFeaturesRequest struct {
	Features Features `json:"features"`
}

// TLSSession talks to the gateway agent over mutually authenticated TLS.
type TLSSession struct {
	domain string
	creds  CredentialsProvider
	rootCA *x509.CertPool

	mutex sync.Mutex
	conn  net.Conn
	enc   *json.Encoder
	dec   *json.Decoder
}

// NewTLSSession prepares a session for the agent behind the given server
// domain. rootCAPEM pins the CA the agent certificate must chain to.
func NewTLSSession(domain string, creds CredentialsProvider, rootCAPEM []byte) (*TLSSession, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rootCAPEM) {
		return nil, fmt.Errorf("failed to parse agent root CA certificate")
	}
	return &TLSSession{domain: domain, creds: creds, rootCA: pool}, nil
}

// Connect dials the agent. An expired client certificate is detected
// before dialing, so the caller can renew it instead of retrying.
func (s *TLSSession) Connect(ctx context.Context) error {
	certPEM, keyPEM, err := s.creds.ClientCertificate()
	if err != nil {
		return fmt.Errorf("failed to obtain client credentials: %w", err)
	}
	if err := checkCertificateValidity(certPEM); err != nil {
		return err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("failed to load client credentials: %w", err)
	}

	dialer := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: connectTimeout},
		Config: &tls.Config{
			RootCAs:      s.rootCA,
			Certificates: []tls.Certificate{cert},
			ServerName:   s.domain,
			MinVersion:   tls.VersionTLS12,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", gatewayAddr)
	if err != nil {
		return &Error{Message: fmt.Sprintf("agent connection to '%s' failed", s.domain), Err: err}
	}

	s.mutex.Lock()
	s.conn = conn
	s.enc = json.NewEncoder(conn)
	s.dec = json.NewDecoder(conn)
	s.mutex.Unlock()
	return nil
}

// RequestFeatures sends the desired connection features to the agent. The
// agent answers with a status message picked up by Receive.
func (s *TLSSession) RequestFeatures(f Features) error {
	s.mutex.Lock()
	enc := s.enc
	s.mutex.Unlock()

	if enc == nil {
		return fmt.Errorf("agent session is not connected")
	}
	if err := enc.Encode(wireFeaturesRequest{Features: f}); err != nil {
		return fmt.Errorf("failed to send features request: %w", err)
	}
	return nil
}

// Receive blocks until the agent sends the next message. Error messages
// come back as API error types, state messages as Status.
func (s *TLSSession) Receive() (Status, error) {
	s.mutex.Lock()
	dec := s.dec
	s.mutex.Unlock()

	if dec == nil {
		return Status{}, fmt.Errorf("agent session is not connected")
	}

	var msg wireMessage
	if err := dec.Decode(&msg); err != nil {
		return Status{}, err
	}
	if msg.Error != nil {
		return Status{}, apiErrorFromWire(msg.Error)
	}
	return Status{State: stateFromName(msg.State), Reason: msg.Reason}, nil
}

// Close shuts the connection down, unblocking a pending Receive. Safe to
// call more than once.
func (s *TLSSession) Close() error {
	s.mutex.Lock()
	conn := s.conn
	s.conn = nil
	s.enc = nil
	s.dec = nil
	s.mutex.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func stateFromName(name string) State {
	switch name {
	case "connected":
		return StateConnected
	case "hard-jailed":
		return StateHardJailed
	case "disconnected":
		return StateDisconnected
	default:
		return StateUnknown
	}
}

func apiErrorFromWire(wireErr *wireError) error {
	switch wireErr.Kind {
	case "policy":
		return &PolicyAPIError{Message: wireErr.Message}
	case "syntax":
		return &SyntaxAPIError{Message: wireErr.Message}
	default:
		return &APIError{Message: wireErr.Message}
	}
}

// checkCertificateValidity parses the leaf certificate and rejects it once
// past its NotAfter date.
func checkCertificateValidity(certPEM []byte) error {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("failed to decode client certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse client certificate: %w", err)
	}
	if time.Now().After(cert.NotAfter) {
		return &ExpiredCertificateError{Err: fmt.Errorf("client certificate expired on %s", cert.NotAfter.Format(time.RFC3339))}
	}
	return nil
}
