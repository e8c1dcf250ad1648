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
	"errors"
	"fmt"
)

// Error - generic control channel failure (connect, read, protocol).
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ExpiredCertificateError - the client certificate has expired.
type ExpiredCertificateError struct {
	Err error
}

func (e *ExpiredCertificateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client certificate expired: %v", e.Err)
	}
	return "client certificate expired"
}

func (e *ExpiredCertificateError) Unwrap() error { return e.Err }

// APIError - the gateway rejected a control request.
type APIError struct {
	Message string
}

func (e *APIError) Error() string { return e.Message }

// PolicyAPIError - the gateway rejected a request by policy.
type PolicyAPIError struct {
	Message string
}

func (e *PolicyAPIError) Error() string { return e.Message }

// SyntaxAPIError - the gateway could not parse a request.
type SyntaxAPIError struct {
	Message string
}

func (e *SyntaxAPIError) Error() string { return e.Message }

// IsAPIError reports whether err is one of the gateway API rejection types.
// API errors do not terminate the agent session.
func IsAPIError(err error) bool {
	var apiErr *APIError
	var policyErr *PolicyAPIError
	var syntaxErr *SyntaxAPIError
	return errors.As(err, &apiErr) || errors.As(err, &policyErr) || errors.As(err, &syntaxErr)
}

// FeatureError - a feature request failed on an active connection.
type FeatureError struct {
	Err error
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("feature request failed: %v", e.Err)
}

func (e *FeatureError) Unwrap() error { return e.Err }

// FeaturePolicyError - the gateway rejected a feature request by policy.
type FeaturePolicyError struct {
	Err error
}

func (e *FeaturePolicyError) Error() string {
	return fmt.Sprintf("feature request rejected by gateway policy: %v", e.Err)
}

func (e *FeaturePolicyError) Unwrap() error { return e.Err }

// FeatureSyntaxError - the gateway could not parse a feature request.
type FeatureSyntaxError struct {
	Err error
}

func (e *FeatureSyntaxError) Error() string {
	return fmt.Sprintf("malformed feature request: %v", e.Err)
}

func (e *FeatureSyntaxError) Unwrap() error { return e.Err }

// wrapFeatureError classifies a gateway API error into its user-facing
// feature error form.
func wrapFeatureError(err error) error {
	var policyErr *PolicyAPIError
	var syntaxErr *SyntaxAPIError
	switch {
	case errors.As(err, &policyErr):
		return &FeaturePolicyError{Err: err}
	case errors.As(err, &syntaxErr):
		return &FeatureSyntaxError{Err: err}
	default:
		return &FeatureError{Err: err}
	}
}
