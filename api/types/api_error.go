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

import "fmt"

// Status codes returned by the API (in the HTTP status line)
const (
	CodeSuccess              int = 200
	CodeSessionNotFound      int = 601
	CodeSessionsLimitReached int = 602
)

// APIError - the API returned a non-success status
type APIError struct {
	ErrorCode int
	Message   string
}

// CreateAPIError creates new API error object
func CreateAPIError(errorCode int, message string) APIError {
	return APIError{
		ErrorCode: errorCode,
		Message:   message,
	}
}

func (e APIError) Error() string {
	return fmt.Sprintf("API error: [%d] %s", e.ErrorCode, e.Message)
}
