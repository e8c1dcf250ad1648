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

package tunnel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nimbusvpn/daemon/nmclient"
)

// Builder encodes ConnectionParams into a daemon connection profile for one
// VPN protocol. One implementation per protocol, selected by the registry.
type Builder interface {
	// Supports reports whether this builder can produce a profile for the
	// given protocol name.
	Supports(protocol string) bool
	// Priority orders registry lookups; lower values are preferred.
	Priority() int
	// Build produces the profile settings. The given id becomes the
	// profile UUID used for all later daemon-state correlation.
	Build(id string, params ConnectionParams) (nmclient.ConnectionSettings, error)
}

// ProtocolNotSupportedError - no registered builder accepts the requested
// protocol.
type ProtocolNotSupportedError struct {
	Protocol string
}

func (e *ProtocolNotSupportedError) Error() string {
	return fmt.Sprintf("connection protocol '%s' is not supported", e.Protocol)
}

var (
	buildersMutex sync.Mutex
	builders      []Builder
)

// RegisterBuilder adds a protocol builder to the registry. Called by the
// launcher during startup.
func RegisterBuilder(b Builder) {
	buildersMutex.Lock()
	defer buildersMutex.Unlock()
	builders = append(builders, b)
	sort.SliceStable(builders, func(i, j int) bool {
		return builders[i].Priority() < builders[j].Priority()
	})
}

func builderFor(protocol string) (Builder, error) {
	buildersMutex.Lock()
	defer buildersMutex.Unlock()
	for _, b := range builders {
		if b.Supports(protocol) {
			return b, nil
		}
	}
	return nil, &ProtocolNotSupportedError{Protocol: protocol}
}
