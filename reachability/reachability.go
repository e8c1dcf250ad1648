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

// Package reachability answers one question before a connect attempt: does
// any TCP port of the VPN server accept a connection at all.
package reachability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nimbusvpn/daemon/logger"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("reach")
}

// DefaultTimeout applies to each probe when Checker.Timeout is unset.
const DefaultTimeout = time.Second * 5

// sentinel that aborts the remaining probes through the errgroup context
var errReachable = errors.New("reachable")

// Checker probes VPN server ports over plain TCP.
type Checker struct {
	Timeout time.Duration
}

// IsPortReachable opens (and immediately closes) a TCP connection to
// ip:port. False on any dial error, including context cancellation.
func (c *Checker) IsPortReachable(ctx context.Context, ip net.IP, port int) bool {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		log.Debug(fmt.Sprintf("%s => %v", addr, err))
		return false
	}
	conn.Close()
	log.Debug(addr + " => reachable")
	return true
}

// IsAnyPortReachable probes all ports in parallel. The first successful
// probe wins and cancels the rest; all probes failing means false.
func (c *Checker) IsAnyPortReachable(ctx context.Context, ip net.IP, ports []int) bool {
	if len(ports) == 0 {
		return false
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, port := range ports {
		port := port
		group.Go(func() error {
			if c.IsPortReachable(groupCtx, ip, port) {
				return errReachable
			}
			return nil
		})
	}
	return errors.Is(group.Wait(), errReachable)
}
