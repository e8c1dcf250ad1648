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

package service

import (
	"context"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/nimbusvpn/daemon/helpers"
	"github.com/nimbusvpn/daemon/service/killswitch"
	"github.com/nimbusvpn/daemon/service/types"
	"github.com/nimbusvpn/daemon/tunnel"
	"github.com/nimbusvpn/daemon/tunnel/events"
)

// the gateway inside the tunnel; the agent endpoint lives on the same host
const (
	_healthcheckGatewayHost = "10.2.0.1"
	_healthcheckAgentPort   = 65432
	_healthcheckTimeout     = time.Second * 3
)

type BackendConnectivityCheckState int

const (
	PHASE0_CLEAN         BackendConnectivityCheckState = iota
	PHASE1_TRY_RECONNECT BackendConnectivityCheckState = iota
)

// replaced in tests
var pingGateway = func(host string, timeout time.Duration) (received bool, err error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(true) // the daemon runs as root, raw ICMP sockets are available

	if err := pinger.Run(); err != nil {
		return false, fmt.Errorf("ping error: %w", err)
	}
	return pinger.Statistics().PacketsRecv > 0, nil
}

// probeTunnelGateway checks whether the gateway answers through the tunnel,
// using the probe flavor selected in the preferences.
func (s *Service) probeTunnelGateway() (healthy bool, err error) {
	switch s._preferences.HealthchecksType {
	case types.HealthchecksType_Ping:
		return pingGateway(_healthcheckGatewayHost, _healthcheckTimeout)
	case types.HealthchecksType_RestApiCall:
		ctx, cancel := context.WithTimeout(context.Background(), _healthcheckTimeout)
		defer cancel()
		return s._reachabilityChecker.IsPortReachable(ctx, net.ParseIP(_healthcheckGatewayHost), _healthcheckAgentPort), nil
	}
	// HealthchecksType_Disabled
	return true, nil
}

// 2-phase approach: re-apply the VPN server route first, then give the
// connection up and report it to the clients
func (s *Service) checkConnectivityFixAsNeeded() (retErr error) {
	if s.IsDaemonStopping() {
		log.ErrorFE("error - daemon is stopping")
		s.backendConnectivityCheckState = PHASE0_CLEAN
		return nil
	}

	if healthy, err := s.probeTunnelGateway(); err != nil {
		s.backendConnectivityCheckState = PHASE0_CLEAN
		return log.ErrorFE("error probing the tunnel gateway, skipping this loop iteration. error=%w", err)
	} else if healthy {
		s.backendConnectivityCheckState = PHASE0_CLEAN
		return nil
	}

	s.logTunnelCounters()

	switch s.backendConnectivityCheckState { // by now we know that there were no errors, but that the gateway is not reachable
	case PHASE0_CLEAN: // phase 0: the default route may have moved under the tunnel, re-pin the VPN server route
		s.backendConnectivityCheckState = PHASE1_TRY_RECONNECT // next time, if still unreachable - give the connection up
		if err := killswitch.ReapplyVpnServerRoute(); err != nil {
			return log.ErrorFE("error re-applying the VPN server route: %w", err)
		}
	case PHASE1_TRY_RECONNECT: // phase 1: the route fix did not help, the connection is dead
		s.backendConnectivityCheckState = PHASE0_CLEAN

		tun := s.getTunnel()
		if tun == nil || !s.Connected() {
			return nil
		}
		// tell the clients the connection is unhealthy, then tear it down;
		// reconnecting is the client's decision
		tun.Notify(events.UnexpectedError{Reason: fmt.Errorf("tunnel connectivity lost, the gateway is unreachable")})
		go func() {
			if err := s.disconnect(); err != nil {
				log.ErrorFE("error disconnecting a dead tunnel: %w", err)
			}
		}()
	}

	return nil
}

// logTunnelCounters dumps the wireguard device counters, to tell a stale
// handshake from a dead route.
func (s *Service) logTunnelCounters() {
	tun := s.getTunnel()
	if tun == nil {
		return
	}
	handle, ok := tun.Handle()
	if !ok || handle.Kind != tunnel.KindWireGuard || !handle.IsActive {
		return
	}

	stats, err := wgDeviceStats(handle.InterfaceName)
	if err != nil {
		log.Warning("failed to read tunnel device counters: ", err)
		return
	}
	if stats.LastHandshake.IsZero() {
		log.Info("tunnel gateway unreachable, no wireguard handshake yet")
	} else {
		log.Info(fmt.Sprintf("tunnel gateway unreachable, last wireguard handshake %s ago (rx %d, tx %d)",
			time.Since(stats.LastHandshake).Round(time.Second), stats.ReceivedBytes, stats.SentBytes))
	}
}

// connectivityHealthchecksBackgroundMonitor runs asynchronously as a forked thread.
// It polls regularly whether the VPN connection is healthy - whether the gateway
// is reachable through the tunnel. To stop this thread - send to the monitor end chan.
func (s *Service) connectivityHealthchecksBackgroundMonitor() {
	if s.IsDaemonStopping() {
		return
	}

	s.connectivityHealthchecksMonitor.MonitorRunningMutex.Lock() // to ensure there's only one instance of connectivityHealthchecksBackgroundMonitor
	defer s.connectivityHealthchecksMonitor.MonitorRunningMutex.Unlock()

	log.Debug("connectivityHealthchecksBackgroundMonitor entered")
	defer log.Debug("connectivityHealthchecksBackgroundMonitor exited")

	s.backendConnectivityCheckState = PHASE0_CLEAN
	loopIteration := 0
	for {
		select {
		case <-s.connectivityHealthchecksMonitor.MonitorEndChan:
			log.Debug("connectivityHealthchecksBackgroundMonitor exiting on stop signal")
			return
		default: // no stop signal received
			if s.IsDaemonStopping() {
				return
			}
			if s.getTunnel() == nil || s._preferences.HealthchecksType == types.HealthchecksType_Disabled {
				log.Debug("connectivityHealthchecksBackgroundMonitor exiting, nothing to monitor")
				return
			}

			time.Sleep(time.Second) // sleep 1 second per each loop iteration
			loopIteration = (loopIteration + 1) % 5
			if loopIteration == 0 { // test connectivity only every 5th iteration - that is, once every 5 seconds
				if err := s.checkConnectivityFixAsNeeded(); err != nil {
					log.ErrorFE("error returned by checkConnectivityFixAsNeeded(): %w", err) // and continue
				}
			}
		}
	}
}

// startConnectivityHealthchecks launches the background monitor, unless it
// already runs or the healthchecks are disabled.
func (s *Service) startConnectivityHealthchecks() {
	if s._preferences.HealthchecksType == types.HealthchecksType_Disabled {
		log.Debug("connectivity healthchecks disabled, not starting the monitor")
		return
	}

	// a running monitor holds its mutex
	if !s.connectivityHealthchecksMonitor.MonitorRunningMutex.TryLock() {
		return
	}
	s.connectivityHealthchecksMonitor.MonitorRunningMutex.Unlock()

	log.Debug("starting ", helpers.GetFunctionName(s.connectivityHealthchecksMonitor.MonitorFunc))
	go s.connectivityHealthchecksMonitor.MonitorFunc()
}

func (s *Service) stopConnectivityHealthchecks() {
	s.connectivityHealthchecksMonitor.StopServiceBackgroundMonitor()
}
