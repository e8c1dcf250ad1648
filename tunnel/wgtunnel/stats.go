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

package wgtunnel

import (
	"fmt"
	"math"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
)

// TunnelStats - live counters of a wireguard tunnel device.
type TunnelStats struct {
	LastHandshake time.Time
	ReceivedBytes int64
	SentBytes     int64
}

// DeviceStats reads the counters of the named wireguard device via the
// kernel control interface. Counters aggregate over peers (the tunnel has
// exactly one in practice).
func DeviceStats(device string) (TunnelStats, error) {
	client, err := wgctrl.New()
	if err != nil {
		return TunnelStats{}, fmt.Errorf("failed to open wireguard control interface: %w", err)
	}
	defer client.Close()

	dev, err := client.Device(device)
	if err != nil {
		return TunnelStats{}, fmt.Errorf("failed to read wireguard device '%s': %w", device, err)
	}

	var stats TunnelStats
	for _, peer := range dev.Peers {
		stats.ReceivedBytes += peer.ReceiveBytes
		stats.SentBytes += peer.TransmitBytes
		if peer.LastHandshakeTime.After(stats.LastHandshake) {
			stats.LastHandshake = peer.LastHandshakeTime
		}
	}
	return stats, nil
}

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// FormatBytes renders a byte counter in a human-readable unit.
func FormatBytes(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}

	magnitude := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	value := float64(bytes) / math.Pow(1024, float64(magnitude))

	return fmt.Sprintf("%.2f %s", value, byteUnits[magnitude])
}
