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

// Package netchange detects routing table changes. Raw kernel updates come
// in bursts, so detected changes are reported only after DelayBeforeNotify
// of quiet. The routing-change channel fires only when the default gateway
// actually moved; the routing-update channel fires for every settled burst.
package netchange

import (
	"net"
	"sync"
	"time"

	"github.com/nimbusvpn/daemon/logger"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("netchd")
}

const delayBeforeNotifyDefault = time.Second * 3

// Detector - routing change detector object
type Detector struct {
	delayBeforeNotify       time.Duration
	timerNotifyAfterDelay   *time.Timer
	routingChangeNotifyChan chan<- struct{}
	routingUpdateNotifyChan chan<- struct{}

	gwMutex            sync.Mutex
	lastDefaultGateway net.IP

	// platform-specific properties (or empty struct if none)
	props osSpecificProperties
}

// Create - create new network change detector (not started)
func Create() *Detector {
	detector := &Detector{delayBeforeNotify: delayBeforeNotifyDefault}

	timer := time.AfterFunc(0, func() {
		detector.notifyRoutingChange()
	})
	timer.Stop() // no changes detected yet

	detector.timerNotifyAfterDelay = timer
	return detector
}

// DelayBeforeNotify - changes are reported only after this much quiet time
func (d *Detector) DelayBeforeNotify() time.Duration {
	return d.delayBeforeNotify
}

// Init - store the notification channels and remember the current default
// gateway as the comparison baseline
func (d *Detector) Init(routingChangeChan chan<- struct{}, routingUpdateChan chan<- struct{}) {
	d.UnInit()

	d.routingChangeNotifyChan = routingChangeChan
	d.routingUpdateNotifyChan = routingUpdateChan

	d.gwMutex.Lock()
	defer d.gwMutex.Unlock()
	// no default gateway right now is fine, the first check will learn it
	d.lastDefaultGateway, _ = defaultGateway()
}

// UnInit - stop the detector and forget the notification channels
func (d *Detector) UnInit() {
	d.Stop()

	d.routingChangeNotifyChan = nil
	d.routingUpdateNotifyChan = nil

	d.gwMutex.Lock()
	defer d.gwMutex.Unlock()
	d.lastDefaultGateway = nil
}

// Start - start monitoring the routing table
func (d *Detector) Start() error {
	// ensure that the detector is stopped
	d.Stop()

	go d.doStart()
	return nil
}

// Stop - stop monitoring and drop a pending (not yet fired) notification
func (d *Detector) Stop() {
	d.timerNotifyAfterDelay.Stop()
	d.doStop()
}

// routingChangeDetected is called by the platform monitor for every raw
// routing table update. Restarting the timer coalesces a burst of updates
// into a single notification.
func (d *Detector) routingChangeDetected() {
	d.timerNotifyAfterDelay.Reset(d.delayBeforeNotify)
}

func (d *Detector) notifyRoutingChange() {
	d.notify(d.routingUpdateNotifyChan)

	changed, err := d.isRoutingChanged()
	if err != nil {
		log.Error("failed to check routing change:", err)
		return
	}
	if changed {
		log.Info("Default gateway changed")
		d.notify(d.routingChangeNotifyChan)
	}
}

func (d *Detector) notify(ch chan<- struct{}) {
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
		// receiver did not consume the previous notification yet
	}
}
