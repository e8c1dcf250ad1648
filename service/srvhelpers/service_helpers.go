// Copyright (c) 2026 NimbusVPN, LLC.

package srvhelpers

import (
	"sync"

	"github.com/nimbusvpn/daemon/logger"
)

var log *logger.Logger

func init() {
	log = logger.NewLogger("srvhlp")
}

type ServiceBackgroundMonitorFunc func()

// ServiceBackgroundMonitor - one stoppable background loop of the service
// (healthchecks, network-change watcher). The monitor func must hold
// MonitorRunningMutex for as long as it runs and release it on exit.
type ServiceBackgroundMonitor struct {
	MonitorName          string
	MonitorFunc          ServiceBackgroundMonitorFunc
	MonitorEndChan       chan bool
	MonitorRunningMutex  *sync.Mutex
	MonitorStopFuncMutex *sync.Mutex
}

// StopServiceBackgroundMonitor stops the monitor, once. A monitor that
// already exited on its own (for example after an error) is not signalled,
// so the stop never blocks on a dead loop.
func (sbm *ServiceBackgroundMonitor) StopServiceBackgroundMonitor() {
	sbm.MonitorStopFuncMutex.Lock() // single-instance function
	defer sbm.MonitorStopFuncMutex.Unlock()
	log.Debug("StopServiceBackgroundMonitor: stopping monitor '", sbm.MonitorName, "'")

	// the monitor func could have exited already; only a running one holds its mutex
	if !sbm.MonitorRunningMutex.TryLock() {
		sbm.MonitorEndChan <- true     // send MonitorFunc a stop signal
		sbm.MonitorRunningMutex.Lock() // wait for it to stop
		defer log.Debug("StopServiceBackgroundMonitor: monitor '", sbm.MonitorName, "' stopped")
	} else {
		defer log.Debug("StopServiceBackgroundMonitor: monitor '", sbm.MonitorName, "' was already stopped")
	}
	sbm.MonitorRunningMutex.Unlock() // release its mutex, to allow it to be restarted later
}
