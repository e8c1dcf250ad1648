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

package main

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nimbusvpn/daemon/api"
	"github.com/nimbusvpn/daemon/helpers"
	"github.com/nimbusvpn/daemon/logger"
	"github.com/nimbusvpn/daemon/netchange"
	"github.com/nimbusvpn/daemon/nmclient"
	"github.com/nimbusvpn/daemon/protocol"
	"github.com/nimbusvpn/daemon/rageshake"
	"github.com/nimbusvpn/daemon/service"
	"github.com/nimbusvpn/daemon/service/killswitch"
	"github.com/nimbusvpn/daemon/service/platform"
	"github.com/nimbusvpn/daemon/service/preferences"
	"github.com/nimbusvpn/daemon/version"
)

var log *logger.Logger
var activeProtocol IProtocol

func init() {
	log = logger.NewLogger("launch")
}

// IProtocol - interface of communication protocol with NimbusVPN UI or CLI application
type IProtocol interface {
	Start(secret uint64, startedOnPort chan<- int, serv protocol.Service) error
	Stop()
}

// Launch -  initialize and start service
func Launch() {
	warnings, errors, logInfo := platform.Init()
	logger.Init(platform.LogFile())

	// Logging enabled from command line argument ('-logging').
	// Logging can be enabled from command line or from previously saved daemon preferences
	isLoggingEnabledArgument := false
	// Cleanup requested ('-cleanup'). Do not start server.
	isCleanupArgument := false

	// Checking command line arguments
	for _, arg := range os.Args {
		arg = strings.ToLower(arg)
		if arg == "-logging" || arg == "--logging" {
			isLoggingEnabledArgument = true
		}
		if arg == "-cleanup" || arg == "--cleanup" {
			// Cleanup requested.
			// IMPORTANT! This operation must be executed ONLY when no any daemon instances running!
			isLoggingEnabledArgument = true
			isCleanupArgument = true
		}
	}

	if isLoggingEnabledArgument {
		logger.Enable(true)
		logger.Info("Logging enabled (forced by command line argument)")
	} else {
		// initialize logging according to service preferences
		var prefs preferences.Preferences
		if err := prefs.LoadPreferences(); err == nil {
			logger.Enable(prefs.IsLogging)
		}
	}

	// Log full version
	logger.Info("version:" + version.GetFullVersion())

	// Now that logger is initialized, set up panic handler - ensure we log panic message (at least on this goroutine) before exiting on it
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("PANIC at runtime: %v", r))
			logger.Error(string(debug.Stack()))
			if err, ok := r.(error); ok {
				logger.ErrorTrace(err)
			}
			reportPanic(r)
			os.Exit(1)
		}
	}()

	if isCleanupArgument {
		// Cleanup requested: just do logout, remove blocking profiles and exit.
		// This can happen on package uninstall (out from 'remove' hook)
		os.Exit(doCleanup())
		return
	}

	// Logging platform initialization info messages
	for _, platformInitLogItem := range logInfo {
		logger.Info(fmt.Sprintf("INIT: %s", platformInitLogItem))
	}
	// Logging platform initialization warnings
	for _, w := range warnings {
		logger.Warning(w)
	}
	// Logging platform initialization errors
	if len(errors) > 0 {
		for _, e := range errors {
			logger.Error(e)
		}

		logger.Info("Daemon failed to start due to initialization errors")
		os.Exit(1)
		return
	}

	defer func() {
		doBeforeStop() // OS-specific steps required before shutdown
		log.Info(helpers.ServiceName + " daemon stopped.")
		doStopped() // OS-specific service finalizer
	}()

	tzName, tzOffsetSec := time.Now().Zone()

	log.Info(fmt.Sprintf("Starting %s daemon [%s,%s] [timezone: %s %d (%dh)] [pid: %d; ppid: %d; arch: %dbit]",
		helpers.ServiceName, runtime.GOOS, runtime.GOARCH,
		tzName, tzOffsetSec, tzOffsetSec/(60*60),
		os.Getpid(), os.Getppid(), strconv.IntSize))

	log.Info(fmt.Sprintf("args: %s", os.Args))

	if !doCheckIsAdmin() {
		logger.Warning("------------------------------------")
		logger.Warning("!!! NOT A PRIVILEGED USER !!!")
		logger.Warning("Please, ensure you are running an application with privileged rights.")
		logger.Warning("Otherwise, application will not work correctly.")
		logger.Warning("------------------------------------")
	}

	var secret uint64
	if err := binary.Read(rand.Reader, binary.BigEndian, &secret); err != nil {
		log.Panic(fmt.Errorf("failed to generate secret: %w", err))
	}

	// obtain (over callback channel) a service listening port
	startedOnPortChan := make(chan int, 1)
	go func() {
		// waiting for port number info
		openedPort := <-startedOnPortChan

		// save port info into a file (UI/CLI clients is able to read it)
		file, err := os.Create(platform.ServicePortFile())
		if err != nil {
			logger.Panic(err.Error())
		}
		defer file.Close()
		if _, err := file.WriteString(fmt.Sprintf("%d:%x", openedPort, secret)); err != nil {
			log.Error(fmt.Errorf("failed to write port info into file: %w", err))
		}

		// inform OS-specific implementation about listener port
		doStartedOnPort(openedPort, secret)
	}()

	defer os.Remove(platform.ServicePortFile())

	// perform OS-specific preparations (if necessary)
	if err := doPrepareToRun(); err != nil {
		logger.Panic(err.Error())
	}

	// run service
	launchService(secret, startedOnPortChan)
}

// Stop the service
func Stop() {
	p := activeProtocol
	if p != nil {
		p.Stop()
	}
}

// reportPanic collects a diagnostics report for a daemon crash. Tries the
// feedback endpoint first; when it is not reachable (a crash may well mean
// no connectivity) the report is kept on disk next to the logs.
func reportPanic(recovered interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("PANIC during crash reporting: %v", r))
		}
	}()

	rs := rageshake.New()
	report, err := rs.CollectCrashReport("panic", map[string]interface{}{
		"panic": fmt.Sprintf("%v", recovered),
		"stack": string(debug.Stack()),
	})
	if err != nil {
		logger.Error(fmt.Errorf("failed to collect crash report: %w", err))
		return
	}

	if url, err := rs.Upload(report); err == nil {
		logger.Info("Crash report uploaded: " + url)
		return
	}

	reportPath := filepath.Join(crashReportsDir(), fmt.Sprintf("crash-%d.json", time.Now().Unix()))
	if err := rs.SaveCrashReport(report, reportPath); err != nil {
		logger.Error(fmt.Errorf("failed to save crash report: %w", err))
		return
	}
	logger.Info(rs.GetCrashReportAsString(report))
}

func crashReportsDir() string {
	return filepath.Join(filepath.Dir(platform.LogFile()), "crash-reports")
}

// Logout and remove leftover blocking profiles. Requested by the package
// 'remove' hook (using command line argument).
// IMPORTANT! This operation must be executed ONLY when no any daemon instances running!
func doCleanup() (osExitCode int) {
	log = logger.NewLogger("clean!")

	f := func() (retErr error) {
		if !doCheckIsAdmin() {
			return fmt.Errorf("not privileged environment")
		}
		var prefs preferences.Preferences
		if err := prefs.LoadPreferences(); err != nil {
			return err
		}

		// Try to logout
		session := prefs.Session
		if !session.IsLoggedIn() {
			log.Info("Not logged in")
		} else {
			if apiObj, err := api.CreateAPI(); err != nil {
				retErr = log.ErrorE(fmt.Errorf("api.CreateAPI() failed: %w", err), 0)
			} else {
				log.Info("Logging out ...")
				if err = apiObj.SessionDelete(session.Session); err != nil {
					retErr = log.ErrorE(fmt.Errorf("apiObj.SessionDelete() failed: %w", err), 0)
				} else {
					log.Info("Logging out: done")
				}
			}
		}

		// Remove blocking profiles (the persistent ones survive daemon restarts,
		// so an uninstall has to take them down explicitly)
		var ksErr error
		client, err := nmclient.GetClient()
		if err != nil {
			ksErr = log.ErrorFE("failed to connect to the network daemon: %w", err)
		} else {
			if err := killswitch.Initialize(client); err != nil {
				ksErr = log.ErrorFE("kill switch initialization failed: %w", err)
			} else {
				if err := killswitch.SetPersistent(false); err != nil {
					ksErr = log.ErrorE(fmt.Errorf("killswitch.SetPersistent() failed: %w", err), 0)
				}
				if err := killswitch.Disable(); err != nil {
					ksErr = log.ErrorE(fmt.Errorf("killswitch.Disable() failed: %w", err), 0)
				} else {
					log.Info("Blocking profiles removed")
				}
			}
		}

		if retErr != nil {
			return retErr
		}
		return ksErr
	}

	if err := f(); err != nil {
		log.Error(err)
		return 2
	}

	return 0
}

// initialize and start service
func launchService(secret uint64, startedOnPort chan<- int) {
	// API object
	apiObj, err := api.CreateAPI()
	if err != nil {
		log.Panic("API object initialization failed: ", err)
	}

	// network change detector
	netDetector := netchange.Create()

	// communication protocol
	protocol, err := protocol.CreateProtocol()
	if err != nil {
		log.Panic("Protocol object initialization failed: ", err)
	}

	// save protocol (to be able to stop it)
	activeProtocol = protocol

	// initialize service
	serv, err := service.CreateService(protocol, apiObj, netDetector)
	if err != nil {
		log.Panic("Failed to initialize service:", err)
	}

	// handle interrupt signals
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		s := <-sigc
		log.Warning(fmt.Sprintf("SIGNAL received: '%v'. STOPPING DAEMON...", s))
		protocol.Stop()
	}()

	// start receiving requests from client (synchronous)
	if err := protocol.Start(secret, startedOnPort, serv); err != nil {
		log.Error("Protocol stopped with error:", err)
	}
}
