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

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

var (
	writeMutex       sync.Mutex
	isLoggingEnabled bool
	logFilePath      string
	logFile          *os.File
)

// Init defines the log file location. Must be called before Enable(true)
// for file logging to take effect; console logging works without it.
func Init(logfile string) {
	writeMutex.Lock()
	defer writeMutex.Unlock()
	logFilePath = logfile
}

// Enable switches logging on or off. When off, only warnings, errors and
// panics are printed (to the console only).
func Enable(enable bool) {
	writeMutex.Lock()
	defer writeMutex.Unlock()

	if isLoggingEnabled == enable {
		return
	}
	isLoggingEnabled = enable

	if !enable {
		if logFile != nil {
			logFile.Close()
			logFile = nil
		}
		return
	}

	if len(logFilePath) > 0 && logFile == nil {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o700); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err == nil {
				logFile = f
			} else {
				fmt.Fprintln(os.Stderr, "failed to open log file:", err)
			}
		}
	}
}

// IsEnabled reports whether full logging is active.
func IsEnabled() bool {
	writeMutex.Lock()
	defer writeMutex.Unlock()
	return isLoggingEnabled
}

// PrintStackToStderr dumps the current goroutine stack to stderr,
// bypassing the log file. Intended for panic paths.
func PrintStackToStderr() {
	fmt.Fprintln(os.Stderr, string(debug.Stack()))
}

// Logger is a named log writer. One instance per package, created in init():
//
//	var log *logger.Logger
//	func init() { log = logger.NewLogger("tag") }
type Logger struct {
	pref string
}

// NewLogger creates a named logger. The prefix appears in every line.
func NewLogger(pref string) *Logger {
	return &Logger{pref: strings.TrimSpace(pref)}
}

func (l *Logger) Debug(v ...interface{})   { write("DBG", l.pref, 2, fmt.Sprint(v...)) }
func (l *Logger) Info(v ...interface{})    { write("INF", l.pref, 2, fmt.Sprint(v...)) }
func (l *Logger) Warning(v ...interface{}) { write("WRN", l.pref, 2, fmt.Sprint(v...)) }
func (l *Logger) Error(v ...interface{})   { write("ERR", l.pref, 2, fmt.Sprint(v...)) }

// ErrorFE formats an error (fmt.Errorf semantics, %w supported), logs it
// and returns it. Convenient for `return log.ErrorFE("...: %w", err)`.
func (l *Logger) ErrorFE(format string, a ...interface{}) error {
	err := fmt.Errorf(format, a...)
	write("ERR", l.pref, 2, err.Error())
	return err
}

// ErrorE logs an error and returns it unchanged. callerStackOffset shifts
// the reported source location up the call stack (0 = caller of ErrorE).
func (l *Logger) ErrorE(err error, callerStackOffset int) error {
	write("ERR", l.pref, 2+callerStackOffset, err.Error())
	return err
}

// ErrorTrace logs an error together with a stack trace.
func (l *Logger) ErrorTrace(err error) {
	write("ERR", l.pref, 2, err.Error()+"\n"+string(debug.Stack()))
}

// Panic logs the message and panics.
func (l *Logger) Panic(v ...interface{}) {
	mes := fmt.Sprint(v...)
	write("PANIC", l.pref, 2, mes)
	panic(mes)
}

// Package-level logger for code which has no named instance (launcher).

func Debug(v ...interface{})   { write("DBG", "", 2, fmt.Sprint(v...)) }
func Info(v ...interface{})    { write("INF", "", 2, fmt.Sprint(v...)) }
func Warning(v ...interface{}) { write("WRN", "", 2, fmt.Sprint(v...)) }
func Error(v ...interface{})   { write("ERR", "", 2, fmt.Sprint(v...)) }

func ErrorTrace(err error) {
	write("ERR", "", 2, err.Error()+"\n"+string(debug.Stack()))
}

func Panic(v ...interface{}) {
	mes := fmt.Sprint(v...)
	write("PANIC", "", 2, mes)
	panic(mes)
}

func write(level string, pref string, callerStackOffset int, message string) {
	writeMutex.Lock()
	defer writeMutex.Unlock()

	if !isLoggingEnabled && level != "WRN" && level != "ERR" && level != "PANIC" {
		return
	}

	line := fmt.Sprintf("%s %s %s%s",
		time.Now().Format("2006-01-02 15:04:05.000"),
		levelColumn(level, pref),
		message,
		callerInfo(level, callerStackOffset))

	fmt.Fprintln(os.Stderr, line)
	if isLoggingEnabled && logFile != nil {
		fmt.Fprintln(logFile, line)
	}
}

func levelColumn(level string, pref string) string {
	if len(pref) > 0 {
		return fmt.Sprintf("%-5s [%s]", level, pref)
	}
	return fmt.Sprintf("%-5s", level)
}

// callerInfo returns " (file.go:123)" for error-class messages, "" otherwise.
func callerInfo(level string, callerStackOffset int) string {
	if level != "ERR" && level != "PANIC" {
		return ""
	}
	_, file, line, ok := runtime.Caller(callerStackOffset + 1)
	if !ok {
		return ""
	}
	return fmt.Sprintf(" (%s:%d)", filepath.Base(file), line)
}
