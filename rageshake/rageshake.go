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

// Package rageshake collects diagnostics reports (daemon logs, system
// and network facts) and uploads them to the feedback endpoint. Reports
// are produced on user request and from the panic handler.
package rageshake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/nimbusvpn/daemon/helpers"
	"github.com/nimbusvpn/daemon/logger"
	"github.com/nimbusvpn/daemon/service/platform"
	"github.com/nimbusvpn/daemon/version"
)

var log = logger.NewLogger("rgshk")

const (
	MAX_LOG_SIZE = 4 * 1048576 // 4 MB max per logfile

	uploadTimeout = time.Minute
)

// replaced in tests
var feedbackURL = "https://feedback.nimbusvpn.net/api/submit"

// CrashReport represents a complete diagnostics report
type CrashReport struct {
	Timestamp      string                 `json:"timestamp"`
	CrashType      string                 `json:"crash_type"`
	UserComment    string                 `json:"user_comment,omitempty"`
	System         SystemInfo             `json:"system"`
	Logs           LogInfo                `json:"logs"`
	NetworkInfo    NetworkInfo            `json:"network_info"`
	ProcessInfo    ProcessInfo            `json:"process_info"`
	AdditionalData map[string]interface{} `json:"additional_data,omitempty"`
}

// SystemInfo contains system information
type SystemInfo struct {
	Platform      string     `json:"platform"`
	Architecture  string     `json:"architecture"`
	GoVersion     string     `json:"go_version"`
	DaemonVersion string     `json:"daemon_version"`
	OSInfo        OSInfo     `json:"os_info"`
	MemoryInfo    MemoryInfo `json:"memory_info"`
	CPUInfo       CPUInfo    `json:"cpu_info"`
}

// OSInfo contains operating system information
type OSInfo struct {
	Release       string `json:"release"`
	KernelVersion string `json:"kernel_version"`
	Hostname      string `json:"hostname"`
	WorkingDir    string `json:"working_dir"`
}

// MemoryInfo contains memory information
type MemoryInfo struct {
	TotalMemory        uint64  `json:"total_memory"`
	UsedMemory         uint64  `json:"used_memory"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
}

// CPUInfo contains CPU information
type CPUInfo struct {
	NumCPU       int `json:"num_cpu"`
	NumGoroutine int `json:"num_goroutine"`
	GoMaxProcs   int `json:"go_max_procs"`
}

// LogInfo contains log file information
type LogInfo struct {
	ActiveLog       string `json:"active_log,omitempty"`
	PreviousLog     string `json:"previous_log,omitempty"`
	LogSize         int64  `json:"log_size"`
	PreviousLogSize int64  `json:"previous_log_size"`
}

// NetworkInfo contains network configuration
type NetworkInfo struct {
	Interfaces   string `json:"interfaces"`
	RoutingTable string `json:"routing_table"`
	DNSConfig    string `json:"dns_config"`
}

// ProcessInfo contains process information
type ProcessInfo struct {
	PID         int               `json:"pid"`
	PPID        int               `json:"ppid"`
	CommandLine string            `json:"command_line"`
	Environment map[string]string `json:"environment"`
}

// Rageshake produces and uploads diagnostics reports
type Rageshake struct {
	maxLogSize int64
}

// New creates a new Rageshake instance
func New() *Rageshake {
	return &Rageshake{
		maxLogSize: MAX_LOG_SIZE,
	}
}

// CollectAndUpload generates a diagnostics report and uploads it to the
// feedback endpoint. Returns the report reference.
func CollectAndUpload(userComment string, crashType string) (reportURL string, err error) {
	r := New()
	report, err := r.CollectCrashReport(crashType, nil)
	if err != nil {
		return "", err
	}
	report.UserComment = userComment
	return r.Upload(report)
}

// CollectCrashReport generates a complete diagnostics report
func (r *Rageshake) CollectCrashReport(crashType string, additionalData map[string]interface{}) (*CrashReport, error) {
	report := &CrashReport{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		CrashType:      crashType,
		System:         r.collectSystemInfo(),
		Logs:           r.collectLogInfo(),
		NetworkInfo:    r.collectNetworkInfo(),
		ProcessInfo:    r.collectProcessInfo(),
		AdditionalData: additionalData,
	}

	return report, nil
}

// Upload posts the report to the feedback endpoint as a multipart form:
// the report metadata as fields, the report body and the daemon logs as
// file attachments.
func (r *Rageshake) Upload(report *CrashReport) (reportURL string, err error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)

	form.WriteField("text", report.UserComment)
	form.WriteField("app", helpers.ServiceName)
	form.WriteField("version", version.GetFullVersion())
	form.WriteField("user_agent", fmt.Sprintf("%s/%s (%s; %s)", helpers.ServiceName, version.Version(), runtime.GOOS, runtime.GOARCH))

	reportData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}
	part, err := form.CreateFormFile("file", "crash_report.json")
	if err != nil {
		return "", fmt.Errorf("failed to attach crash report: %w", err)
	}
	part.Write(reportData)

	if len(report.Logs.ActiveLog) > 0 {
		if part, err = form.CreateFormFile("log", "daemon.log"); err == nil {
			part.Write([]byte(report.Logs.ActiveLog))
		}
	}
	if len(report.Logs.PreviousLog) > 0 {
		if part, err = form.CreateFormFile("log", "daemon.log.0"); err == nil {
			part.Write([]byte(report.Logs.PreviousLog))
		}
	}

	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize report form: %w", err)
	}

	req, err := http.NewRequest("POST", feedbackURL, body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	client := &http.Client{Timeout: uploadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload diagnostics report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("feedback endpoint rejected the report: %s", resp.Status)
	}

	var parsed struct {
		ReportURL string `json:"report_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse feedback endpoint response: %w", err)
	}

	log.Info("Diagnostics report uploaded: ", parsed.ReportURL)
	return parsed.ReportURL, nil
}

// collectSystemInfo collects system information
func (r *Rageshake) collectSystemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hostname, _ := os.Hostname()
	workingDir, _ := os.Getwd()

	return SystemInfo{
		Platform:      runtime.GOOS,
		Architecture:  runtime.GOARCH,
		GoVersion:     runtime.Version(),
		DaemonVersion: version.GetFullVersion(),
		OSInfo: OSInfo{
			Release:       r.getOSRelease(),
			KernelVersion: kernelVersion(),
			Hostname:      hostname,
			WorkingDir:    workingDir,
		},
		MemoryInfo: MemoryInfo{
			TotalMemory:        memStats.Sys,
			UsedMemory:         memStats.Alloc,
			MemoryUsagePercent: float64(memStats.Alloc) / float64(memStats.Sys) * 100,
		},
		CPUInfo: CPUInfo{
			NumCPU:       runtime.NumCPU(),
			NumGoroutine: runtime.NumGoroutine(),
			GoMaxProcs:   runtime.GOMAXPROCS(0),
		},
	}
}

// collectLogInfo collects log file information
func (r *Rageshake) collectLogInfo() LogInfo {
	logPath := platform.LogFile()
	prevLogPath := logPath + ".0"

	activeLog := r.readFileSafely(logPath, r.maxLogSize)
	previousLog := ""
	if helpers.FileExists(prevLogPath) {
		previousLog = r.readFileSafely(prevLogPath, r.maxLogSize)
	}

	activeLogSize := int64(0)
	prevLogSize := int64(0)

	if stat, err := os.Stat(logPath); err == nil {
		activeLogSize = stat.Size()
	}
	if stat, err := os.Stat(prevLogPath); err == nil {
		prevLogSize = stat.Size()
	}

	return LogInfo{
		ActiveLog:       activeLog,
		PreviousLog:     previousLog,
		LogSize:         activeLogSize,
		PreviousLogSize: prevLogSize,
	}
}

// collectNetworkInfo collects network information
func (r *Rageshake) collectNetworkInfo() NetworkInfo {
	return NetworkInfo{
		Interfaces:   r.getNetworkInterfaces(),
		RoutingTable: r.getRoutingTable(),
		DNSConfig:    r.getDNSConfig(),
	}
}

// collectProcessInfo collects process information
func (r *Rageshake) collectProcessInfo() ProcessInfo {
	// Get environment variables (filtered for security)
	env := make(map[string]string)
	for _, envVar := range os.Environ() {
		parts := strings.SplitN(envVar, "=", 2)
		if len(parts) == 2 {
			key := parts[0]
			value := parts[1]

			if !r.isSensitiveEnvVar(key) {
				env[key] = value
			}
		}
	}

	return ProcessInfo{
		PID:         os.Getpid(),
		PPID:        os.Getppid(),
		CommandLine: strings.Join(os.Args, " "),
		Environment: env,
	}
}

// readFileSafely reads a file safely with size limits
func (r *Rageshake) readFileSafely(filePath string, maxSize int64) string {
	stat, err := os.Stat(filePath)
	if err != nil {
		return fmt.Sprintf("[File not found: %s]", filePath)
	}

	if stat.Size() > maxSize {
		return fmt.Sprintf("[File too large: %d bytes, max: %d bytes]", stat.Size(), maxSize)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Sprintf("[Error reading file: %v]", err)
	}

	return string(data)
}

// getOSRelease gets OS release information
func (r *Rageshake) getOSRelease() string {
	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "PRETTY_NAME=") {
				return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
			}
		}
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		return unix.ByteSliceToString(uts.Sysname[:]) + " " + unix.ByteSliceToString(uts.Release[:])
	}
	return "Unknown"
}

func kernelVersion() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return unix.ByteSliceToString(uts.Release[:])
}

// getNetworkInterfaces dumps the local interfaces with their addresses
func (r *Rageshake) getNetworkInterfaces() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Sprintf("[Error getting network interfaces: %v]", err)
	}

	var b strings.Builder
	for _, ifc := range ifaces {
		b.WriteString(fmt.Sprintf("%d: %s <%s> mtu %d\n", ifc.Index, ifc.Name, ifc.Flags.String(), ifc.MTU))
		addrs, _ := ifc.Addrs()
		for _, addr := range addrs {
			b.WriteString("    " + addr.String() + "\n")
		}
	}
	return b.String()
}

// getRoutingTable dumps the kernel routing table
func (r *Rageshake) getRoutingTable() string {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Sprintf("[Error getting routing table: %v]", err)
	}

	var b strings.Builder
	for _, rt := range routes {
		dst := "default"
		if rt.Dst != nil {
			dst = rt.Dst.String()
		}
		line := dst
		if rt.Gw != nil {
			line += " via " + rt.Gw.String()
		}
		if link, err := net.InterfaceByIndex(rt.LinkIndex); err == nil {
			line += " dev " + link.Name
		}
		if rt.Src != nil {
			line += " src " + rt.Src.String()
		}
		if rt.Priority != 0 {
			line += fmt.Sprintf(" metric %d", rt.Priority)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// getDNSConfig gets DNS configuration
func (r *Rageshake) getDNSConfig() string {
	data, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		return fmt.Sprintf("[Error getting DNS config: %v]", err)
	}
	return string(data)
}

// isSensitiveEnvVar checks if an environment variable is sensitive
func (r *Rageshake) isSensitiveEnvVar(key string) bool {
	sensitiveKeys := []string{
		"PASSWORD", "SECRET", "KEY", "TOKEN", "AUTH", "CREDENTIAL",
		"PRIVATE", "SIGNATURE", "HASH", "SALT", "IV", "NONCE",
	}

	upperKey := strings.ToUpper(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(upperKey, sensitive) {
			return true
		}
	}
	return false
}

// SaveCrashReport saves a report to a file. Used when the upload fails
// (e.g. no connectivity during a panic).
func (r *Rageshake) SaveCrashReport(report *CrashReport, outputPath string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal crash report: %w", err)
	}

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write crash report: %w", err)
	}

	log.Info(fmt.Sprintf("Crash report saved to: %s", outputPath))
	return nil
}

// GetCrashReportAsString returns a report summary as a formatted string
func (r *Rageshake) GetCrashReportAsString(report *CrashReport) string {
	var builder strings.Builder

	builder.WriteString("=== CRASH REPORT ===\n")
	builder.WriteString(fmt.Sprintf("Timestamp: %s\n", report.Timestamp))
	builder.WriteString(fmt.Sprintf("Crash Type: %s\n", report.CrashType))
	builder.WriteString(fmt.Sprintf("Platform: %s\n", report.System.Platform))
	builder.WriteString(fmt.Sprintf("Architecture: %s\n", report.System.Architecture))
	builder.WriteString(fmt.Sprintf("Daemon Version: %s\n", report.System.DaemonVersion))
	builder.WriteString(fmt.Sprintf("Go Version: %s\n", report.System.GoVersion))
	builder.WriteString(fmt.Sprintf("Hostname: %s\n", report.System.OSInfo.Hostname))
	builder.WriteString(fmt.Sprintf("Kernel: %s\n", report.System.OSInfo.KernelVersion))
	builder.WriteString(fmt.Sprintf("PID: %d\n", report.ProcessInfo.PID))
	builder.WriteString(fmt.Sprintf("Command Line: %s\n", report.ProcessInfo.CommandLine))
	builder.WriteString(fmt.Sprintf("Memory Usage: %.2f%%\n", report.System.MemoryInfo.MemoryUsagePercent))
	builder.WriteString(fmt.Sprintf("Goroutines: %d\n", report.System.CPUInfo.NumGoroutine))

	if len(report.AdditionalData) > 0 {
		builder.WriteString("\n=== ADDITIONAL DATA ===\n")
		for key, value := range report.AdditionalData {
			builder.WriteString(fmt.Sprintf("%s: %v\n", key, value))
		}
	}

	return builder.String()
}

// CleanupOldCrashReports removes report files older than maxAge from
// reportsDir
func (r *Rageshake) CleanupOldCrashReports(reportsDir string, maxAge time.Duration) error {
	if _, err := os.Stat(reportsDir); os.IsNotExist(err) {
		return nil // Directory doesn't exist, nothing to clean
	}

	entries, err := os.ReadDir(reportsDir)
	if err != nil {
		return fmt.Errorf("failed to read reports directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		filePath := filepath.Join(reportsDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			log.Warning(fmt.Sprintf("Failed to get file info for %s: %v", filePath, err))
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filePath); err != nil {
				log.Warning(fmt.Sprintf("Failed to remove old crash report %s: %v", filePath, err))
			} else {
				log.Info(fmt.Sprintf("Cleaned up old crash report: %s", filePath))
			}
		}
	}

	return nil
}
