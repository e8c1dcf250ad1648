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

package rageshake

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSensitiveEnvVar(t *testing.T) {
	r := New()

	sensitive := []string{
		"API_KEY", "DB_PASSWORD", "secret_token", "AUTH_HEADER",
		"PRIVATE_DATA", "SessionToken", "TLS_KEY_FILE",
	}
	for _, key := range sensitive {
		assert.True(t, r.isSensitiveEnvVar(key), key)
	}

	harmless := []string{"PATH", "HOME", "LANG", "TERM", "USER"}
	for _, key := range harmless {
		assert.False(t, r.isSensitiveEnvVar(key), key)
	}
}

func TestReadFileSafely(t *testing.T) {
	r := New()
	dir := t.TempDir()

	path := filepath.Join(dir, "test.log")
	require.NoError(t, os.WriteFile(path, []byte("log content"), 0600))

	assert.Equal(t, "log content", r.readFileSafely(path, 1024))
	assert.Contains(t, r.readFileSafely(path, 4), "File too large")
	assert.Contains(t, r.readFileSafely(filepath.Join(dir, "missing.log"), 1024), "File not found")
}

func TestCollectProcessInfoFiltersEnvironment(t *testing.T) {
	t.Setenv("RAGESHAKE_TEST_SECRET", "hidden")
	t.Setenv("RAGESHAKE_TEST_PLAIN", "visible")

	info := New().collectProcessInfo()

	assert.NotContains(t, info.Environment, "RAGESHAKE_TEST_SECRET")
	assert.Equal(t, "visible", info.Environment["RAGESHAKE_TEST_PLAIN"])
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestGetCrashReportAsString(t *testing.T) {
	r := New()
	report, err := r.CollectCrashReport("test", map[string]interface{}{"note": "value"})
	require.NoError(t, err)

	text := r.GetCrashReportAsString(report)
	assert.Contains(t, text, "=== CRASH REPORT ===")
	assert.Contains(t, text, "Crash Type: test")
	assert.Contains(t, text, "note: value")
}

func TestCleanupOldCrashReports(t *testing.T) {
	r := New()
	dir := t.TempDir()

	oldReport := filepath.Join(dir, "old.json")
	newReport := filepath.Join(dir, "new.json")
	notAReport := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(oldReport, []byte("{}"), 0600))
	require.NoError(t, os.WriteFile(newReport, []byte("{}"), 0600))
	require.NoError(t, os.WriteFile(notAReport, []byte("x"), 0600))

	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldReport, stale, stale))

	require.NoError(t, r.CleanupOldCrashReports(dir, 24*time.Hour))

	assert.NoFileExists(t, oldReport)
	assert.FileExists(t, newReport)
	assert.FileExists(t, notAReport)

	// missing directory is not an error
	require.NoError(t, r.CleanupOldCrashReports(filepath.Join(dir, "absent"), time.Hour))
}

func TestUpload(t *testing.T) {
	var gotText, gotApp string
	var gotFiles []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotText = req.FormValue("text")
		gotApp = req.FormValue("app")
		for field := range req.MultipartForm.File {
			gotFiles = append(gotFiles, field)
		}
		w.Write([]byte(`{"report_url": "https://feedback.nimbusvpn.net/r/abc123"}`))
	}))
	defer srv.Close()

	oldURL := feedbackURL
	feedbackURL = srv.URL
	defer func() { feedbackURL = oldURL }()

	r := New()
	report, err := r.CollectCrashReport("user report", nil)
	require.NoError(t, err)
	report.UserComment = "tunnel will not come up"

	url, err := r.Upload(report)
	require.NoError(t, err)
	assert.Equal(t, "https://feedback.nimbusvpn.net/r/abc123", url)
	assert.Equal(t, "tunnel will not come up", gotText)
	assert.Equal(t, "nimbusvpn-daemon", gotApp)
	assert.Contains(t, gotFiles, "file")
}

func TestUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	oldURL := feedbackURL
	feedbackURL = srv.URL
	defer func() { feedbackURL = oldURL }()

	report := &CrashReport{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	_, err := New().Upload(report)
	require.Error(t, err)
}
