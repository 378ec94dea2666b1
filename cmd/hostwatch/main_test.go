package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/hostwatch/internal/records"
)

type webhookRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (w *webhookRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		w.mu.Lock()
		w.messages = append(w.messages, payload.Text)
		w.mu.Unlock()
		rw.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (w *webhookRecorder) all() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.messages...)
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

// fakeSystemctl writes a script answering "show" with the given ActiveState.
func fakeSystemctl(t *testing.T, dir, activeState string) string {
	t.Helper()
	path := filepath.Join(dir, "systemctl")
	writeFile(t, path, `#!/bin/sh
case "$1" in
show)
	printf 'LoadState=loaded\nActiveState=`+activeState+`\nSubState=dead\n'
	;;
*)
	exit 0
	;;
esac
`, 0o755)
	return path
}

func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String() + stderr.String()
}

func TestConfigErrorExitsWithConfigStatus(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hostwatch.yaml")
	writeFile(t, cfgPath, "escalation:\n  maxAttempts: 0\n", 0o600)

	code, out := runCLI(t, "--config", cfgPath, "records", "list")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, out, "maxAttempts")

	code, _ = runCLI(t, "--config", filepath.Join(dir, "missing.yaml"), "check", "services")
	assert.Equal(t, exitConfig, code)
}

func TestRecordsListAndClear(t *testing.T) {
	dir := t.TempDir()
	recordsDir := filepath.Join(dir, "records")
	cfgPath := filepath.Join(dir, "hostwatch.yaml")
	writeFile(t, cfgPath, "records:\n  backend: file\n  dir: "+recordsDir+"\n", 0o600)

	store, err := records.NewFileStore(recordsDir, time.Now)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "nginx", 2))
	require.NoError(t, store.Put(context.Background(), "redis", 3))

	code, out := runCLI(t, "--config", cfgPath, "records", "list")
	require.Equal(t, exitOK, code, out)
	assert.Contains(t, out, "nginx")
	assert.Contains(t, out, "2/3")
	assert.Contains(t, out, "abandoned")

	code, _ = runCLI(t, "--config", cfgPath, "records", "clear")
	assert.Equal(t, exitConfig, code, "clear needs a service name or --all")

	code, out = runCLI(t, "--config", cfgPath, "records", "clear", "nginx")
	require.Equal(t, exitOK, code, out)
	_, found, err := store.Get(context.Background(), "nginx")
	require.NoError(t, err)
	assert.False(t, found)

	code, out = runCLI(t, "--config", cfgPath, "records", "clear", "--all")
	require.Equal(t, exitOK, code, out)
	recs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestNotifyTest(t *testing.T) {
	hook := &webhookRecorder{}
	srv := hook.server(t)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hostwatch.yaml")
	writeFile(t, cfgPath, "notify:\n  webhookURL: "+srv.URL+"\n  hostLabel: db-1\n", 0o600)

	code, out := runCLI(t, "--config", cfgPath, "notify", "test", "hello")
	require.Equal(t, exitOK, code, out)
	require.Len(t, hook.all(), 1)
	assert.Contains(t, hook.all()[0], "[db-1] hello")
}

func TestCheckServicesEscalatesAcrossInvocations(t *testing.T) {
	hook := &webhookRecorder{}
	srv := hook.server(t)

	dir := t.TempDir()
	recordsDir := filepath.Join(dir, "records")
	textfile := filepath.Join(dir, "hostwatch.prom")
	cfgPath := filepath.Join(dir, "hostwatch.yaml")
	writeFile(t, cfgPath, strings.Join([]string{
		"notify:",
		"  webhookURL: " + srv.URL,
		"services:",
		"  monitored: [nginx]",
		"  restart: [nginx]",
		"  systemctl: " + fakeSystemctl(t, dir, "inactive"),
		"escalation:",
		"  maxAttempts: 2",
		"  restartWait: 0s",
		"records:",
		"  dir: " + recordsDir,
		"metrics:",
		"  textfile: " + textfile,
		"",
	}, "\n"), 0o600)

	store, err := records.NewFileStore(recordsDir, time.Now)
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		code, out := runCLI(t, "--config", cfgPath, "check", "services")
		require.Equal(t, exitOK, code, out)

		rec, found, err := store.Get(context.Background(), "nginx")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, attempt, rec.AttemptCount)
	}

	before := len(hook.all())
	code, out := runCLI(t, "--config", cfgPath)
	require.Equal(t, exitOK, code, out)

	msgs := hook.all()[before:]
	require.Len(t, msgs, 2, "aggregate alert plus the abandon alert")
	assert.Contains(t, msgs[1], "manual intervention required")

	rec, _, err := store.Get(context.Background(), "nginx")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.AttemptCount)

	prom, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `hostwatch_runs_total{check="services",result="alerted"}`)
}

func TestCheckServicesHealthyIsQuiet(t *testing.T) {
	hook := &webhookRecorder{}
	srv := hook.server(t)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hostwatch.yaml")
	writeFile(t, cfgPath, strings.Join([]string{
		"notify:",
		"  webhookURL: " + srv.URL,
		"services:",
		"  monitored: [nginx]",
		"  systemctl: " + fakeSystemctl(t, dir, "active"),
		"records:",
		"  dir: " + filepath.Join(dir, "records"),
		"",
	}, "\n"), 0o600)

	code, out := runCLI(t, "--config", cfgPath, "check", "services")
	require.Equal(t, exitOK, code, out)
	assert.Empty(t, hook.all())

	code, out = runCLI(t, "--config", cfgPath, "--diagnostic", "check", "services")
	require.Equal(t, exitOK, code, out)
	require.Len(t, hook.all(), 1)
	assert.Contains(t, hook.all()[0], "Diagnostic")
}

func TestCheckDiskUnreachablePathFails(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hostwatch.yaml")
	writeFile(t, cfgPath, strings.Join([]string{
		"disk:",
		"  paths: [" + dir + ", " + filepath.Join(dir, "does-not-exist") + "]",
		"  warnFreePercent: 0",
		"  criticalFreePercent: 0",
		"",
	}, "\n"), 0o600)

	code, out := runCLI(t, "--config", cfgPath, "check", "disk")
	assert.Equal(t, exitFailure, code, out)
	assert.Contains(t, out, "unreachable")
}
