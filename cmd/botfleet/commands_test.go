package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/botfleet/botfleet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "botfleet")
}

func TestStatusCommandRendersTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]botfleet.Record{
			{PID: 100, Profile: "miner", Status: botfleet.StatusRunning, Restarts: 2, AntiCrash: true},
			{PID: 200, Profile: "found", Status: botfleet.StatusCrashed, Detected: true},
		})
	}))
	defer srv.Close()

	out, err := runCommand(t, "status", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "miner")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "crashed")
}

func TestStatusCommandEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]botfleet.Record{})
	}))
	defer srv.Close()

	out, err := runCommand(t, "status", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "no bots tracked")
}

func TestStartCommandRequiresFlags(t *testing.T) {
	_, err := runCommand(t, "start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestStopCommandValidatesPID(t *testing.T) {
	_, err := runCommand(t, "stop", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pid")
}

func TestStopCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bots/100/stop", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer srv.Close()

	out, err := runCommand(t, "stop", "100", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "stopped pid 100")
}

func TestScanCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "detected": 4})
	}))
	defer srv.Close()

	out, err := runCommand(t, "scan", "--api-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "detected 4")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "1.0KiB", formatBytes(1024))
	assert.Equal(t, "1.5MiB", formatBytes(3*512*1024))
}
