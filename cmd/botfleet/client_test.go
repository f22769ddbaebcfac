package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/botfleet/botfleet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/bots", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]botfleet.Record{
			{PID: 100, Profile: "miner", Status: botfleet.StatusRunning},
		})
	}))
	defer srv.Close()

	recs, err := NewAPIClient(srv.URL, time.Second).List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 100, recs[0].PID)
}

func TestClientStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/bots", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a.sh", req["script"])
		assert.Equal(t, "miner", req["profile"])
		_ = json.NewEncoder(w).Encode(botfleet.Record{PID: 42, Profile: "miner", Status: botfleet.StatusStarting})
	}))
	defer srv.Close()

	rec, err := NewAPIClient(srv.URL, time.Second).Start("a.sh", "miner")
	require.NoError(t, err)
	assert.Equal(t, 42, rec.PID)
}

func TestClientErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown bot record: pid 999"})
	}))
	defer srv.Close()

	err := NewAPIClient(srv.URL, time.Second).Stop(999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown bot record")
}

func TestClientDaemonUnreachable(t *testing.T) {
	c := NewAPIClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.List()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestClientScanAndCleanupQueries(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "detected": 2, "removed": 3})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, time.Second)
	n, err := c.Scan("bot.jar")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "/api/scan", gotPath)
	assert.Equal(t, "signature=bot.jar", gotQuery)

	n, err = c.Cleanup(2 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "/api/cleanup", gotPath)
	assert.Equal(t, "age=2h0m0s", gotQuery)
}
