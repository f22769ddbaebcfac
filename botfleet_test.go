package botfleet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.RegistryPath = filepath.Join(t.TempDir(), "bots.jsonl")
	cfg.HistoryDSN = ""
	return cfg
}

func TestNewEmptyFleet(t *testing.T) {
	f, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Empty(t, f.Snapshot())
	assert.NoError(t, f.Tick(context.Background()))
	assert.Nil(t, f.History())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RegistryPath = ""
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestFleetStartStopBot(t *testing.T) {
	cfg := testConfig(t)
	f, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	script := filepath.Join(t.TempDir(), "launch.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 60\n"), 0o755))

	rec, err := f.StartBot(context.Background(), script, "profile-a")
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, rec.Status)

	// the tick confirms the live pid
	require.NoError(t, f.Tick(context.Background()))
	recs := f.Snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, StatusRunning, recs[0].Status)

	require.NoError(t, f.StopBot(context.Background(), rec.PID))
	recs = f.Snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, StatusStoppedManual, recs[0].Status)

	// state survives a fresh Fleet over the same registry file
	g, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = g.Close() }()
	recs = g.Snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, StatusStoppedManual, recs[0].Status)
}

func TestFleetHistorySQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.HistoryDSN = filepath.Join(t.TempDir(), "history.db")
	f, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	require.NotNil(t, f.History())
	events, err := f.History().Recent(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFleetScheduler(t *testing.T) {
	cfg := testConfig(t)
	cfg.TickInterval = 10 * time.Millisecond
	f, err := New(context.Background(), cfg)
	require.NoError(t, err)

	f.StartScheduler()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.Close())
}
