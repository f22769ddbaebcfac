package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/botfleet/botfleet/internal/inspector"
	"github.com/botfleet/botfleet/internal/registry"
	"github.com/botfleet/botfleet/internal/supervisor"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInspector struct {
	mu    sync.Mutex
	alive map[int]inspector.Metrics
}

func (s *stubInspector) List(context.Context) ([]inspector.ProcInfo, error) { return nil, nil }

func (s *stubInspector) Query(_ context.Context, pid int) (inspector.Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.alive[pid]; ok {
		return m, nil
	}
	return inspector.Metrics{}, inspector.ErrNotFound
}

type stubLauncher struct {
	nextPID int
	stops   []int
}

func (s *stubLauncher) Start(script, profile string) (registry.Record, error) {
	s.nextPID++
	now := time.Now().UTC()
	return registry.Record{
		PID: s.nextPID, Profile: profile, LaunchScript: script,
		Status: registry.StatusStarting, StartedAt: now, LastSeenAt: now, AntiCrash: true,
	}, nil
}

func (s *stubLauncher) Stop(_ context.Context, pid int) error {
	s.stops = append(s.stops, pid)
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *registry.Registry, *stubInspector) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := registry.New(filepath.Join(t.TempDir(), "bots.jsonl"))
	ins := &stubInspector{alive: make(map[int]inspector.Metrics)}
	sup := supervisor.New(supervisor.Config{Signature: "bot.jar"}, reg, ins, &stubLauncher{nextPID: 2000})
	return NewRouter(sup, nil, "").Handler(), reg, ins
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	h, _, _ := newTestRouter(t)
	w := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestRouter(t)
	w := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListBots(t *testing.T) {
	h, reg, _ := newTestRouter(t)
	reg.Upsert(registry.Record{
		PID: 100, Profile: "miner", LaunchScript: "a.sh",
		Status: registry.StatusRunning, StartedAt: time.Now().UTC(), LastSeenAt: time.Now().UTC(),
	})

	w := do(t, h, http.MethodGet, "/api/bots", "")
	require.Equal(t, http.StatusOK, w.Code)

	var recs []registry.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, 100, recs[0].PID)
	assert.Equal(t, "miner", recs[0].Profile)
}

func TestStartBot(t *testing.T) {
	h, reg, _ := newTestRouter(t)
	w := do(t, h, http.MethodPost, "/api/bots", `{"script":"launch_a.sh","profile":"miner"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var rec registry.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, registry.StatusStarting, rec.Status)
	assert.Equal(t, 1, reg.Len())
}

func TestStartBotValidation(t *testing.T) {
	h, _, _ := newTestRouter(t)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/bots", `{"profile":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/bots", `not json`).Code)
}

func TestStopBot(t *testing.T) {
	h, reg, ins := newTestRouter(t)
	reg.Upsert(registry.Record{
		PID: 100, Profile: "miner", LaunchScript: "a.sh",
		Status: registry.StatusRunning, StartedAt: time.Now().UTC(), LastSeenAt: time.Now().UTC(),
	})
	ins.alive[100] = inspector.Metrics{}

	w := do(t, h, http.MethodPost, "/api/bots/100/stop", "")
	require.Equal(t, http.StatusOK, w.Code)

	rec, _ := reg.Get(100)
	assert.Equal(t, registry.StatusStoppedManual, rec.Status)
}

func TestStopUnknownPID(t *testing.T) {
	h, _, _ := newTestRouter(t)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/bots/999/stop", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/bots/abc/stop", "").Code)
}

func TestRestartBot(t *testing.T) {
	h, reg, _ := newTestRouter(t)
	reg.Upsert(registry.Record{
		PID: 100, Profile: "miner", LaunchScript: "a.sh",
		Status: registry.StatusRunning, StartedAt: time.Now().UTC(), LastSeenAt: time.Now().UTC(),
	})

	w := do(t, h, http.MethodPost, "/api/bots/100/restart", "")
	require.Equal(t, http.StatusOK, w.Code)

	var rec registry.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.NotEqual(t, 100, rec.PID)
	_, ok := reg.Get(100)
	assert.False(t, ok)
}

func TestRestartDetectedRecordRejected(t *testing.T) {
	h, reg, _ := newTestRouter(t)
	reg.Upsert(registry.Record{
		PID: 200, Profile: "found", Status: registry.StatusRunning, Detected: true,
		StartedAt: time.Now().UTC(), LastSeenAt: time.Now().UTC(),
	})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/bots/200/restart", "").Code)
}

func TestToggleAntiCrash(t *testing.T) {
	h, reg, _ := newTestRouter(t)
	reg.Upsert(registry.Record{
		PID: 100, Profile: "miner", LaunchScript: "a.sh", AntiCrash: true,
		Status: registry.StatusRunning, StartedAt: time.Now().UTC(), LastSeenAt: time.Now().UTC(),
	})

	w := do(t, h, http.MethodPost, "/api/bots/100/anticrash", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OK        bool `json:"ok"`
		AntiCrash bool `json:"anti_crash"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.False(t, resp.AntiCrash)
}

func TestRemoveConflictsWhileAlive(t *testing.T) {
	h, reg, ins := newTestRouter(t)
	reg.Upsert(registry.Record{
		PID: 100, Profile: "miner", LaunchScript: "a.sh",
		Status: registry.StatusRunning, StartedAt: time.Now().UTC(), LastSeenAt: time.Now().UTC(),
	})
	ins.alive[100] = inspector.Metrics{}

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodDelete, "/api/bots/100", "").Code)

	ins.mu.Lock()
	delete(ins.alive, 100)
	ins.mu.Unlock()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/api/bots/100", "").Code)
	assert.Zero(t, reg.Len())
}

func TestCleanupEndpoint(t *testing.T) {
	h, reg, _ := newTestRouter(t)
	reg.Upsert(registry.Record{
		PID: 100, Profile: "miner", LaunchScript: "a.sh",
		Status: registry.StatusStopped, StartedAt: time.Now().UTC().Add(-48 * time.Hour),
		LastSeenAt: time.Now().UTC().Add(-48 * time.Hour),
	})

	w := do(t, h, http.MethodPost, "/api/cleanup?age=1h", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Removed int `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Removed)
	assert.Zero(t, reg.Len())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/cleanup?age=banana", "").Code)
}

func TestScanEndpoint(t *testing.T) {
	h, _, _ := newTestRouter(t)
	w := do(t, h, http.MethodPost, "/api/scan", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Detected int `json:"detected"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Detected)
}

func TestHistoryWithoutSink(t *testing.T) {
	h, _, _ := newTestRouter(t)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/history", "").Code)
}

func TestSanitizeBase(t *testing.T) {
	assert.Equal(t, "", sanitizeBase(""))
	assert.Equal(t, "", sanitizeBase("/"))
	assert.Equal(t, "/abc", sanitizeBase("abc"))
	assert.Equal(t, "/abc", sanitizeBase("/abc/"))
}
