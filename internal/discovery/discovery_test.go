package discovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/botfleet/botfleet/internal/inspector"
	"github.com/botfleet/botfleet/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	procs   []inspector.ProcInfo
	metrics map[int]inspector.Metrics
}

func (f *fakeInspector) List(_ context.Context) ([]inspector.ProcInfo, error) {
	return f.procs, nil
}

func (f *fakeInspector) Query(_ context.Context, pid int) (inspector.Metrics, error) {
	m, ok := f.metrics[pid]
	if !ok {
		return inspector.Metrics{}, inspector.ErrNotFound
	}
	return m, nil
}

func newReg(t *testing.T) *registry.Registry {
	return registry.New(filepath.Join(t.TempDir(), "bots.jsonl"))
}

func TestScanAddsMatchingProcesses(t *testing.T) {
	started := time.Now().Add(-time.Hour).UTC()
	ins := &fakeInspector{
		procs: []inspector.ProcInfo{
			{PID: 100, CmdLine: "java -jar bot.jar -profile miner"},
			{PID: 200, CmdLine: "java -jar bot.jar --profile=fisher"},
			{PID: 300, CmdLine: "/usr/bin/vim notes.txt"},
		},
		metrics: map[int]inspector.Metrics{
			100: {CPUPercent: 10, MemoryBytes: 1 << 20, StartedAt: started},
		},
	}
	reg := newReg(t)

	added, err := Scan(context.Background(), ins, reg, "bot.jar")
	require.NoError(t, err)
	assert.Len(t, added, 2)
	require.Equal(t, 2, reg.Len())

	rec, ok := reg.Get(100)
	require.True(t, ok)
	assert.True(t, rec.Detected)
	assert.Equal(t, registry.StatusRunning, rec.Status)
	assert.Equal(t, "miner", rec.Profile)
	assert.Empty(t, rec.LaunchScript)
	assert.False(t, rec.AntiCrash)
	assert.Equal(t, started, rec.StartedAt)
	assert.EqualValues(t, 1<<20, rec.MemoryBytes)

	rec, ok = reg.Get(200)
	require.True(t, ok)
	assert.Equal(t, "fisher", rec.Profile)
}

func TestScanIsIdempotent(t *testing.T) {
	ins := &fakeInspector{
		procs: []inspector.ProcInfo{
			{PID: 100, CmdLine: "java -jar bot.jar -profile miner"},
		},
	}
	reg := newReg(t)

	added, err := Scan(context.Background(), ins, reg, "bot.jar")
	require.NoError(t, err)
	assert.Len(t, added, 1)

	added, err = Scan(context.Background(), ins, reg, "bot.jar")
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, 1, reg.Len())
}

func TestScanEmptySignature(t *testing.T) {
	_, err := Scan(context.Background(), &fakeInspector{}, newReg(t), "  ")
	assert.Error(t, err)
}

func TestProfileFromCmdline(t *testing.T) {
	cases := map[string]string{
		"java -jar bot.jar -profile miner":    "miner",
		"java -jar bot.jar --profile fisher":  "fisher",
		"java -jar bot.jar --profile=smith":   "smith",
		"java -jar bot.jar -profile=runner":   "runner",
		"java -jar bot.jar":                   "detected",
		"java -jar bot.jar -profile":          "detected",
		"java -jar bot.jar --profile= -debug": "detected",
	}
	for cmdline, want := range cases {
		assert.Equal(t, want, profileFromCmdline(cmdline), "cmdline: %s", cmdline)
	}
}
