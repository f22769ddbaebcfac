// Package launcher starts bot worker processes from launch scripts and
// stops them with graceful-then-forced termination.
package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/botfleet/botfleet/internal/logger"
	"github.com/botfleet/botfleet/internal/registry"
)

var (
	// ErrScriptNotFound means the launch script path does not exist.
	ErrScriptNotFound = errors.New("launch script not found")
	// ErrSpawnFailed means the OS refused to create the process.
	ErrSpawnFailed = errors.New("failed to spawn process")
	// ErrStopTimeout means the process survived both the graceful window
	// and the forced kill.
	ErrStopTimeout = errors.New("process did not exit after kill")
)

// DefaultStopGrace is the graceful-termination window before SIGKILL.
const DefaultStopGrace = 5 * time.Second

const killSettle = 500 * time.Millisecond

// Launcher spawns and terminates bot processes. Stopping a pid that is
// already gone is success; stop is idempotent.
type Launcher struct {
	Grace time.Duration // graceful stop window, DefaultStopGrace when zero
	Log   logger.Config // destinations for captured bot stdout/stderr
}

// New returns a Launcher with the given stop grace period and bot output
// destinations.
func New(grace time.Duration, logCfg logger.Config) *Launcher {
	return &Launcher{Grace: grace, Log: logCfg}
}

// Start executes the launch script and returns a fresh record in the
// starting state. Restarts on the returned record is always zero; the
// supervision layer carries counts over when a record is being replaced.
func (l *Launcher) Start(script, profile string) (registry.Record, error) {
	info, err := os.Stat(script)
	if err != nil || info.IsDir() {
		return registry.Record{}, fmt.Errorf("%w: %s", ErrScriptNotFound, script)
	}

	cmd := buildCommand(script, info)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if l.Log.Dir != "" {
		_ = os.MkdirAll(l.Log.Dir, 0o750)
	}
	outW, errW, _ := l.Log.Writers(profile)
	cmd.Stdout = writerOrNull(outW)
	cmd.Stderr = writerOrNull(errW)

	if err := cmd.Start(); err != nil {
		closeWriters(outW, errW)
		return registry.Record{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	// Reap the child when it exits so it never lingers as a zombie; the
	// supervision tick observes the exit through the process table.
	go func() {
		_ = cmd.Wait()
		closeWriters(outW, errW)
	}()

	now := time.Now().UTC()
	return registry.Record{
		PID:          cmd.Process.Pid,
		Profile:      profile,
		LaunchScript: script,
		Status:       registry.StatusStarting,
		StartedAt:    now,
		LastSeenAt:   now,
		AntiCrash:    true,
	}, nil
}

// Stop requests graceful termination of pid's process group and escalates to
// SIGKILL once the grace period elapses. A pid that is already gone returns
// nil. ErrStopTimeout is returned only when the forced kill also fails to
// take before ctx or the settle window runs out.
func (l *Launcher) Stop(ctx context.Context, pid int) error {
	if !alive(pid) {
		return nil
	}
	grace := l.Grace
	if grace <= 0 {
		grace = DefaultStopGrace
	}

	signalGroup(pid, syscall.SIGTERM)
	if waitGone(ctx, pid, grace) {
		return nil
	}

	signalGroup(pid, syscall.SIGKILL)
	if waitGone(ctx, pid, killSettle) {
		return nil
	}
	return fmt.Errorf("%w: pid %d", ErrStopTimeout, pid)
}

// buildCommand runs the script directly when it carries an exec bit and
// falls back to /bin/sh otherwise (scripts written without a shebang).
func buildCommand(script string, info os.FileInfo) *exec.Cmd {
	if info.Mode()&0o111 != 0 {
		// #nosec G204 -- script path comes from operator configuration
		return exec.Command(script)
	}
	// #nosec G204
	return exec.Command("/bin/sh", script)
}

// signalGroup targets the whole process group and falls back to the single
// pid when the group is gone or was never created.
func signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = syscall.Kill(pid, sig)
	}
}

func waitGone(ctx context.Context, pid int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !alive(pid)
		case <-time.After(50 * time.Millisecond):
		}
	}
	return !alive(pid)
}

// alive reports liveness via signal 0; a zombie counts as dead because it
// can no longer do any work and will be reaped momentarily.
func alive(pid int) bool {
	if err := syscall.Kill(pid, 0); err != nil {
		return errors.Is(err, syscall.EPERM)
	}
	return !isZombie(pid)
}

func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

func writerOrNull(w io.Writer) io.Writer {
	if w != nil {
		return w
	}
	null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	return null
}

func closeWriters(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}
