package inspector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// DefaultQueryTimeout bounds a single Query so one hung OS call cannot
// block a whole tick. Expiry is reported as the inconclusive
// (PermissionDenied) class, never as a crash.
const DefaultQueryTimeout = 300 * time.Millisecond

// PS is the gopsutil-backed Inspector.
type PS struct {
	QueryTimeout time.Duration
}

// NewPS returns an Inspector over the real OS process table.
func NewPS() *PS {
	return &PS{QueryTimeout: DefaultQueryTimeout}
}

func (p *PS) List(ctx context.Context) ([]ProcInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	out := make([]ProcInfo, 0, len(procs))
	for _, pr := range procs {
		cmdline, err := pr.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			// Kernel threads and processes that died mid-scan have no
			// command line; nothing to match a signature against.
			continue
		}
		out = append(out, ProcInfo{PID: int(pr.Pid), CmdLine: cmdline})
	}
	return out, nil
}

func (p *PS) Query(ctx context.Context, pid int) (Metrics, error) {
	timeout := p.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pr, err := process.NewProcessWithContext(qctx, int32(pid))
	if err != nil {
		return Metrics{}, classify(err)
	}
	running, err := pr.IsRunningWithContext(qctx)
	if err != nil {
		return Metrics{}, classify(err)
	}
	if !running {
		return Metrics{}, ErrNotFound
	}
	// A reaped-but-unwaited child still shows up as running; treat it as
	// gone the way liveness loss is treated everywhere else.
	if statuses, err := pr.StatusWithContext(qctx); err == nil {
		for _, st := range statuses {
			if st == process.Zombie {
				return Metrics{}, ErrNotFound
			}
		}
	}

	var m Metrics
	cpu, err := pr.CPUPercentWithContext(qctx)
	if err != nil {
		return Metrics{}, classify(err)
	}
	m.CPUPercent = cpu
	mem, err := pr.MemoryInfoWithContext(qctx)
	if err != nil {
		return Metrics{}, classify(err)
	}
	if mem != nil {
		m.MemoryBytes = mem.RSS
	}
	if createdMs, err := pr.CreateTimeWithContext(qctx); err == nil && createdMs > 0 {
		m.StartedAt = time.UnixMilli(createdMs)
	}
	return m, nil
}

// classify maps raw OS/gopsutil errors onto the inspector taxonomy. Anything
// ambiguous lands on the PermissionDenied (inconclusive) side so the caller
// never restarts a process that may still be alive.
func classify(err error) error {
	switch {
	case errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, syscall.ESRCH):
		return ErrNotFound
	case errors.Is(err, os.ErrPermission),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.EACCES):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: query timed out", ErrPermissionDenied)
	default:
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
}
