// Package inspector abstracts read-only access to the OS process table so
// the supervision logic can be driven by a fake on any platform.
package inspector

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the process no longer exists (or is a zombie).
	// Expected during normal operation; drives crash classification.
	ErrNotFound = errors.New("process not found")
	// ErrPermissionDenied means the process exists but its metrics are not
	// accessible, or the query was inconclusive (timeout). Never treated as
	// a crash.
	ErrPermissionDenied = errors.New("process metrics inaccessible")
)

// ProcInfo is one entry from a full process-table enumeration.
type ProcInfo struct {
	PID     int
	CmdLine string
}

// Metrics is a point-in-time resource sample for a live process.
type Metrics struct {
	CPUPercent  float64
	MemoryBytes uint64
	StartedAt   time.Time
}

// Inspector queries the OS process table. Implementations are read-only and
// must be safe for concurrent use.
type Inspector interface {
	// List enumerates all currently visible processes with their command
	// lines. Used once per discovery scan, not during normal ticks.
	List(ctx context.Context) ([]ProcInfo, error)
	// Query returns live metrics for pid, ErrNotFound when the process is
	// gone, or ErrPermissionDenied when liveness is inconclusive.
	Query(ctx context.Context, pid int) (Metrics, error)
}
