package registry

import (
	"fmt"
	"time"
)

// Status is the closed set of states a tracked bot can be in.
type Status string

const (
	StatusStarting      Status = "starting"
	StatusRunning       Status = "running"
	StatusCrashed       Status = "crashed"
	StatusStopped       Status = "stopped"
	StatusStoppedManual Status = "stopped_manual"
	StatusError         Status = "error"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusCrashed, StatusStopped, StatusStoppedManual, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is eligible for cleanup sweeps. A terminal
// record stays put until an explicit command or an age-based purge.
func (s Status) Terminal() bool {
	switch s {
	case StatusCrashed, StatusStopped, StatusStoppedManual:
		return true
	}
	return false
}

// Record is one tracked bot instance. PID is the OS process id at the time
// the record was created and is the registry key; an auto-restart replaces
// the record under a new PID while Restarts and the profile identity carry
// over.
type Record struct {
	PID          int       `json:"pid"`
	Profile      string    `json:"profile"`
	LaunchScript string    `json:"launch_script,omitempty"`
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	CPUPercent   float64   `json:"cpu_percent,omitempty"`
	MemoryBytes  uint64    `json:"memory_bytes,omitempty"`

	// Restarts counts automatic crash-triggered restarts only. Manual
	// restarts never touch it.
	Restarts  int  `json:"restarts"`
	AntiCrash bool `json:"anti_crash"`
	Detected  bool `json:"detected"`

	// LastRestartAt anchors the per-record restart backoff. RecentRestarts
	// holds restart timestamps inside the storm-throttle window and is
	// pruned whenever the policy consults it.
	LastRestartAt  time.Time   `json:"last_restart_at,omitempty"`
	RecentRestarts []time.Time `json:"recent_restarts,omitempty"`

	// LastError carries the message surfaced when Status is "error".
	LastError string `json:"last_error,omitempty"`
}

// Validate checks structural invariants of a record. It is applied to every
// line decoded during Load so a record that would corrupt supervision state
// is treated the same as unparseable JSON.
func (r Record) Validate() error {
	if r.PID <= 0 {
		return fmt.Errorf("invalid pid %d", r.PID)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if r.Detected && r.LaunchScript != "" {
		return fmt.Errorf("detected record %d carries a launch script", r.PID)
	}
	if r.Restarts < 0 {
		return fmt.Errorf("negative restart count %d", r.Restarts)
	}
	return nil
}

// Uptime returns how long the bot has been observed alive, zero for records
// without a start timestamp.
func (r Record) Uptime(now time.Time) time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	d := now.Sub(r.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}
