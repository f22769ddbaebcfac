// Package discovery finds already-running bot processes that this tool did
// not launch and registers them for monitoring.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/botfleet/botfleet/internal/inspector"
	"github.com/botfleet/botfleet/internal/registry"
)

// Scan enumerates OS processes, keeps those whose command line contains
// signature, skips pids already tracked, and registers the rest as detected
// records in the running state. Returns the newly added records; re-running
// with nothing new returns an empty slice.
//
// Detected records carry no launch script and can never be auto-restarted.
func Scan(ctx context.Context, insp inspector.Inspector, reg *registry.Registry, signature string) ([]registry.Record, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("empty scan signature")
	}
	procs, err := insp.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan processes: %w", err)
	}

	var added []registry.Record
	now := time.Now().UTC()
	for _, p := range procs {
		if !strings.Contains(p.CmdLine, signature) {
			continue
		}
		if _, tracked := reg.Get(p.PID); tracked {
			continue
		}
		rec := registry.Record{
			PID:        p.PID,
			Profile:    profileFromCmdline(p.CmdLine),
			Status:     registry.StatusRunning,
			StartedAt:  now,
			LastSeenAt: now,
			Detected:   true,
		}
		// Best effort: real start time and a first resource sample.
		if m, err := insp.Query(ctx, p.PID); err == nil {
			if !m.StartedAt.IsZero() {
				rec.StartedAt = m.StartedAt
			}
			rec.CPUPercent = m.CPUPercent
			rec.MemoryBytes = m.MemoryBytes
		}
		reg.Upsert(rec)
		added = append(added, rec)
		slog.Info("detected running bot", "pid", p.PID, "profile", rec.Profile)
	}
	return added, nil
}

// profileFromCmdline extracts the profile argument the launch script passes
// to the worker ("-profile NAME" or "--profile=NAME"). Falls back to
// "detected" when the process was started some other way.
func profileFromCmdline(cmdline string) string {
	fields := strings.Fields(cmdline)
	for i, f := range fields {
		switch {
		case f == "-profile" || f == "--profile":
			if i+1 < len(fields) {
				return fields[i+1]
			}
		case strings.HasPrefix(f, "--profile="):
			if v := strings.TrimPrefix(f, "--profile="); v != "" {
				return v
			}
		case strings.HasPrefix(f, "-profile="):
			if v := strings.TrimPrefix(f, "-profile="); v != "" {
				return v
			}
		}
	}
	return "detected"
}
