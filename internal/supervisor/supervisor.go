// Package supervisor is the polling/decision engine: on each tick it
// reconciles registry state against the OS process table, classifies
// transitions, and auto-restarts crashed bots when policy allows.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/botfleet/botfleet/internal/discovery"
	"github.com/botfleet/botfleet/internal/history"
	"github.com/botfleet/botfleet/internal/inspector"
	"github.com/botfleet/botfleet/internal/metrics"
	"github.com/botfleet/botfleet/internal/registry"
)

var (
	// ErrUnknownRecord means no tracked record exists for the given pid.
	ErrUnknownRecord = errors.New("unknown bot record")
	// ErrStillRunning guards Remove: the process must be stopped first.
	ErrStillRunning = errors.New("process still running; stop it before removing")
	// ErrNoLaunchScript means the record cannot be (re)started because it
	// was detected rather than launched by this tool.
	ErrNoLaunchScript = errors.New("record has no launch script")
)

// Launcher is the slice of the launch controller the supervisor drives.
type Launcher interface {
	Start(script, profile string) (registry.Record, error)
	Stop(ctx context.Context, pid int) error
}

// Config holds the restart policy and tick tuning knobs.
type Config struct {
	// Signature is the default command-line fragment Scan looks for.
	Signature string
	// RestartBackoff is the minimum interval between automatic restarts of
	// the same logical bot slot.
	RestartBackoff time.Duration
	// MaxRestarts automatic restarts within RestartWindow park the record
	// as stopped instead of feeding a restart storm.
	MaxRestarts   int
	RestartWindow time.Duration
	// Workers bounds parallel OS queries per tick.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = 30 * time.Second
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	if c.RestartWindow <= 0 {
		c.RestartWindow = 10 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	return c
}

// Supervisor owns all registry mutation. Ticks and commands are serialized
// by a single mutex so there is exactly one logical writer; OS queries
// inside a tick may fan out but always join before any mutation.
type Supervisor struct {
	mu     sync.Mutex
	cfg    Config
	reg    *registry.Registry
	insp   inspector.Inspector
	launch Launcher
	sinks  []history.Sink
}

// New wires a supervisor over the given registry, inspector and launcher.
func New(cfg Config, reg *registry.Registry, insp inspector.Inspector, launch Launcher) *Supervisor {
	return &Supervisor{cfg: cfg.withDefaults(), reg: reg, insp: insp, launch: launch}
}

// SetHistorySinks configures lifecycle event destinations. Passing none
// clears the list. Sink errors are logged, never propagated.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

func (s *Supervisor) emit(ctx context.Context, t history.EventType, rec registry.Record, detail string) {
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		PID:        rec.PID,
		Profile:    rec.Profile,
		Detail:     detail,
	}
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, e); err != nil {
			slog.Warn("history sink rejected event", "type", t, "pid", rec.PID, "error", err)
		}
	}
}

type queryResult struct {
	metrics inspector.Metrics
	err     error
}

// Tick runs one reconciliation pass: query liveness of every record that
// should have a live pid, apply state transitions, auto-restart where policy
// allows, refresh gauges, and persist the registry. Per-record failures are
// contained to that record; only the final registry save can fail the tick.
func (s *Supervisor) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.reg.All()
	results := s.queryAll(ctx, records)

	now := time.Now().UTC()
	for _, rec := range records {
		res, queried := results[rec.PID]
		if !queried {
			continue
		}
		cur, ok := s.reg.Get(rec.PID)
		if !ok {
			continue
		}
		switch {
		case res.err == nil:
			cur.CPUPercent = res.metrics.CPUPercent
			cur.MemoryBytes = res.metrics.MemoryBytes
			cur.LastSeenAt = now
			if cur.Status == registry.StatusStarting {
				cur.Status = registry.StatusRunning
				slog.Info("bot confirmed running", "pid", cur.PID, "profile", cur.Profile)
			}
			s.reg.Upsert(cur)
		case errors.Is(res.err, inspector.ErrNotFound):
			s.handleDown(ctx, cur, now)
		default:
			// PermissionDenied class: liveness is ambiguous, never restart.
			cur.Status = registry.StatusError
			cur.LastError = res.err.Error()
			s.reg.Upsert(cur)
			slog.Warn("bot liveness inconclusive", "pid", cur.PID, "profile", cur.Profile, "error", res.err)
		}
	}

	s.refreshGauges()
	return s.reg.Save()
}

// queryAll probes every record that should have a live pid through a bounded
// worker pool and joins fully before returning, preserving the serial
// mutation guarantee.
func (s *Supervisor) queryAll(ctx context.Context, records []registry.Record) map[int]queryResult {
	results := make(map[int]queryResult, len(records))
	var rmu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.Workers)
	for _, rec := range records {
		switch rec.Status {
		case registry.StatusStarting, registry.StatusRunning, registry.StatusCrashed:
		default:
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(pid int) {
			defer wg.Done()
			defer func() { <-sem }()
			m, err := s.insp.Query(ctx, pid)
			rmu.Lock()
			results[pid] = queryResult{metrics: m, err: err}
			rmu.Unlock()
		}(rec.PID)
	}
	wg.Wait()
	return results
}

// handleDown classifies a liveness loss and applies the restart policy.
// It owns the registry update for the record: either the mutated copy is
// written back, or the record is replaced under a fresh pid.
func (s *Supervisor) handleDown(ctx context.Context, cur registry.Record, now time.Time) {
	if cur.Status != registry.StatusCrashed {
		cur.Status = registry.StatusCrashed
		metrics.IncCrash(cur.Profile)
		s.emit(ctx, history.EventCrash, cur, "pid vanished")
		slog.Warn("bot crashed", "pid", cur.PID, "profile", cur.Profile, "restarts", cur.Restarts)
	}

	if !cur.AntiCrash || cur.LaunchScript == "" {
		// Stays crashed until a manual command; detected records have no
		// script to relaunch.
		s.reg.Upsert(cur)
		return
	}

	cur.RecentRestarts = pruneWindow(cur.RecentRestarts, now, s.cfg.RestartWindow)
	if len(cur.RecentRestarts) >= s.cfg.MaxRestarts {
		cur.Status = registry.StatusStopped
		s.reg.Upsert(cur)
		s.emit(ctx, history.EventStop, cur, "restart storm throttled")
		slog.Warn("restart storm throttled, giving up on slot",
			"pid", cur.PID, "profile", cur.Profile, "restarts_in_window", len(cur.RecentRestarts))
		return
	}
	if !cur.LastRestartAt.IsZero() && now.Sub(cur.LastRestartAt) < s.cfg.RestartBackoff {
		// Backoff not elapsed yet; retry on a later tick.
		s.reg.Upsert(cur)
		return
	}

	fresh, err := s.launch.Start(cur.LaunchScript, cur.Profile)
	if err != nil {
		cur.LastError = err.Error()
		s.reg.Upsert(cur)
		slog.Error("auto-restart failed", "pid", cur.PID, "profile", cur.Profile, "error", err)
		return
	}

	// The logical slot survives the pid change: carry restart accounting
	// and the anti-crash toggle onto the fresh record.
	fresh.Restarts = cur.Restarts + 1
	fresh.AntiCrash = cur.AntiCrash
	fresh.LastRestartAt = now
	fresh.RecentRestarts = append(cur.RecentRestarts, now)
	s.reg.Remove(cur.PID)
	s.reg.Upsert(fresh)
	metrics.IncAutoRestart(cur.Profile)
	s.emit(ctx, history.EventAutoRestart, fresh, fmt.Sprintf("restart #%d of pid %d", fresh.Restarts, cur.PID))
	slog.Info("bot auto-restarted",
		"old_pid", cur.PID, "new_pid", fresh.PID, "profile", cur.Profile, "restarts", fresh.Restarts)
}

func pruneWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if now.Sub(t) <= window {
			out = append(out, t)
		}
	}
	return out
}

func (s *Supervisor) refreshGauges() {
	byStatus := make(map[string]int)
	for _, rec := range s.reg.All() {
		byStatus[string(rec.Status)]++
		if rec.Status == registry.StatusRunning {
			metrics.ObserveUsage(rec.Profile, rec.CPUPercent, rec.MemoryBytes)
		}
	}
	metrics.SetTracked(byStatus)
}

// StartBot launches a new bot from a script. When a terminal record for the
// same profile exists it is replaced and its restart count carried over;
// otherwise the new record starts at zero. The registry is left unchanged on
// launch failure.
func (s *Supervisor) StartBot(ctx context.Context, script, profile string) (registry.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.launch.Start(script, profile)
	if err != nil {
		return registry.Record{}, err
	}
	for _, old := range s.reg.All() {
		if old.Profile == profile && old.Status.Terminal() {
			rec.Restarts = old.Restarts
			rec.RecentRestarts = old.RecentRestarts
			rec.LastRestartAt = old.LastRestartAt
			s.reg.Remove(old.PID)
			break
		}
	}
	s.reg.Upsert(rec)
	metrics.IncStart(profile)
	s.emit(ctx, history.EventStart, rec, "")
	return rec, s.reg.Save()
}

// StopBot terminates the process for pid and records why: manual stops are
// terminal until an explicit start and are never classified as crashes.
// Stopping an already-dead process succeeds.
func (s *Supervisor) StopBot(ctx context.Context, pid int, manual bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.reg.Get(pid)
	if !ok {
		return fmt.Errorf("%w: pid %d", ErrUnknownRecord, pid)
	}
	if err := s.launch.Stop(ctx, pid); err != nil {
		return err
	}
	if manual {
		rec.Status = registry.StatusStoppedManual
	} else {
		rec.Status = registry.StatusStopped
	}
	rec.LastSeenAt = time.Now().UTC()
	s.reg.Upsert(rec)
	metrics.IncStop(rec.Profile)
	detail := ""
	if manual {
		detail = "manual"
	}
	s.emit(ctx, history.EventStop, rec, detail)
	return s.reg.Save()
}

// RestartBot stops and immediately relaunches the bot under the same script
// and profile. This is a manual operation: the restart count carries over
// unchanged.
func (s *Supervisor) RestartBot(ctx context.Context, pid int) (registry.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.reg.Get(pid)
	if !ok {
		return registry.Record{}, fmt.Errorf("%w: pid %d", ErrUnknownRecord, pid)
	}
	if rec.LaunchScript == "" {
		return registry.Record{}, fmt.Errorf("%w: pid %d was detected, not launched", ErrNoLaunchScript, pid)
	}
	if err := s.launch.Stop(ctx, pid); err != nil {
		return registry.Record{}, err
	}

	fresh, err := s.launch.Start(rec.LaunchScript, rec.Profile)
	if err != nil {
		// The old process is gone either way; record that before failing.
		rec.Status = registry.StatusStopped
		rec.LastSeenAt = time.Now().UTC()
		s.reg.Upsert(rec)
		_ = s.reg.Save()
		return registry.Record{}, err
	}
	fresh.Restarts = rec.Restarts
	fresh.AntiCrash = rec.AntiCrash
	fresh.RecentRestarts = rec.RecentRestarts
	fresh.LastRestartAt = rec.LastRestartAt
	s.reg.Remove(pid)
	s.reg.Upsert(fresh)
	metrics.IncStart(rec.Profile)
	s.emit(ctx, history.EventStart, fresh, fmt.Sprintf("manual restart of pid %d", pid))
	return fresh, s.reg.Save()
}

// ToggleAntiCrash flips the auto-restart eligibility flag and returns the
// new value. Two toggles restore the original.
func (s *Supervisor) ToggleAntiCrash(pid int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.reg.Get(pid)
	if !ok {
		return false, fmt.Errorf("%w: pid %d", ErrUnknownRecord, pid)
	}
	rec.AntiCrash = !rec.AntiCrash
	s.reg.Upsert(rec)
	return rec.AntiCrash, s.reg.Save()
}

// Remove deletes the record for pid. It refuses while the process is alive
// (or its liveness is ambiguous) so an explicit stop always comes first.
func (s *Supervisor) Remove(ctx context.Context, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.reg.Get(pid)
	if !ok {
		return fmt.Errorf("%w: pid %d", ErrUnknownRecord, pid)
	}
	_, err := s.insp.Query(ctx, pid)
	if err == nil || !errors.Is(err, inspector.ErrNotFound) {
		return fmt.Errorf("%w: pid %d", ErrStillRunning, pid)
	}
	s.reg.Remove(pid)
	metrics.DropProfile(rec.Profile)
	return s.reg.Save()
}

// Cleanup purges terminal-state records whose last liveness confirmation is
// older than age, returning the count removed.
func (s *Supervisor) Cleanup(age time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for _, rec := range s.reg.All() {
		if rec.Status.Terminal() && now.Sub(rec.LastSeenAt) > age {
			s.reg.Remove(rec.PID)
			metrics.DropProfile(rec.Profile)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.reg.Save()
}

// Scan performs a one-shot discovery pass. An empty signature falls back to
// the configured default.
func (s *Supervisor) Scan(ctx context.Context, signature string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if signature == "" {
		signature = s.cfg.Signature
	}
	added, err := discovery.Scan(ctx, s.insp, s.reg, signature)
	if err != nil {
		return 0, err
	}
	for _, rec := range added {
		s.emit(ctx, history.EventDetect, rec, "found by scan")
	}
	if len(added) == 0 {
		return 0, nil
	}
	return len(added), s.reg.Save()
}

// Snapshot returns all tracked records in insertion order.
func (s *Supervisor) Snapshot() []registry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.All()
}
