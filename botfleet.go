// Package botfleet supervises game-client bot worker processes: it launches
// them, watches their pids, restarts crashes, and persists what it knows
// across its own restarts.
package botfleet

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/botfleet/botfleet/internal/config"
	"github.com/botfleet/botfleet/internal/history"
	histfactory "github.com/botfleet/botfleet/internal/history/factory"
	"github.com/botfleet/botfleet/internal/inspector"
	"github.com/botfleet/botfleet/internal/launcher"
	"github.com/botfleet/botfleet/internal/logger"
	"github.com/botfleet/botfleet/internal/metrics"
	"github.com/botfleet/botfleet/internal/registry"
	iapi "github.com/botfleet/botfleet/internal/server"
	"github.com/botfleet/botfleet/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Record = registry.Record

type Status = registry.Status

type Config = config.Config

type HistorySink = history.Sink

const (
	StatusStarting      = registry.StatusStarting
	StatusRunning       = registry.StatusRunning
	StatusCrashed       = registry.StatusCrashed
	StatusStopped       = registry.StatusStopped
	StatusStoppedManual = registry.StatusStoppedManual
	StatusError         = registry.StatusError
)

// Fleet is the assembled supervision core: registry, inspector, launcher
// and supervisor wired from one Config, plus an optional tick scheduler
// and history store.
type Fleet struct {
	cfg   config.Config
	sup   *supervisor.Supervisor
	reg   *registry.Registry
	hist  history.Sink
	sched *supervisor.Scheduler
}

// LoadConfig reads the TOML config at path; empty path yields defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// New assembles a Fleet from cfg and loads any persisted registry state.
// When cfg.HistoryDSN is set the history store is opened and its schema
// ensured. Call Close when done.
func New(ctx context.Context, cfg Config) (*Fleet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Setup(cfg.LogLevel)

	reg := registry.New(cfg.RegistryPath)
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	insp := inspector.NewPS()
	if cfg.QueryTimeout > 0 {
		insp.QueryTimeout = cfg.QueryTimeout
	}
	launch := launcher.New(cfg.StopGrace, cfg.Log)

	sup := supervisor.New(supervisor.Config{
		Signature:      cfg.Signature,
		RestartBackoff: cfg.RestartBackoff,
		MaxRestarts:    cfg.MaxRestarts,
		RestartWindow:  cfg.RestartWindow,
		Workers:        cfg.Workers,
	}, reg, insp, launch)

	f := &Fleet{cfg: cfg, sup: sup, reg: reg}
	if cfg.HistoryDSN != "" {
		sink, err := histfactory.NewFromDSN(cfg.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		if err := sink.EnsureSchema(ctx); err != nil {
			_ = sink.Close()
			return nil, fmt.Errorf("ensure history schema: %w", err)
		}
		f.hist = sink
		sup.SetHistorySinks(sink)
	}
	return f, nil
}

// Supervisor exposes the underlying decision engine for embedding.
func (f *Fleet) Supervisor() *supervisor.Supervisor { return f.sup }

// History returns the configured history sink, nil when disabled.
func (f *Fleet) History() history.Sink { return f.hist }

// Tick runs one reconciliation pass immediately.
func (f *Fleet) Tick(ctx context.Context) error { return f.sup.Tick(ctx) }

// StartScheduler begins periodic ticks at the configured interval.
func (f *Fleet) StartScheduler() {
	if f.sched == nil {
		f.sched = supervisor.NewScheduler(f.cfg.TickInterval, func(ctx context.Context) {
			if err := f.sup.Tick(ctx); err != nil {
				// registry save failures surface here; the next tick retries
				slog.Warn("tick failed", "error", err)
			}
		})
	}
	f.sched.Start()
}

// Close stops the scheduler (waiting for any in-flight tick) and closes the
// history store.
func (f *Fleet) Close() error {
	if f.sched != nil {
		f.sched.Stop()
	}
	if f.hist != nil {
		return f.hist.Close()
	}
	return nil
}

// Command surface, delegating to the supervisor.

func (f *Fleet) StartBot(ctx context.Context, script, profile string) (Record, error) {
	return f.sup.StartBot(ctx, script, profile)
}

func (f *Fleet) StopBot(ctx context.Context, pid int) error {
	return f.sup.StopBot(ctx, pid, true)
}

func (f *Fleet) RestartBot(ctx context.Context, pid int) (Record, error) {
	return f.sup.RestartBot(ctx, pid)
}

func (f *Fleet) ToggleAntiCrash(pid int) (bool, error) { return f.sup.ToggleAntiCrash(pid) }

func (f *Fleet) Remove(ctx context.Context, pid int) error { return f.sup.Remove(ctx, pid) }

func (f *Fleet) Cleanup(age time.Duration) (int, error) { return f.sup.Cleanup(age) }

func (f *Fleet) Scan(ctx context.Context, signature string) (int, error) {
	return f.sup.Scan(ctx, signature)
}

func (f *Fleet) Snapshot() []Record { return f.sup.Snapshot() }

// NewHTTPServer starts the HTTP API for this fleet on addr.
func (f *Fleet) NewHTTPServer(addr, basePath string) *http.Server {
	return iapi.NewServer(addr, basePath, f.sup, f.hist)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
