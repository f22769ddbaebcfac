package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	botStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botfleet",
			Subsystem: "bot",
			Name:      "starts_total",
			Help:      "Number of successful bot launches.",
		}, []string{"profile"},
	)
	botStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botfleet",
			Subsystem: "bot",
			Name:      "stops_total",
			Help:      "Number of stop commands executed (graceful or kill).",
		}, []string{"profile"},
	)
	botCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botfleet",
			Subsystem: "bot",
			Name:      "crashes_total",
			Help:      "Number of unexpected process exits observed.",
		}, []string{"profile"},
	)
	botAutoRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botfleet",
			Subsystem: "bot",
			Name:      "auto_restarts_total",
			Help:      "Number of crash-triggered automatic restarts.",
		}, []string{"profile"},
	)
	trackedBots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botfleet",
			Subsystem: "registry",
			Name:      "tracked_bots",
			Help:      "Current number of tracked bot records per status.",
		}, []string{"status"},
	)
	botCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botfleet",
			Subsystem: "bot",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage percentage per profile.",
		}, []string{"profile"},
	)
	botMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botfleet",
			Subsystem: "bot",
			Name:      "memory_bytes",
			Help:      "Last sampled resident memory per profile.",
		}, []string{"profile"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	collectors := []prometheus.Collector{
		botStarts, botStops, botCrashes, botAutoRestarts,
		trackedBots, botCPUPercent, botMemoryBytes,
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving the default prometheus registry.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(profile string)       { botStarts.WithLabelValues(profile).Inc() }
func IncStop(profile string)        { botStops.WithLabelValues(profile).Inc() }
func IncCrash(profile string)       { botCrashes.WithLabelValues(profile).Inc() }
func IncAutoRestart(profile string) { botAutoRestarts.WithLabelValues(profile).Inc() }

// SetTracked replaces the per-status record gauge with the given counts.
func SetTracked(byStatus map[string]int) {
	trackedBots.Reset()
	for status, n := range byStatus {
		trackedBots.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveUsage records the last resource sample for a profile.
func ObserveUsage(profile string, cpuPercent float64, memoryBytes uint64) {
	botCPUPercent.WithLabelValues(profile).Set(cpuPercent)
	botMemoryBytes.WithLabelValues(profile).Set(float64(memoryBytes))
}

// DropProfile removes the per-profile gauges when a record is deleted so
// dead profiles do not linger on dashboards.
func DropProfile(profile string) {
	botCPUPercent.DeleteLabelValues(profile)
	botMemoryBytes.DeleteLabelValues(profile)
}
