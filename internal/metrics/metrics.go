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

	backupRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Number of backup sessions by mode and result.",
		}, []string{"mode", "result"},
	)
	backupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bedrockd",
			Subsystem: "backup",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of backup sessions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"},
	)
	restores = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "backup",
			Name:      "restores_total",
			Help:      "Number of world restores from archives.",
		},
	)
	crashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "watchdog",
			Name:      "crashes_total",
			Help:      "Number of unexpected server exits observed.",
		},
	)
	restarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "watchdog",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts performed.",
		},
	)
	renderRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bedrockd",
			Subsystem: "render",
			Name:      "runs_total",
			Help:      "Number of render runs by result.",
		}, []string{"result"},
	)
)

// Register registers all collectors with r. Safe to call multiple times;
// subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{backupRuns, backupDuration, restores, crashes, restarts, renderRuns}
	for _, c := range cs {
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

// Handler serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveBackup records one backup session outcome and duration.
func ObserveBackup(mode string, ok bool, seconds float64) {
	backupRuns.WithLabelValues(mode, result(ok)).Inc()
	backupDuration.WithLabelValues(mode).Observe(seconds)
}

// IncRestore counts a completed restore.
func IncRestore() { restores.Inc() }

// IncCrash counts an unexpected server exit.
func IncCrash() { crashes.Inc() }

// IncRestart counts an automatic restart.
func IncRestart() { restarts.Inc() }

// ObserveRender records one render run outcome.
func ObserveRender(ok bool) { renderRuns.WithLabelValues(result(ok)).Inc() }
