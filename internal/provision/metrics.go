package provision

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nos_wizard_provision_runs_total",
			Help: "Provisioning runs by result.",
		},
		[]string{"result"},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nos_wizard_provision_duration_seconds",
			Help:    "Duration of provisioning runs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
	syncOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nos_wizard_sync_outcomes_total",
			Help: "Initial parity sync outcomes.",
		},
		[]string{"outcome"},
	)
	syncProgressGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nos_wizard_sync_progress_percent",
			Help: "Last reported initial sync progress.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(syncOutcomes)
	prometheus.MustRegister(syncProgressGauge)
}

func incRun(result string)               { runsTotal.WithLabelValues(result).Inc() }
func observeRunDuration(start time.Time) { runDuration.Observe(time.Since(start).Seconds()) }
func incSyncOutcome(outcome string)      { syncOutcomes.WithLabelValues(outcome).Inc() }
func setSyncProgress(pct float64)        { syncProgressGauge.Set(pct) }
