// Package metrics defines the Prometheus metrics exported by frameguard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts classified frames by ingress interface and verdict.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameguard_frames_total",
			Help: "Total number of frames classified",
		},
		[]string{"interface", "verdict"},
	)

	// DecisionsTotal counts classified frames by the reason for their verdict.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameguard_decisions_total",
			Help: "Total number of classification decisions by reason",
		},
		[]string{"interface", "reason"},
	)

	// ActuateErrorsTotal counts verdicts the host failed to carry out.
	ActuateErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameguard_actuate_errors_total",
			Help: "Total number of verdicts that could not be applied",
		},
		[]string{"interface"},
	)

	// SourceDropsTotal tracks frames the kernel dropped before they were read.
	SourceDropsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frameguard_source_kernel_drops",
			Help: "Frames dropped by the kernel ring before they were read",
		},
		[]string{"interface"},
	)

	// TableGeneration is the generation of the active rule table.
	TableGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frameguard_table_generation",
			Help: "Generation of the active rule table, incremented on every swap",
		},
	)

	// TableRules is the number of rules in the active table.
	TableRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frameguard_table_rules",
			Help: "Number of rules in the active table",
		},
	)

	// ReloadsTotal counts configuration reloads by result.
	ReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frameguard_reloads_total",
			Help: "Total number of rule table reloads",
		},
		[]string{"result"},
	)

	// ReloadDurationSeconds measures how long building and installing a table takes.
	ReloadDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "frameguard_reload_duration_seconds",
			Help:    "Time taken to build, compile and install a rule table",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
		},
	)

	// HooksAttached is the number of XDP hooks currently attached.
	HooksAttached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frameguard_xdp_hooks_attached",
			Help: "Number of interfaces with the XDP program attached",
		},
	)
)

// Reload results.
const (
	ReloadOK       = "ok"
	ReloadRejected = "rejected"
)
