package pipeline

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/metrics"
)

// Metrics contains per-pipeline counters. Each counter is mirrored to the
// Prometheus vectors in package metrics under the source's interface label.
type Metrics struct {
	Source     string
	PipelineID int

	Received      atomic.Uint64
	Truncated     atomic.Uint64
	ActuateErrors atomic.Uint64
	ReadErrors    atomic.Uint64
	verdicts      [len(core.Verdicts)]atomic.Uint64

	// Resolved once so the per-frame path does no label lookups.
	promVerdicts [len(core.Verdicts)]prometheus.Counter
	promReasons  [len(classifier.Reasons)]prometheus.Counter
	promActuate  prometheus.Counter
}

// NewMetrics creates a new metrics instance.
func NewMetrics(source string, pipelineID int) *Metrics {
	m := &Metrics{
		Source:      source,
		PipelineID:  pipelineID,
		promActuate: metrics.ActuateErrorsTotal.WithLabelValues(source),
	}
	for _, v := range core.Verdicts {
		m.promVerdicts[v] = metrics.FramesTotal.WithLabelValues(source, v.String())
	}
	for _, r := range classifier.Reasons {
		m.promReasons[r] = metrics.DecisionsTotal.WithLabelValues(source, r.String())
	}
	return m
}

func (m *Metrics) record(d classifier.Decision) {
	m.Received.Add(1)
	if d.Verdict.Valid() {
		m.verdicts[d.Verdict].Add(1)
		m.promVerdicts[d.Verdict].Inc()
	}
	if d.Reason.Truncated() {
		m.Truncated.Add(1)
	}
	if int(d.Reason) < len(m.promReasons) {
		m.promReasons[d.Reason].Inc()
	}
}

func (m *Metrics) recordActuateError() {
	m.ActuateErrors.Add(1)
	m.promActuate.Inc()
}

// Verdict returns how many frames received verdict v.
func (m *Metrics) Verdict(v core.Verdict) uint64 {
	if !v.Valid() {
		return 0
	}
	return m.verdicts[v].Load()
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Received:      m.Received.Load(),
		Pass:          m.Verdict(core.Pass),
		Redirect:      m.Verdict(core.Redirect),
		Drop:          m.Verdict(core.Drop),
		Truncated:     m.Truncated.Load(),
		ActuateErrors: m.ActuateErrors.Load(),
		ReadErrors:    m.ReadErrors.Load(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Received      uint64
	Pass          uint64
	Redirect      uint64
	Drop          uint64
	Truncated     uint64
	ActuateErrors uint64
	ReadErrors    uint64
}

// Add returns the sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Received:      s.Received + o.Received,
		Pass:          s.Pass + o.Pass,
		Redirect:      s.Redirect + o.Redirect,
		Drop:          s.Drop + o.Drop,
		Truncated:     s.Truncated + o.Truncated,
		ActuateErrors: s.ActuateErrors + o.ActuateErrors,
		ReadErrors:    s.ReadErrors + o.ReadErrors,
	}
}
