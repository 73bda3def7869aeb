// Copyright 2025 Certen Protocol
//
// Package metrics exposes the Prometheus counters and histograms the apply
// pipeline, gate, and global ledger emit: stage latency, gate BLOCK/WARN
// counts, and ledger append rate. cmd/veritas-ledger registers Registry's
// collectors and serves them over HTTP at the configured metrics path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector this module emits, so callers wire one
// value through Deps instead of passing loose collectors around.
type Registry struct {
	ApplyStageDuration *prometheus.HistogramVec
	ApplyTotal         *prometheus.CounterVec
	GateViolations     *prometheus.CounterVec
	LedgerAppends      *prometheus.CounterVec
}

// NewRegistry constructs a Registry and registers its collectors with reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose via the default /metrics handler.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ApplyStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "veritas_ledger",
			Subsystem: "apply",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each apply pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		ApplyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veritas_ledger",
			Subsystem: "apply",
			Name:      "total",
			Help:      "Total apply_event calls by outcome (ok, block).",
		}, []string{"outcome"}),
		GateViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veritas_ledger",
			Subsystem: "gate",
			Name:      "violations_total",
			Help:      "Apply pipeline violations (replay, gate, integrity) by severity and code.",
		}, []string{"severity", "code"}),
		LedgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veritas_ledger",
			Subsystem: "global_ledger",
			Name:      "appends_total",
			Help:      "Global ledger entry appends by tenant and entry type.",
		}, []string{"tenant_id", "type"}),
	}
	reg.MustRegister(r.ApplyStageDuration, r.ApplyTotal, r.GateViolations, r.LedgerAppends)
	return r
}

// ObserveStage records how long a named apply pipeline stage took.
func (r *Registry) ObserveStage(stage string, start time.Time) {
	if r == nil {
		return
	}
	r.ApplyStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ObserveApply records the terminal outcome of one apply_event call.
func (r *Registry) ObserveApply(ok bool) {
	if r == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "block"
	}
	r.ApplyTotal.WithLabelValues(outcome).Inc()
}

// ObserveGateViolation records one gate finding.
func (r *Registry) ObserveGateViolation(severity, code string) {
	if r == nil {
		return
	}
	r.GateViolations.WithLabelValues(severity, code).Inc()
}

// ObserveLedgerAppend records one global ledger entry append.
func (r *Registry) ObserveLedgerAppend(tenantID, entryType string) {
	if r == nil {
		return
	}
	r.LedgerAppends.WithLabelValues(tenantID, entryType).Inc()
}
