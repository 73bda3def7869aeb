// Copyright 2025 Certen Protocol
package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveApplyIncrementsOutcomeCounter(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())

	reg.ObserveApply(true)
	reg.ObserveApply(false)
	reg.ObserveApply(true)

	if got := counterValue(t, reg.ApplyTotal, "ok"); got != 2 {
		t.Errorf("ok count = %v, want 2", got)
	}
	if got := counterValue(t, reg.ApplyTotal, "block"); got != 1 {
		t.Errorf("block count = %v, want 1", got)
	}
}

func TestObserveGateViolation(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.ObserveGateViolation("BLOCK", "IMMUTABLE_STATE")
	reg.ObserveGateViolation("BLOCK", "IMMUTABLE_STATE")
	reg.ObserveGateViolation("WARN", "LOW_EVIDENCE_TRUST")

	if got := counterValue(t, reg.GateViolations, "BLOCK", "IMMUTABLE_STATE"); got != 2 {
		t.Errorf("BLOCK/IMMUTABLE_STATE count = %v, want 2", got)
	}
	if got := counterValue(t, reg.GateViolations, "WARN", "LOW_EVIDENCE_TRUST"); got != 1 {
		t.Errorf("WARN/LOW_EVIDENCE_TRUST count = %v, want 1", got)
	}
}

func TestObserveLedgerAppend(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.ObserveLedgerAppend("tenant-a", "DECISION_EVENT_APPENDED")
	reg.ObserveLedgerAppend("tenant-a", "SNAPSHOT_CREATED")
	reg.ObserveLedgerAppend("tenant-a", "DECISION_EVENT_APPENDED")

	if got := counterValue(t, reg.LedgerAppends, "tenant-a", "DECISION_EVENT_APPENDED"); got != 2 {
		t.Errorf("DECISION_EVENT_APPENDED count = %v, want 2", got)
	}
}

func TestObserveStageRecordsDuration(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.ObserveStage("gate_evaluate", time.Now().Add(-5*time.Millisecond))

	m := &dto.Metric{}
	if err := reg.ApplyStageDuration.WithLabelValues("gate_evaluate").(prometheus.Histogram).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", m.GetHistogram().GetSampleCount())
	}
}

func TestNilRegistryMethodsAreNoOps(t *testing.T) {
	var reg *Registry
	reg.ObserveStage("x", time.Now())
	reg.ObserveApply(true)
	reg.ObserveGateViolation("BLOCK", "X")
	reg.ObserveLedgerAppend("t", "X")
}
