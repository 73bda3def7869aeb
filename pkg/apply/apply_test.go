// Copyright 2025 Certen Protocol
package apply

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/certen/veritas-ledger/pkg/anchorstore"
	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/eventstore"
	"github.com/certen/veritas-ledger/pkg/gate"
	"github.com/certen/veritas-ledger/pkg/globalledger"
	"github.com/certen/veritas-ledger/pkg/kv"
	"github.com/certen/veritas-ledger/pkg/metrics"
	"github.com/certen/veritas-ledger/pkg/receipt"
	"github.com/certen/veritas-ledger/pkg/signer"
	"github.com/certen/veritas-ledger/pkg/snapshotstore"
	"github.com/certen/veritas-ledger/pkg/statehash"
)

func constClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// approveTo drives a fresh decision from DRAFT to SIMULATED and returns the
// resulting head, so tests only need to construct the finalize event.
func approveTo(t *testing.T, deps Deps, decisionID string) *decision.Decision {
	t.Helper()
	if _, err := Apply(deps, Input{
		DecisionID:   decisionID,
		Event:        decision.Event{Type: decision.EventValidate, ActorID: "alice", ActorType: decision.ActorHuman},
		MetaIfCreate: map[string]interface{}{},
	}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	res, err := Apply(deps, Input{
		DecisionID: decisionID,
		Event:      decision.Event{Type: decision.EventSimulate, ActorID: "alice", ActorType: decision.ActorHuman},
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	return res.Decision
}

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		cur := t
		t = t.Add(time.Second)
		return cur
	}
}

func newDeps(mem *kv.Memory) Deps {
	return Deps{
		KV:           mem,
		Events:       eventstore.New(mem),
		Snapshots:    snapshotstore.New(mem),
		Anchors:      anchorstore.New(mem),
		Receipts:     receipt.New(mem),
		GlobalLedger: globalledger.New(mem),
		Now:          fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func TestApply_DraftToValidated(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)

	res, err := Apply(deps, Input{
		DecisionID:   "d1",
		Event:        decision.Event{Type: decision.EventValidate, ActorID: "alice", ActorType: decision.ActorHuman},
		MetaIfCreate: map[string]interface{}{"title": "test"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected ok, got violations %+v", res.Violations)
	}
	if res.Decision.State != decision.StateValidated {
		t.Fatalf("expected VALIDATED, got %s", res.Decision.State)
	}
	if res.Decision.Version != 1 {
		t.Fatalf("expected version 1, got %d", res.Decision.Version)
	}
}

func TestApply_IdempotencyKeyPreventsDuplicate(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)
	key := "idem-1"
	in := Input{
		DecisionID:     "d2",
		Event:          decision.Event{Type: decision.EventValidate, ActorID: "alice", ActorType: decision.ActorHuman},
		IdempotencyKey: &key,
		MetaIfCreate:   map[string]interface{}{},
	}

	res1, err := Apply(deps, in)
	if err != nil {
		t.Fatalf("apply 1: %v", err)
	}
	if !res1.OK {
		t.Fatalf("expected ok on first apply: %+v", res1.Violations)
	}

	res2, err := Apply(deps, in)
	if err != nil {
		t.Fatalf("apply 2: %v", err)
	}
	if !res2.OK {
		t.Fatalf("expected ok on idempotent replay: %+v", res2.Violations)
	}
	if res2.Decision.State != res1.Decision.State {
		t.Fatalf("idempotent replay produced a different state: %s vs %s", res2.Decision.State, res1.Decision.State)
	}

	events, err := deps.Events.ListEvents(mem, "d2")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event appended, got %d", len(events))
	}
}

func TestApply_InvalidTransitionBlocksAndRollsBack(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)

	res, err := Apply(deps, Input{
		DecisionID:   "d3",
		Event:        decision.Event{Type: decision.EventSimulate, ActorID: "alice", ActorType: decision.ActorHuman},
		MetaIfCreate: map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.OK {
		t.Fatalf("expected blocked result for SIMULATE on a DRAFT decision")
	}
	found := false
	for _, v := range res.Violations {
		if v.Code == "INVALID_TRANSITION" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected INVALID_TRANSITION violation, got %+v", res.Violations)
	}
	if res.Decision.State != decision.StateDraft {
		t.Fatalf("expected decision to remain DRAFT after a blocked apply, got %s", res.Decision.State)
	}

	events, err := deps.Events.ListEvents(mem, "d3")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected the blocked event to be rolled back, got %d events", len(events))
	}
}

func TestApply_RBACBlocksApprovalWithoutRole(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)
	deps.GateConfig = gate.Config{
		RBAC: gate.RBACConfig{RequiredRoles: map[decision.EventType][]string{decision.EventApprove: {"approver"}}},
	}

	if _, err := Apply(deps, Input{
		DecisionID:   "d4",
		Event:        decision.Event{Type: decision.EventValidate, ActorID: "alice", ActorType: decision.ActorHuman},
		MetaIfCreate: map[string]interface{}{},
	}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := Apply(deps, Input{
		DecisionID: "d4",
		Event:      decision.Event{Type: decision.EventSimulate, ActorID: "alice", ActorType: decision.ActorHuman},
	}); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	res, err := Apply(deps, Input{
		DecisionID: "d4",
		Event:      decision.Event{Type: decision.EventApprove, ActorID: "bob", ActorType: decision.ActorHuman},
	})
	if err != nil {
		t.Fatalf("apply approve: %v", err)
	}
	if res.OK {
		t.Fatalf("expected approval to be blocked for an actor lacking the approver role")
	}

	events, err := deps.Events.ListEvents(mem, "d4")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected only the validate+simulate events to have been appended, got %d", len(events))
	}
}

func TestApply_SnapshotPolicyCreatesSnapshot(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)
	deps.SnapshotPolicy = SnapshotPolicy{EveryNEvents: 1}

	res, err := Apply(deps, Input{
		DecisionID:   "d5",
		Event:        decision.Event{Type: decision.EventValidate, ActorID: "alice", ActorType: decision.ActorHuman},
		MetaIfCreate: map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected ok: %+v", res.Violations)
	}

	snap, err := deps.Snapshots.GetLatestSnapshot(mem, "d5")
	if err != nil {
		t.Fatalf("expected a snapshot to exist: %v", err)
	}
	if snap.UpToSeq != 1 {
		t.Fatalf("expected snapshot up_to_seq=1, got %d", snap.UpToSeq)
	}
}

func TestApply_TamperedSnapshotBlocksNextApply(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)
	deps.SnapshotPolicy = SnapshotPolicy{EveryNEvents: 1}

	if _, err := Apply(deps, Input{
		DecisionID:   "d6",
		Event:        decision.Event{Type: decision.EventValidate, ActorID: "alice", ActorType: decision.ActorHuman},
		MetaIfCreate: map[string]interface{}{},
	}); err != nil {
		t.Fatalf("apply 1: %v", err)
	}

	snap, err := deps.Snapshots.GetLatestSnapshot(mem, "d6")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	snap.StateHash = "tampered"
	if err := deps.Snapshots.PutSnapshot(mem, snap); err != nil {
		t.Fatalf("put tampered snapshot: %v", err)
	}

	res, err := Apply(deps, Input{
		DecisionID: "d6",
		Event:      decision.Event{Type: decision.EventSimulate, ActorID: "alice", ActorType: decision.ActorHuman},
	})
	if err != nil {
		t.Fatalf("apply 2: %v", err)
	}
	if res.OK {
		t.Fatalf("expected a tampered snapshot to block the next apply")
	}
	found := false
	for _, v := range res.Violations {
		if v.Code == "SNAPSHOT_INTEGRITY_FAILED" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SNAPSHOT_INTEGRITY_FAILED violation, got %+v", res.Violations)
	}
}

func TestApply_LinkDecisionsPersistsDAGEdge(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)

	if _, err := Apply(deps, Input{
		DecisionID:   "d7",
		Event:        decision.Event{Type: decision.EventValidate, ActorID: "alice", ActorType: decision.ActorHuman},
		MetaIfCreate: map[string]interface{}{},
	}); err != nil {
		t.Fatalf("validate d7: %v", err)
	}
	if _, err := Apply(deps, Input{
		DecisionID:   "d8",
		Event:        decision.Event{Type: decision.EventValidate, ActorID: "alice", ActorType: decision.ActorHuman},
		MetaIfCreate: map[string]interface{}{},
	}); err != nil {
		t.Fatalf("validate d8: %v", err)
	}

	res, err := Apply(deps, Input{
		DecisionID: "d7",
		Event: decision.Event{
			Type:    decision.EventLinkDecisions,
			ActorID: "alice", ActorType: decision.ActorHuman,
			Fields: map[string]interface{}{"to_decision_id": "d8", "relation": "supersedes"},
		},
	})
	if err != nil {
		t.Fatalf("link decisions: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected ok: %+v", res.Violations)
	}

	raw, err := mem.Get(dagEdgeKey("d7", "d8"))
	if err != nil {
		t.Fatalf("get dag edge: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected a persisted DAG edge from d7 to d8")
	}
}

func TestApply_RecordsMetricsWhenConfigured(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)
	deps.Metrics = metrics.NewRegistry(prometheus.NewRegistry())

	if _, err := Apply(deps, Input{
		DecisionID:   "d9",
		Event:        decision.Event{Type: decision.EventValidate, ActorID: "alice", ActorType: decision.ActorHuman},
		MetaIfCreate: map[string]interface{}{},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	m := &dto.Metric{}
	if err := deps.Metrics.ApplyTotal.WithLabelValues("ok").Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.GetCounter().GetValue() != 1 {
		t.Fatalf("apply_total{outcome=ok} = %v, want 1", m.GetCounter().GetValue())
	}

	m = &dto.Metric{}
	if err := deps.Metrics.LedgerAppends.WithLabelValues(deps.GlobalLedgerTarget.TenantID, "DECISION_EVENT_APPENDED").Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.GetCounter().GetValue() != 1 {
		t.Fatalf("global_ledger_appends_total{type=DECISION_EVENT_APPENDED} = %v, want 1", m.GetCounter().GetValue())
	}
}

func TestApply_VerifiesSignerCryptoSignature(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)
	deps.Now = constClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := signer.NewDirectory()
	dir.Register("alice", signer.Key{Algorithm: signer.AlgorithmEd25519, Ed25519: pub})
	deps.Signers = dir

	head := approveTo(t, deps, "d10")
	tamperBefore, err := statehash.Tamper(head)
	if err != nil {
		t.Fatalf("tamper hash: %v", err)
	}

	payload := signer.BindingPayload{
		DecisionID:      "d10",
		EventType:       string(decision.EventApprove),
		SignerID:        "alice",
		SignerStateHash: tamperBefore,
		At:              deps.now(),
	}
	payloadBytes, err := payload.CanonicalBytes()
	if err != nil {
		t.Fatalf("canonical bytes: %v", err)
	}
	sig := ed25519.Sign(priv, payloadBytes)

	res, err := Apply(deps, Input{
		DecisionID: "d10",
		Event: decision.Event{
			Type: decision.EventApprove, ActorID: "alice", ActorType: decision.ActorHuman,
			Meta: map[string]interface{}{
				"signer_id":         "alice",
				"signer_state_hash": tamperBefore,
				"signer_signature":  hex.EncodeToString(sig),
			},
		},
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected approve to succeed with a verified signer signature, got %+v", res.Violations)
	}

	sigRow, err := deps.Receipts.GetSignature(mem, "d10", res.Decision.Version)
	if err != nil {
		t.Fatalf("expected a risk liability signature row to be written: %v", err)
	}
	if sigRow.DecisionID != "d10" {
		t.Fatalf("signature row decision_id = %q, want d10", sigRow.DecisionID)
	}
}

func TestApply_InvalidSignerSignatureBlocks(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)
	deps.Now = constClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := signer.NewDirectory()
	dir.Register("alice", signer.Key{Algorithm: signer.AlgorithmEd25519, Ed25519: pub})
	deps.Signers = dir

	head := approveTo(t, deps, "d11")
	tamperBefore, err := statehash.Tamper(head)
	if err != nil {
		t.Fatalf("tamper hash: %v", err)
	}

	res, err := Apply(deps, Input{
		DecisionID: "d11",
		Event: decision.Event{
			Type: decision.EventApprove, ActorID: "alice", ActorType: decision.ActorHuman,
			Meta: map[string]interface{}{
				"signer_id":         "alice",
				"signer_state_hash": tamperBefore,
				"signer_signature":  hex.EncodeToString([]byte("not-a-real-signature-not-a-real-signature")),
			},
		},
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.OK {
		t.Fatalf("expected a forged signer_signature to block the approval")
	}
	found := false
	for _, v := range res.Violations {
		if v.Code == "SIGNER_SIGNATURE_INVALID" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SIGNER_SIGNATURE_INVALID violation, got %+v", res.Violations)
	}
}

func TestApply_RequireRiskLiabilitySignatureBlocksWithoutVerifiedSigner(t *testing.T) {
	mem := kv.NewMemory()
	deps := newDeps(mem)
	deps.RequireRiskLiabilitySignature = true

	head := approveTo(t, deps, "d12")
	tamperBefore, err := statehash.Tamper(head)
	if err != nil {
		t.Fatalf("tamper hash: %v", err)
	}

	res, err := Apply(deps, Input{
		DecisionID: "d12",
		Event: decision.Event{
			Type: decision.EventApprove, ActorID: "alice", ActorType: decision.ActorHuman,
			Meta: map[string]interface{}{
				"signer_id":         "alice",
				"signer_state_hash": tamperBefore,
			},
		},
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.OK {
		t.Fatalf("expected require_risk_liability_signature to block an approval with no signer directory configured")
	}
	found := false
	for _, v := range res.Violations {
		if v.Code == "SIGNER_SIGNATURE_REQUIRED" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SIGNER_SIGNATURE_REQUIRED violation, got %+v", res.Violations)
	}

	events, err := deps.Events.ListEvents(mem, "d12")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected the blocked APPROVE to be rolled back, got %d events", len(events))
	}
}
