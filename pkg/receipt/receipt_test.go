// Copyright 2025 Certen Protocol
package receipt

import (
	"testing"
	"time"

	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/kv"
)

func newTestStore() *Store {
	return New(kv.NewMemory())
}

func sampleDecision() *decision.Decision {
	d := &decision.Decision{DecisionID: "dec-1", State: decision.StateValidated}
	d.ArtifactsSet([]interface{}{map[string]interface{}{"obligation_id": "ob-1", "status": "open"}}, "execution", "obligations")
	return d
}

func TestWriteReceipt_ComputesHashAndPersists(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	in := Input{
		DecisionID:            "dec-1",
		EventSeq:              1,
		EventType:             decision.EventValidate,
		ActorID:               "alice",
		ActorType:             decision.ActorHuman,
		Before:                &decision.Decision{DecisionID: "dec-1"},
		After:                 sampleDecision(),
		StateBeforeHash:       "sb1",
		StateAfterHash:        "sa1",
		PublicStateBeforeHash: "pb1",
		PublicStateAfterHash:  "pa1",
		At:                    now,
	}

	r, err := s.WriteReceipt(nil, in)
	if err != nil {
		t.Fatalf("write receipt: %v", err)
	}
	if r.ReceiptHash == "" {
		t.Fatal("expected non-empty receipt_hash")
	}
	if r.ReceiptID == "" {
		t.Fatal("expected a generated receipt_id")
	}
	if r.ObligationsHash == "" {
		t.Fatal("expected non-empty obligations_hash")
	}

	stored, err := s.GetReceipt(nil, "dec-1", 1)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if stored.ReceiptHash != r.ReceiptHash {
		t.Errorf("stored receipt_hash does not match what was written")
	}
}

func TestWriteReceipt_TamperDetectedOnRewrite(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	in := Input{
		DecisionID:      "dec-1",
		EventSeq:        1,
		EventType:       decision.EventValidate,
		ActorID:         "alice",
		ActorType:       decision.ActorHuman,
		Before:          &decision.Decision{DecisionID: "dec-1"},
		After:           sampleDecision(),
		StateBeforeHash: "sb1",
		StateAfterHash:  "sa1",
		At:              now,
	}
	if _, err := s.WriteReceipt(nil, in); err != nil {
		t.Fatalf("initial write: %v", err)
	}

	in.StateAfterHash = "sa1-different"
	if _, err := s.WriteReceipt(nil, in); err == nil {
		t.Fatal("expected ErrTampered when recomputed hash differs from stored receipt")
	}
}

func TestWriteSignature_RequiredForFinalizeEvents(t *testing.T) {
	if !IsFinalizeEvent(decision.EventApprove) {
		t.Error("APPROVE must be a finalize event")
	}
	if !IsFinalizeEvent(decision.EventReject) {
		t.Error("REJECT must be a finalize event")
	}
	if !IsFinalizeEvent(decision.EventPublish) {
		t.Error("PUBLISH must be a finalize event")
	}
	if IsFinalizeEvent(decision.EventValidate) {
		t.Error("VALIDATE must not be a finalize event")
	}
}

func TestWriteSignature_TamperDetectedOnMismatch(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	in := SignatureInput{
		DecisionID:      "dec-1",
		EventSeq:        3,
		ReceiptHash:     "rh1",
		StateBeforeHash: "sb",
		StateAfterHash:  "sa",
		Amount:          100,
		Responsibility:  map[string]interface{}{"owner_id": "owner"},
		Approver:        map[string]interface{}{"approver_id": "alice"},
		At:              now,
	}
	if _, err := s.WriteSignature(nil, in); err != nil {
		t.Fatalf("initial write: %v", err)
	}

	in.Amount = 999
	if _, err := s.WriteSignature(nil, in); err == nil {
		t.Fatal("expected ErrTampered when recomputed signature_hash differs from stored row")
	}
}

func TestWriteShield_PersistsAndDetectsTamper(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	in := ShieldInput{
		DecisionID:      "dec-1",
		EventSeq:        3,
		EventType:       decision.EventApprove,
		OwnerID:         "owner",
		ApproverID:      "alice",
		SignerStateHash: "tamper-hash-1",
		PayloadJSON:     map[string]interface{}{"responsibility": "owner"},
		ReceiptHash:     "rh1",
		At:              now,
	}
	shield, err := s.WriteShield(nil, in)
	if err != nil {
		t.Fatalf("write shield: %v", err)
	}
	if shield.ShieldHash == "" {
		t.Fatal("expected non-empty shield_hash")
	}

	in.SignerStateHash = "tamper-hash-2"
	if _, err := s.WriteShield(nil, in); err == nil {
		t.Fatal("expected ErrTampered when recomputed shield_hash differs from stored row")
	}
}
