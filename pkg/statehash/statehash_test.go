// Copyright 2025 Certen Protocol
package statehash

import (
	"testing"
	"time"

	"github.com/certen/veritas-ledger/pkg/decision"
)

func baseDecision() *decision.Decision {
	return &decision.Decision{
		DecisionID: "dec_1",
		State:      decision.StateValidated,
		Version:    2,
		CreatedAt:  time.Unix(0, 0).UTC(),
		UpdatedAt:  time.Unix(1, 0).UTC(),
		Meta:       map[string]interface{}{"title": "t1", "owner_id": "system"},
		Artifacts: map[string]interface{}{
			"private": map[string]interface{}{"secret": true},
			"public":  "ok",
		},
	}
}

func TestTamper_IgnoresVolatileFields(t *testing.T) {
	a := baseDecision()
	b := a.Clone()
	b.UpdatedAt = time.Unix(999, 0).UTC()
	b.Version = 99
	b.History = append(b.History, decision.HistoryEntry{Seq: 1})

	ha, err := Tamper(a)
	if err != nil {
		t.Fatalf("tamper a: %v", err)
	}
	hb, err := Tamper(b)
	if err != nil {
		t.Fatalf("tamper b: %v", err)
	}
	if ha != hb {
		t.Errorf("tamper hash should ignore updated_at/version/history: %s vs %s", ha, hb)
	}
}

func TestTamper_DetectsSubstantiveChange(t *testing.T) {
	a := baseDecision()
	b := a.Clone()
	b.Meta["title"] = "different"

	ha, _ := Tamper(a)
	hb, _ := Tamper(b)
	if ha == hb {
		t.Error("tamper hash should change when meta content changes")
	}
}

func TestPublic_StripsPrivateArtifacts(t *testing.T) {
	a := baseDecision()
	b := a.Clone()
	b.Artifacts["private"] = map[string]interface{}{"secret": false}

	pa, err := Public(a)
	if err != nil {
		t.Fatalf("public a: %v", err)
	}
	pb, err := Public(b)
	if err != nil {
		t.Fatalf("public b: %v", err)
	}
	if pa != pb {
		t.Error("public hash should not depend on artifacts.private content")
	}

	ta, _ := Tamper(a)
	tb, _ := Tamper(b)
	if ta == tb {
		t.Error("tamper hash should still depend on artifacts.private content")
	}
}

func TestAmountAliasesNormalize(t *testing.T) {
	a := baseDecision()
	a.Meta["amount"] = 150
	b := a.Clone()
	delete(b.Meta, "amount")
	b.Artifacts["amount"] = 150

	ha, err := Tamper(a)
	if err != nil {
		t.Fatalf("tamper a: %v", err)
	}
	hb, err := Tamper(b)
	if err != nil {
		t.Fatalf("tamper b: %v", err)
	}
	if ha != hb {
		t.Errorf("amount written to meta.amount vs artifacts.amount must hash identically: %s vs %s", ha, hb)
	}
}

func TestHelperMetaKeysStripped(t *testing.T) {
	a := baseDecision()
	b := a.Clone()
	b.Meta["workflow_patch"] = "irrelevant"
	b.Meta["helper_scratch"] = "irrelevant"

	ha, _ := Tamper(a)
	hb, _ := Tamper(b)
	if ha != hb {
		t.Error("*_patch/helper_* meta keys must not affect the tamper hash")
	}
}
