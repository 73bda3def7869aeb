// Copyright 2025 Certen Protocol
package snapshotstore

import (
	"testing"
	"time"

	"github.com/certen/veritas-ledger/pkg/canon"
	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/kv"
	"github.com/certen/veritas-ledger/pkg/provenance"
)

func sampleDecision(id string) *decision.Decision {
	d := &decision.Decision{
		DecisionID: id,
		State:      decision.StateValidated,
		Version:    1,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Meta:       map[string]interface{}{"note": "hello"},
	}
	if _, err := provenance.Append(d, provenance.Input{
		Seq: 1, At: d.CreatedAt, DecisionID: id,
		EventType: decision.EventValidate, ActorID: "alice",
		EventHash: "eh1", StateBeforeHash: "sb1", StateAfterHash: "sa1",
	}); err != nil {
		panic(err)
	}
	return d
}

func TestBuildAndPutAndGetLatest(t *testing.T) {
	store := New(kv.NewMemory())
	d := sampleDecision("dec-1")

	hashes := []string{canon.SHA256Hex([]byte("ev1"))}
	snap, err := Build(d, "dec-1", 1, hashes[0], hashes, d.CreatedAt)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := store.PutSnapshot(nil, snap); err != nil {
		t.Fatalf("put: %v", err)
	}

	latest, err := store.GetLatestSnapshot(nil, "dec-1")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest.UpToSeq != 1 {
		t.Errorf("expected up_to_seq 1, got %d", latest.UpToSeq)
	}

	if err := VerifyIntegrity(latest, hashes, hashes[0]); err != nil {
		t.Errorf("expected clean snapshot to verify, got %v", err)
	}
}

func TestGetSnapshotAtOrBefore(t *testing.T) {
	store := New(kv.NewMemory())
	for _, seq := range []uint64{2, 5, 9} {
		d := sampleDecision("dec-2")
		snap, err := Build(d, "dec-2", seq, "ch", nil, time.Now())
		if err != nil {
			t.Fatalf("build %d: %v", seq, err)
		}
		if err := store.PutSnapshot(nil, snap); err != nil {
			t.Fatalf("put %d: %v", seq, err)
		}
	}

	got, err := store.GetSnapshotAtOrBefore(nil, "dec-2", 7)
	if err != nil {
		t.Fatalf("get at or before 7: %v", err)
	}
	if got.UpToSeq != 5 {
		t.Errorf("expected up_to_seq 5, got %d", got.UpToSeq)
	}

	if _, err := store.GetSnapshotAtOrBefore(nil, "dec-2", 1); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for upToSeq below every snapshot, got %v", err)
	}
}

func TestPruneSnapshotsKeepsMostRecent(t *testing.T) {
	store := New(kv.NewMemory())
	for _, seq := range []uint64{1, 2, 3, 4} {
		d := sampleDecision("dec-3")
		snap, err := Build(d, "dec-3", seq, "ch", nil, time.Now())
		if err != nil {
			t.Fatalf("build %d: %v", seq, err)
		}
		if err := store.PutSnapshot(nil, snap); err != nil {
			t.Fatalf("put %d: %v", seq, err)
		}
	}

	if err := store.PruneSnapshots(nil, "dec-3", 2); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := store.getAt(store.kv, "dec-3", 1); err != ErrNotFound {
		t.Errorf("expected seq 1 to be pruned, got err=%v", err)
	}
	if _, err := store.getAt(store.kv, "dec-3", 2); err != ErrNotFound {
		t.Errorf("expected seq 2 to be pruned, got err=%v", err)
	}
	if _, err := store.getAt(store.kv, "dec-3", 3); err != nil {
		t.Errorf("expected seq 3 to survive, got err=%v", err)
	}
	if _, err := store.getAt(store.kv, "dec-3", 4); err != nil {
		t.Errorf("expected seq 4 to survive, got err=%v", err)
	}
}

func TestVerifyIntegrity_DetectsStateHashTamper(t *testing.T) {
	store := New(kv.NewMemory())
	d := sampleDecision("dec-4")
	snap, err := Build(d, "dec-4", 1, "ch", nil, time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := store.PutSnapshot(nil, snap); err != nil {
		t.Fatalf("put: %v", err)
	}

	snap.Decision.Meta["note"] = "tampered"
	err = VerifyIntegrity(snap, nil, "")
	if err == nil {
		t.Fatal("expected integrity error after tampering with the snapshot's decision")
	}
}
