// Copyright 2025 Certen Protocol
package eventstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/kv"
	"github.com/certen/veritas-ledger/pkg/merkle"
)

func newTestStore() *Store {
	return New(kv.NewMemory())
}

func sampleInput(actor string, idem *string) Input {
	return Input{
		Event: decision.Event{
			Type:      decision.EventValidate,
			ActorID:   actor,
			ActorType: decision.ActorService,
			Fields:    map[string]interface{}{"note": "ok"},
		},
		IdempotencyKey: idem,
		At:             time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAppendEvent_AssignsMonotonicSeqAndChainsHash(t *testing.T) {
	s := newTestStore()
	const id = "dec-1"

	r1, err := s.AppendEvent(nil, id, sampleInput("alice", nil))
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if r1.Seq != 1 {
		t.Errorf("expected seq 1, got %d", r1.Seq)
	}
	if r1.PrevHash != nil {
		t.Errorf("first event must have nil prev_hash, got %v", *r1.PrevHash)
	}

	r2, err := s.AppendEvent(nil, id, sampleInput("bob", nil))
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if r2.Seq != 2 {
		t.Errorf("expected seq 2, got %d", r2.Seq)
	}
	if r2.PrevHash == nil || *r2.PrevHash != r1.Hash {
		t.Errorf("second event's prev_hash must equal first event's hash")
	}
}

func TestAppendEvent_IdempotencyKeyReturnsExistingRecord(t *testing.T) {
	s := newTestStore()
	const id = "dec-2"
	key := "req-123"

	first, err := s.AppendEvent(nil, id, sampleInput("alice", &key))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	second, err := s.AppendEvent(nil, id, sampleInput("alice", &key))
	if err != ErrIdempotencyHit {
		t.Fatalf("expected ErrIdempotencyHit, got %v", err)
	}
	if second.Seq != first.Seq || second.Hash != first.Hash {
		t.Errorf("idempotent replay must return the original record")
	}

	last, err := s.GetLastEvent(nil, id)
	if err != nil {
		t.Fatalf("get last: %v", err)
	}
	if last.Seq != 1 {
		t.Errorf("idempotent replay must not advance seq, got last seq %d", last.Seq)
	}
}

func TestListEventsFromAndTail(t *testing.T) {
	s := newTestStore()
	const id = "dec-3"
	for i := 0; i < 5; i++ {
		if _, err := s.AppendEvent(nil, id, sampleInput("alice", nil)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	from := mustList(t, s.ListEventsFrom(nil, id, 3))
	if len(from) != 2 || from[0].Seq != 4 || from[1].Seq != 5 {
		t.Errorf("ListEventsFrom(3) = %+v, want seq 4,5", from)
	}

	tail := mustList(t, s.ListEventsTail(nil, id, 2))
	if len(tail) != 2 || tail[0].Seq != 4 || tail[1].Seq != 5 {
		t.Errorf("ListEventsTail(2) = %+v, want seq 4,5", tail)
	}
}

func mustList(t *testing.T, recs []*Record, err error) []*Record {
	t.Helper()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return recs
}

func TestVerifyHashChain_DetectsTamper(t *testing.T) {
	s := newTestStore()
	store := s.kv
	const id = "dec-4"
	for i := 0; i < 3; i++ {
		if _, err := s.AppendEvent(nil, id, sampleInput("alice", nil)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	result, err := s.VerifyHashChain(nil, id)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Verified {
		t.Fatalf("expected a clean chain to verify, got errors: %+v", result.Errors)
	}

	rec, err := s.GetEventBySeq(nil, id, 2)
	if err != nil {
		t.Fatalf("get seq 2: %v", err)
	}
	rec.Event.ActorID = "attacker"
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal tampered record: %v", err)
	}
	if err := store.Set(recordKey(id, 2), raw); err != nil {
		t.Fatalf("write tampered record: %v", err)
	}

	result, err = s.VerifyHashChain(nil, id)
	if err != nil {
		t.Fatalf("verify after tamper: %v", err)
	}
	if result.Verified {
		t.Fatal("expected tampered chain to fail verification")
	}
	found := false
	for _, e := range result.Errors {
		if e.Seq == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error referencing seq 2, got %+v", result.Errors)
	}
}

func TestGetMerkleProof_VerifiesAgainstRoot(t *testing.T) {
	s := newTestStore()
	const id = "dec-5"
	for i := 0; i < 4; i++ {
		if _, err := s.AppendEvent(nil, id, sampleInput("alice", nil)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	events, err := s.ListEvents(nil, id)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	hashes := make([]string, len(events))
	for i, e := range events {
		hashes[i] = e.Hash
	}

	root, err := merkle.Root(hashes)
	if err != nil {
		t.Fatalf("root: %v", err)
	}

	proof, err := s.GetMerkleProof(nil, id, 3, 4)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if !merkle.VerifyProof(proof, root) {
		t.Error("expected proof for seq 3 to verify against the root over seq 1..4")
	}
}
