// Copyright 2025 Certen Protocol
package provenance

import (
	"testing"
	"time"

	"github.com/certen/veritas-ledger/pkg/decision"
)

func TestAppend_FirstNodeHasNoPrevHash(t *testing.T) {
	d := &decision.Decision{DecisionID: "dec-1"}
	n, err := Append(d, Input{
		Seq: 1, At: time.Now(), DecisionID: "dec-1",
		EventType: decision.EventValidate, ActorID: "alice",
		EventHash: "eh1", StateBeforeHash: "sb1", StateAfterHash: "sa1",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if n.PrevNodeHash != nil {
		t.Errorf("first node must have nil prev_node_hash")
	}

	violations, err := Verify(d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("expected no violations, got %+v", violations)
	}
}

func TestAppend_ChainsToPriorTail(t *testing.T) {
	d := &decision.Decision{DecisionID: "dec-2"}
	n1, err := Append(d, Input{Seq: 1, At: time.Now(), DecisionID: "dec-2", EventType: decision.EventValidate, ActorID: "alice", EventHash: "eh1", StateBeforeHash: "sb1", StateAfterHash: "sa1"})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	n2, err := Append(d, Input{Seq: 2, At: time.Now(), DecisionID: "dec-2", EventType: decision.EventApprove, ActorID: "bob", EventHash: "eh2", StateBeforeHash: "sa1", StateAfterHash: "sa2"})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if n2.PrevNodeHash == nil || *n2.PrevNodeHash != n1.NodeHash {
		t.Errorf("second node's prev_node_hash must equal first node's node_hash")
	}

	tail, err := TailHash(d)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if tail != n2.NodeHash {
		t.Errorf("TailHash = %s, want %s", tail, n2.NodeHash)
	}
}

func TestVerify_DetectsBrokenLinkAndNonContiguousSeq(t *testing.T) {
	d := &decision.Decision{DecisionID: "dec-3"}
	if _, err := Append(d, Input{Seq: 1, At: time.Now(), DecisionID: "dec-3", EventType: decision.EventValidate, ActorID: "alice", EventHash: "eh1", StateBeforeHash: "sb1", StateAfterHash: "sa1"}); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := Append(d, Input{Seq: 2, At: time.Now(), DecisionID: "dec-3", EventType: decision.EventApprove, ActorID: "bob", EventHash: "eh2", StateBeforeHash: "sa1", StateAfterHash: "sa2"}); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	nodes, err := Nodes(d)
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	tampered := make([]interface{}, 0, len(nodes))
	for i, n := range nodes {
		if i == 1 {
			n.ActorID = "attacker"
		}
		tampered = append(tampered, nodeToGeneric(n))
	}
	d.ArtifactsSet(tampered, "provenance", "nodes")

	violations, err := Verify(d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(violations) == 0 {
		t.Fatal("expected tamper to produce at least one violation")
	}
}

func TestVerify_EmptyChainIsClean(t *testing.T) {
	d := &decision.Decision{DecisionID: "dec-4"}
	violations, err := Verify(d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("expected no violations for an empty chain, got %+v", violations)
	}
	tail, err := TailHash(d)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if tail != "" {
		t.Errorf("expected empty tail hash, got %q", tail)
	}
}
