// Copyright 2025 Certen Protocol
package merkle

import (
	"testing"

	"github.com/certen/veritas-ledger/pkg/canon"
)

func hashes(n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = canon.SHA256Hex([]byte{byte(i)})
	}
	return out
}

func TestRoot_SingleLeaf(t *testing.T) {
	h := hashes(1)
	root, err := Root(h)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root != leafHash(h[0]) {
		t.Errorf("single leaf root should equal its domain-separated leaf hash")
	}
}

func TestRoot_EmptyRejected(t *testing.T) {
	if _, err := Root(nil); err != ErrEmptyLeaves {
		t.Errorf("expected ErrEmptyLeaves, got %v", err)
	}
}

func TestProof_VerifiesForEveryLeaf(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 13} {
		h := hashes(n)
		root, err := Root(h)
		if err != nil {
			t.Fatalf("n=%d root: %v", n, err)
		}
		for i := 0; i < n; i++ {
			proof, err := BuildProof(h, i)
			if err != nil {
				t.Fatalf("n=%d proof(%d): %v", n, i, err)
			}
			if !VerifyProof(proof, root) {
				t.Errorf("n=%d proof for leaf %d failed to verify", n, i)
			}
		}
	}
}

func TestProof_FlippedSiblingFailsVerification(t *testing.T) {
	h := hashes(5)
	root, _ := Root(h)
	proof, err := BuildProof(h, 2)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if len(proof.Path) == 0 {
		t.Fatal("expected a non-empty path for n=5")
	}
	proof.Path[0].Hash = canon.SHA256Hex([]byte("tampered"))
	if VerifyProof(proof, root) {
		t.Error("tampered sibling hash must not verify")
	}
}

func TestBuildProof_OutOfRange(t *testing.T) {
	h := hashes(3)
	if _, err := BuildProof(h, 5); err != ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := BuildProof(h, -1); err != ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestRoot_Deterministic(t *testing.T) {
	h := hashes(6)
	r1, _ := Root(h)
	r2, _ := Root(h)
	if r1 != r2 {
		t.Errorf("root must be deterministic: %s vs %s", r1, r2)
	}
}
