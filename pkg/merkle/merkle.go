// Copyright 2025 Certen Protocol
//
// Package merkle builds the Merkle root over an event-hash sequence for a
// decision's snapshot and produces/verifies inclusion proofs for any seq
// up to the snapshot's up_to_seq. Construction uses the familiar
// binary-tree-with-odd-node-duplication shape, but hashes are
// domain-separated with "leaf:"/"node:" prefixes over hex strings rather
// than concatenating raw sibling bytes, so a leaf hash and an internal
// node hash can never collide.
package merkle

import (
	"errors"

	"github.com/certen/veritas-ledger/pkg/canon"
)

// Position indicates which side of its parent a sibling sits on.
type Position string

const (
	Left  Position = "left"
	Right Position = "right"
)

// ProofStep is one sibling hash on the path from a leaf to the root.
type ProofStep struct {
	Hash     string   `json:"hash"`
	Position Position `json:"position"`
}

// Proof is a complete Merkle inclusion proof for one event hash.
type Proof struct {
	LeafHash  string      `json:"leaf_hash"`
	LeafIndex int         `json:"leaf_index"` // 0-indexed position among the leaves
	Root      string      `json:"root"`
	Path      []ProofStep `json:"path"`
	TreeSize  int         `json:"tree_size"`
}

var (
	// ErrEmptyLeaves is returned when Root/Proof construction is attempted
	// over zero event hashes.
	ErrEmptyLeaves = errors.New("merkle: cannot build a tree from zero event hashes")
	// ErrIndexOutOfRange is returned for a leaf index outside [0, size).
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
)

func hashString(s string) string {
	return canon.SHA256Hex([]byte(s))
}

func leafHash(eventHash string) string {
	return hashString("leaf:" + eventHash)
}

func nodeHash(left, right string) string {
	return hashString("node:" + left + ":" + right)
}

// levels returns every level of the tree bottom-up, starting with the
// domain-separated leaf hashes and ending with a single-element slice
// holding the root.
func levels(eventHashes []string) ([][]string, error) {
	if len(eventHashes) == 0 {
		return nil, ErrEmptyLeaves
	}
	current := make([]string, len(eventHashes))
	for i, h := range eventHashes {
		current[i] = leafHash(h)
	}
	all := [][]string{current}
	for len(current) > 1 {
		next := make([]string, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, nodeHash(current[i], current[i+1]))
			} else {
				next = append(next, nodeHash(current[i], current[i]))
			}
		}
		all = append(all, next)
		current = next
	}
	return all, nil
}

// Root builds the Merkle root over eventHashes (seq 1..N in order).
func Root(eventHashes []string) (string, error) {
	all, err := levels(eventHashes)
	if err != nil {
		return "", err
	}
	return all[len(all)-1][0], nil
}

// BuildProof produces an inclusion proof for the leaf at leafIndex
// (0-indexed; leafIndex == seq-1).
func BuildProof(eventHashes []string, leafIndex int) (*Proof, error) {
	if leafIndex < 0 || leafIndex >= len(eventHashes) {
		return nil, ErrIndexOutOfRange
	}
	all, err := levels(eventHashes)
	if err != nil {
		return nil, err
	}

	proof := &Proof{
		LeafHash:  eventHashes[leafIndex],
		LeafIndex: leafIndex,
		Root:      all[len(all)-1][0],
		TreeSize:  len(eventHashes),
	}

	idx := leafIndex
	for level := 0; level < len(all)-1; level++ {
		nodes := all[level]
		var siblingIdx int
		var pos Position
		if idx%2 == 0 {
			siblingIdx = idx + 1
			pos = Right
		} else {
			siblingIdx = idx - 1
			pos = Left
		}
		var siblingHash string
		if siblingIdx < len(nodes) {
			siblingHash = nodes[siblingIdx]
		} else {
			// odd-duplication case: the sibling is the node itself.
			siblingHash = nodes[idx]
			pos = Right
		}
		proof.Path = append(proof.Path, ProofStep{Hash: siblingHash, Position: pos})
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from proof.LeafHash (re-hashed under the
// "leaf:" domain separator) and proof.Path, and compares it to
// expectedRoot. It is independent of any particular Decision's shape —
// purely a function of event hashes.
func VerifyProof(proof *Proof, expectedRoot string) bool {
	if proof == nil {
		return false
	}
	current := leafHash(proof.LeafHash)
	for _, step := range proof.Path {
		switch step.Position {
		case Left:
			current = nodeHash(step.Hash, current)
		case Right:
			current = nodeHash(current, step.Hash)
		default:
			return false
		}
	}
	return current == expectedRoot && proof.Root == expectedRoot
}
