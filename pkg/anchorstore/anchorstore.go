// Copyright 2025 Certen Protocol
//
// Package anchorstore maintains a single, globally monotonic hash chain
// pinning snapshot checkpoints from every decision into one cross-decision
// integrity spine. Where pkg/eventstore's chain is scoped to one decision,
// this chain has exactly one lane shared by the whole store.
package anchorstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/certen/veritas-ledger/pkg/canon"
	"github.com/certen/veritas-ledger/pkg/kv"
)

var ErrNotFound = errors.New("anchorstore: anchor not found")

// Anchor pins one decision's snapshot checkpoint into the global chain.
type Anchor struct {
	Seq              uint64 `json:"seq"`
	At               time.Time `json:"at"`
	DecisionID       string `json:"decision_id"`
	SnapshotUpToSeq  uint64 `json:"snapshot_up_to_seq"`
	CheckpointHash   string `json:"checkpoint_hash"`
	RootHash         string `json:"root_hash"`
	StateHash        string `json:"state_hash"`
	PrevHash         *string `json:"prev_hash,omitempty"`
	Hash             string `json:"hash"`
}

// hashInput hashes every field in Anchor minus Hash itself; the four
// optional fields are hashed as explicit null when unset, matching the
// wire contract `H(canonical({seq, at, decision_id, snapshot_up_to_seq,
// checkpoint_hash|null, root_hash|null, state_hash|null, prev_hash|null}))`.
func hashInput(a *Anchor) (string, error) {
	orNull := func(s string) interface{} {
		if s == "" {
			return canon.Null
		}
		return s
	}
	prev := interface{}(canon.Null)
	if a.PrevHash != nil {
		prev = *a.PrevHash
	}
	return canon.HashValue(map[string]interface{}{
		"seq":                a.Seq,
		"at":                 a.At.UTC().Format(time.RFC3339Nano),
		"decision_id":        a.DecisionID,
		"snapshot_up_to_seq": a.SnapshotUpToSeq,
		"checkpoint_hash":    orNull(a.CheckpointHash),
		"root_hash":          orNull(a.RootHash),
		"state_hash":         orNull(a.StateHash),
		"prev_hash":          prev,
	})
}

// ---- KV key layout ----

var (
	prefixAnchor  = []byte("anchor:rec:")    // + seq(BE8) -> Anchor JSON
	keyLastSeq    = []byte("anchor:last")    // -> seq(BE8) of the highest appended anchor
	prefixBySnap  = []byte("anchor:bysnap:") // + decision_id + 0x00 + snapshot_up_to_seq(BE8) -> seq(BE8)
)

func anchorKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return append(append([]byte{}, prefixAnchor...), b...)
}

func bySnapKey(decisionID string, snapshotUpToSeq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, snapshotUpToSeq)
	key := append([]byte{}, prefixBySnap...)
	key = append(key, decisionID...)
	key = append(key, 0x00)
	return append(key, b...)
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func decodeSeq(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// Store is the single global anchor chain, backed by a KV.
type Store struct {
	kv kv.KV
}

// New wraps kv as an anchor store.
func New(store kv.KV) *Store {
	return &Store{kv: store}
}

func (s *Store) lastSeq(tx kv.KV) (uint64, error) {
	b, err := tx.Get(keyLastSeq)
	if err != nil {
		return 0, fmt.Errorf("anchorstore: read last seq: %w", err)
	}
	if len(b) == 0 {
		return 0, nil
	}
	return decodeSeq(b), nil
}

// GetAnchorForSnapshot returns the previously-appended anchor for
// (decisionID, snapshotUpToSeq), or ErrNotFound if none exists — callers
// use this to make anchor append idempotent per (decision_id,
// snapshot_up_to_seq).
func (s *Store) GetAnchorForSnapshot(tx kv.KV, decisionID string, snapshotUpToSeq uint64) (*Anchor, error) {
	if tx == nil {
		tx = s.kv
	}
	b, err := tx.Get(bySnapKey(decisionID, snapshotUpToSeq))
	if err != nil {
		return nil, fmt.Errorf("anchorstore: read snapshot index: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	return s.getAt(tx, decodeSeq(b))
}

func (s *Store) getAt(tx kv.KV, seq uint64) (*Anchor, error) {
	b, err := tx.Get(anchorKey(seq))
	if err != nil {
		return nil, fmt.Errorf("anchorstore: get seq %d: %w", seq, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var a Anchor
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("anchorstore: unmarshal seq %d: %w", seq, err)
	}
	return &a, nil
}

// AppendInput is what a caller supplies to pin a snapshot checkpoint.
type AppendInput struct {
	DecisionID      string
	SnapshotUpToSeq uint64
	CheckpointHash  string
	RootHash        string
	StateHash       string
	At              time.Time
}

// Append assigns the next global seq, chains prev_hash from the chain
// tail, computes hash, and persists the anchor. If an anchor already
// exists for (in.DecisionID, in.SnapshotUpToSeq), that anchor is returned
// unchanged — append is idempotent per that pair.
func (s *Store) Append(tx kv.KV, in AppendInput) (*Anchor, error) {
	if tx == nil {
		tx = s.kv
	}
	if existing, err := s.GetAnchorForSnapshot(tx, in.DecisionID, in.SnapshotUpToSeq); err == nil {
		return existing, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	prevSeq, err := s.lastSeq(tx)
	if err != nil {
		return nil, err
	}
	seq := prevSeq + 1

	var prevHash *string
	if prevSeq > 0 {
		prev, err := s.getAt(tx, prevSeq)
		if err != nil {
			return nil, fmt.Errorf("anchorstore: load prior anchor for chain: %w", err)
		}
		h := prev.Hash
		prevHash = &h
	}

	a := &Anchor{
		Seq:             seq,
		At:              in.At,
		DecisionID:      in.DecisionID,
		SnapshotUpToSeq: in.SnapshotUpToSeq,
		CheckpointHash:  in.CheckpointHash,
		RootHash:        in.RootHash,
		StateHash:       in.StateHash,
		PrevHash:        prevHash,
	}
	hash, err := hashInput(a)
	if err != nil {
		return nil, fmt.Errorf("anchorstore: compute hash: %w", err)
	}
	a.Hash = hash

	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("anchorstore: marshal: %w", err)
	}
	if err := tx.Set(anchorKey(seq), raw); err != nil {
		return nil, fmt.Errorf("anchorstore: write anchor: %w", err)
	}
	if err := tx.Set(keyLastSeq, encodeSeq(seq)); err != nil {
		return nil, fmt.Errorf("anchorstore: write last-seq marker: %w", err)
	}
	if err := tx.Set(bySnapKey(in.DecisionID, in.SnapshotUpToSeq), encodeSeq(seq)); err != nil {
		return nil, fmt.Errorf("anchorstore: write snapshot index: %w", err)
	}
	return a, nil
}

// ListAnchors returns every anchor in ascending seq order.
func (s *Store) ListAnchors(tx kv.KV) ([]*Anchor, error) {
	if tx == nil {
		tx = s.kv
	}
	var out []*Anchor
	var iterErr error
	err := tx.Iterate(prefixAnchor, func(key, value []byte) bool {
		var a Anchor
		if err := json.Unmarshal(value, &a); err != nil {
			iterErr = err
			return false
		}
		out = append(out, &a)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("anchorstore: scan: %w", err)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}

// PruneAnchors keeps only the keepLastN anchors with the highest seq,
// deleting the rest. The per-snapshot index entries for pruned anchors are
// left in place (GetAnchorForSnapshot would then report ErrNotFound via a
// dangling getAt, which callers treat the same as never having anchored).
func (s *Store) PruneAnchors(tx kv.KV, keepLastN int) error {
	if tx == nil {
		tx = s.kv
	}
	all, err := s.ListAnchors(tx)
	if err != nil {
		return err
	}
	if keepLastN < 0 || len(all) <= keepLastN {
		return nil
	}
	for _, a := range all[:len(all)-keepLastN] {
		if err := tx.Delete(anchorKey(a.Seq)); err != nil {
			return fmt.Errorf("anchorstore: delete seq %d: %w", a.Seq, err)
		}
	}
	return nil
}

// ChainVerification is the result of VerifyChain.
type ChainVerification struct {
	Verified bool                `json:"verified"`
	Errors   []ChainVerifyError  `json:"errors,omitempty"`
}

// ChainVerifyError names one broken link in the anchor chain.
type ChainVerifyError struct {
	Seq     uint64 `json:"seq"`
	Problem string `json:"problem"`
}

// VerifyChain iterates every anchor in seq order, checking strict
// monotonicity, prev_hash linkage, and recomputed hash.
func (s *Store) VerifyChain(tx kv.KV) (*ChainVerification, error) {
	all, err := s.ListAnchors(tx)
	if err != nil {
		return nil, err
	}
	result := &ChainVerification{Verified: true}
	var prevSeq uint64
	var prevHash *string
	for _, a := range all {
		if prevSeq != 0 && a.Seq != prevSeq+1 {
			result.Verified = false
			result.Errors = append(result.Errors, ChainVerifyError{Seq: a.Seq, Problem: "seq is not strictly monotonic"})
		}
		recomputed, err := hashInput(a)
		if err != nil {
			return nil, fmt.Errorf("anchorstore: recompute hash for seq %d: %w", a.Seq, err)
		}
		if recomputed != a.Hash {
			result.Verified = false
			result.Errors = append(result.Errors, ChainVerifyError{Seq: a.Seq, Problem: "stored hash does not match recomputed hash"})
		}
		if !equalPtr(prevHash, a.PrevHash) {
			result.Verified = false
			result.Errors = append(result.Errors, ChainVerifyError{Seq: a.Seq, Problem: "prev_hash does not match the prior anchor's hash"})
		}
		prevSeq = a.Seq
		h := a.Hash
		prevHash = &h
	}
	return result, nil
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
