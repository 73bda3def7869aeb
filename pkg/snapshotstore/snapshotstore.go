// Copyright 2025 Certen Protocol
//
// Package snapshotstore holds periodic materialized Decision state so the
// replay engine never has to fold the full event history from seq 1 on
// every read. Every snapshot carries its own integrity hashes
// (checkpoint, state, provenance tail, Merkle root) so a loader can reject
// a tampered snapshot before trusting it as a replay base.
package snapshotstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/kv"
	"github.com/certen/veritas-ledger/pkg/merkle"
	"github.com/certen/veritas-ledger/pkg/provenance"
	"github.com/certen/veritas-ledger/pkg/statehash"
)

var ErrNotFound = errors.New("snapshotstore: no snapshot found")

// Snapshot is a materialized Decision at a given up_to_seq, plus the
// integrity hashes a loader must recheck before trusting it.
type Snapshot struct {
	DecisionID         string            `json:"decision_id"`
	UpToSeq            uint64            `json:"up_to_seq"`
	Decision           *decision.Decision `json:"decision"`
	CreatedAt          time.Time         `json:"created_at"`
	CheckpointHash     string            `json:"checkpoint_hash"`
	StateHash          string            `json:"state_hash"`
	ProvenanceTailHash string            `json:"provenance_tail_hash"`
	RootHash           string            `json:"root_hash"`
}

// ---- KV key layout ----

var (
	prefixSnapshot = []byte("snap:rec:") // + decision_id + 0x00 + up_to_seq(BE8) -> Snapshot JSON
	prefixLatest   = []byte("snap:last:") // + decision_id -> up_to_seq(BE8)
)

func snapshotKey(decisionID string, upToSeq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, upToSeq)
	key := append([]byte{}, prefixSnapshot...)
	key = append(key, decisionID...)
	key = append(key, 0x00)
	return append(key, b...)
}

func snapshotPrefix(decisionID string) []byte {
	key := append([]byte{}, prefixSnapshot...)
	key = append(key, decisionID...)
	return append(key, 0x00)
}

func latestKey(decisionID string) []byte {
	return append(append([]byte{}, prefixLatest...), decisionID...)
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func decodeSeq(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// Store is the snapshot store for every decision, backed by a KV.
type Store struct {
	kv kv.KV
}

// New wraps kv as a snapshot store.
func New(store kv.KV) *Store {
	return &Store{kv: store}
}

// PutSnapshot upserts snap, keyed by (decision_id, up_to_seq), and advances
// the latest-snapshot marker if snap.UpToSeq is the new high-water mark.
func (s *Store) PutSnapshot(tx kv.KV, snap *Snapshot) error {
	if tx == nil {
		tx = s.kv
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshotstore: marshal snapshot: %w", err)
	}
	if err := tx.Set(snapshotKey(snap.DecisionID, snap.UpToSeq), raw); err != nil {
		return fmt.Errorf("snapshotstore: write snapshot: %w", err)
	}

	latest, err := s.latestSeq(tx, snap.DecisionID)
	if err != nil {
		return err
	}
	if snap.UpToSeq > latest {
		if err := tx.Set(latestKey(snap.DecisionID), encodeSeq(snap.UpToSeq)); err != nil {
			return fmt.Errorf("snapshotstore: write latest marker: %w", err)
		}
	}
	return nil
}

func (s *Store) latestSeq(tx kv.KV, decisionID string) (uint64, error) {
	b, err := tx.Get(latestKey(decisionID))
	if err != nil {
		return 0, fmt.Errorf("snapshotstore: read latest marker: %w", err)
	}
	if len(b) == 0 {
		return 0, nil
	}
	return decodeSeq(b), nil
}

// GetLatestSnapshot returns the snapshot with the highest up_to_seq for
// decisionID, or ErrNotFound if none exists.
func (s *Store) GetLatestSnapshot(tx kv.KV, decisionID string) (*Snapshot, error) {
	if tx == nil {
		tx = s.kv
	}
	seq, err := s.latestSeq(tx, decisionID)
	if err != nil {
		return nil, err
	}
	if seq == 0 {
		return nil, ErrNotFound
	}
	return s.getAt(tx, decisionID, seq)
}

// GetSnapshotAtOrBefore returns the snapshot with the largest up_to_seq
// that is <= upToSeq, or ErrNotFound if none qualifies.
func (s *Store) GetSnapshotAtOrBefore(tx kv.KV, decisionID string, upToSeq uint64) (*Snapshot, error) {
	if tx == nil {
		tx = s.kv
	}
	var best *Snapshot
	var iterErr error
	err := tx.Iterate(snapshotPrefix(decisionID), func(key, value []byte) bool {
		var snap Snapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			iterErr = fmt.Errorf("snapshotstore: unmarshal during scan: %w", err)
			return false
		}
		if snap.UpToSeq <= upToSeq && (best == nil || snap.UpToSeq > best.UpToSeq) {
			best = &snap
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: scan: %w", err)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (s *Store) getAt(tx kv.KV, decisionID string, upToSeq uint64) (*Snapshot, error) {
	b, err := tx.Get(snapshotKey(decisionID, upToSeq))
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: get: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("snapshotstore: unmarshal: %w", err)
	}
	return &snap, nil
}

// PruneSnapshots keeps only the keepLastN snapshots with the highest
// up_to_seq for decisionID, deleting the rest.
func (s *Store) PruneSnapshots(tx kv.KV, decisionID string, keepLastN int) error {
	if tx == nil {
		tx = s.kv
	}
	var all []*Snapshot
	var iterErr error
	err := tx.Iterate(snapshotPrefix(decisionID), func(key, value []byte) bool {
		var snap Snapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			iterErr = err
			return false
		}
		all = append(all, &snap)
		return true
	})
	if err != nil {
		return fmt.Errorf("snapshotstore: scan for prune: %w", err)
	}
	if iterErr != nil {
		return iterErr
	}
	if keepLastN < 0 || len(all) <= keepLastN {
		return nil
	}
	// all is in ascending key (and therefore ascending up_to_seq) order.
	toDelete := all[:len(all)-keepLastN]
	for _, snap := range toDelete {
		if err := tx.Delete(snapshotKey(decisionID, snap.UpToSeq)); err != nil {
			return fmt.Errorf("snapshotstore: delete snapshot up_to_seq=%d: %w", snap.UpToSeq, err)
		}
	}
	return nil
}

// Build materializes a new Snapshot at upToSeq from a replayed decision
// and the event hashes covering seq 1..upToSeq, computing all four
// integrity hashes.
func Build(d *decision.Decision, decisionID string, upToSeq uint64, checkpointHash string, eventHashes []string, at time.Time) (*Snapshot, error) {
	stateHash, err := statehash.Tamper(d)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: compute state_hash: %w", err)
	}
	tailHash, err := provenance.TailHash(d)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: compute provenance_tail_hash: %w", err)
	}
	var rootHash string
	if len(eventHashes) > 0 {
		rootHash, err = merkle.Root(eventHashes)
		if err != nil {
			return nil, fmt.Errorf("snapshotstore: compute root_hash: %w", err)
		}
	}
	return &Snapshot{
		DecisionID:         decisionID,
		UpToSeq:            upToSeq,
		Decision:           d.Clone(),
		CreatedAt:          at,
		CheckpointHash:     checkpointHash,
		StateHash:          stateHash,
		ProvenanceTailHash: tailHash,
		RootHash:           rootHash,
	}, nil
}

// IntegrityError names one recomputation disagreement found by
// VerifyIntegrity.
type IntegrityError struct {
	Field string
	Want  string
	Got   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("snapshotstore: %s mismatch: stored=%q recomputed=%q", e.Field, e.Want, e.Got)
}

// VerifyIntegrity recomputes state_hash and provenance_tail_hash from
// snap.Decision and compares them against the stored values; it also
// compares root_hash against an independently-recomputed root when
// eventHashesForRoot is non-empty (callers skip this when the underlying
// events were pruned — state and provenance checks remain authoritative
// in that case). checkpointEventHash is compared when non-empty, for the
// same reason.
func VerifyIntegrity(snap *Snapshot, eventHashesForRoot []string, checkpointEventHash string) error {
	stateHash, err := statehash.Tamper(snap.Decision)
	if err != nil {
		return fmt.Errorf("snapshotstore: recompute state_hash: %w", err)
	}
	if stateHash != snap.StateHash {
		return &IntegrityError{Field: "state_hash", Want: snap.StateHash, Got: stateHash}
	}

	tailHash, err := provenance.TailHash(snap.Decision)
	if err != nil {
		return fmt.Errorf("snapshotstore: recompute provenance_tail_hash: %w", err)
	}
	if tailHash != snap.ProvenanceTailHash {
		return &IntegrityError{Field: "provenance_tail_hash", Want: snap.ProvenanceTailHash, Got: tailHash}
	}

	if len(eventHashesForRoot) > 0 {
		root, err := merkle.Root(eventHashesForRoot)
		if err != nil {
			return fmt.Errorf("snapshotstore: recompute root_hash: %w", err)
		}
		if root != snap.RootHash {
			return &IntegrityError{Field: "root_hash", Want: snap.RootHash, Got: root}
		}
	}

	if checkpointEventHash != "" && checkpointEventHash != snap.CheckpointHash {
		return &IntegrityError{Field: "checkpoint_hash", Want: snap.CheckpointHash, Got: checkpointEventHash}
	}

	return nil
}
