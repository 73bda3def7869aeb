// Copyright 2025 Certen Protocol
//
// Package eventstore is the append-only log of events applied to a
// Decision. Every record is immutable once written; its hash chains to the
// prior record's hash so any mutation of a past row is detectable without
// touching the rest of the store.
package eventstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/certen/veritas-ledger/pkg/canon"
	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/kv"
	"github.com/certen/veritas-ledger/pkg/merkle"
)

// Sentinel errors, in the explicit-error-instead-of-(nil,nil) style used
// throughout this module's stores.
var (
	ErrNotFound       = errors.New("eventstore: record not found")
	ErrSeqExists      = errors.New("eventstore: seq already recorded for this decision")
	ErrIdempotencyHit = errors.New("eventstore: idempotency key already used for this decision")
)

// Record is a persisted, immutable event.
type Record struct {
	DecisionID     string         `json:"decision_id"`
	Seq            uint64         `json:"seq"`
	At             time.Time      `json:"at"`
	Event          decision.Event `json:"event"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	PrevHash       *string        `json:"prev_hash,omitempty"`
	Hash           string         `json:"hash"`
}

// hashInput computes the canonical hash of a Record's chain-relevant
// fields. idempotency_key and prev_hash are hashed as explicit nulls when
// absent rather than omitted, matching the wire contract other verifiers
// (including non-Go ones) recompute against.
func hashInput(r *Record) (string, error) {
	idem := interface{}(canon.Null)
	if r.IdempotencyKey != nil {
		idem = *r.IdempotencyKey
	}
	prev := interface{}(canon.Null)
	if r.PrevHash != nil {
		prev = *r.PrevHash
	}
	return canon.HashValue(map[string]interface{}{
		"decision_id":     r.DecisionID,
		"seq":             r.Seq,
		"at":              r.At.UTC().Format(time.RFC3339Nano),
		"idempotency_key": idem,
		"prev_hash":       prev,
		"event":           r.Event,
	})
}

// Input is what a caller supplies to append a new event; the store fills
// in Seq, PrevHash, and Hash.
type Input struct {
	Event          decision.Event
	IdempotencyKey *string
	At             time.Time
}

// ---- KV key layout, modeled on the big-endian-height-prefixed scheme ----

var (
	prefixRecord = []byte("ev:rec:")  // + decision_id + 0x00 + seq(BE8) -> Record JSON
	prefixLast   = []byte("ev:last:") // + decision_id -> seq(BE8), the highest seq recorded
	prefixIdem   = []byte("ev:idem:") // + decision_id + 0x00 + key -> seq(BE8)
)

func recordKey(decisionID string, seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	key := append([]byte{}, prefixRecord...)
	key = append(key, decisionID...)
	key = append(key, 0x00)
	return append(key, b...)
}

func recordPrefix(decisionID string) []byte {
	key := append([]byte{}, prefixRecord...)
	key = append(key, decisionID...)
	return append(key, 0x00)
}

func lastKey(decisionID string) []byte {
	return append(append([]byte{}, prefixLast...), decisionID...)
}

func idemKey(decisionID, idempotencyKey string) []byte {
	key := append([]byte{}, prefixIdem...)
	key = append(key, decisionID...)
	key = append(key, 0x00)
	return append(key, idempotencyKey...)
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func decodeSeq(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// Store is the append-only event log for every decision, backed by a KV.
type Store struct {
	kv kv.KV
}

// New wraps kv as an event store.
func New(store kv.KV) *Store {
	return &Store{kv: store}
}

// lastSeq returns the highest seq recorded for decisionID, or 0 if none.
func (s *Store) lastSeq(tx kv.KV, decisionID string) (uint64, error) {
	b, err := tx.Get(lastKey(decisionID))
	if err != nil {
		return 0, fmt.Errorf("eventstore: read last seq: %w", err)
	}
	if len(b) == 0 {
		return 0, nil
	}
	return decodeSeq(b), nil
}

// AppendEvent assigns the next seq for decisionID, chains prev_hash from the
// prior record's hash, computes the record hash, and persists it. If tx is
// nil, s.kv is used directly (the caller is responsible for wrapping this
// call in a transaction alongside any sibling writes, e.g. via
// kv.Transactional.RunInTransaction).
func (s *Store) AppendEvent(tx kv.KV, decisionID string, in Input) (*Record, error) {
	if tx == nil {
		tx = s.kv
	}
	if in.IdempotencyKey != nil {
		if existing, err := s.FindEventByIdempotencyKey(tx, decisionID, *in.IdempotencyKey); err == nil && existing != nil {
			return existing, ErrIdempotencyHit
		} else if err != nil && err != ErrNotFound {
			return nil, err
		}
	}

	prevSeq, err := s.lastSeq(tx, decisionID)
	if err != nil {
		return nil, err
	}
	seq := prevSeq + 1

	var prevHash *string
	if prevSeq > 0 {
		prev, err := s.GetEventBySeq(tx, decisionID, prevSeq)
		if err != nil {
			return nil, fmt.Errorf("eventstore: load prior record for chain: %w", err)
		}
		h := prev.Hash
		prevHash = &h
	}

	rec := &Record{
		DecisionID:     decisionID,
		Seq:            seq,
		At:             in.At,
		Event:          in.Event,
		IdempotencyKey: in.IdempotencyKey,
		PrevHash:       prevHash,
	}
	hash, err := hashInput(rec)
	if err != nil {
		return nil, fmt.Errorf("eventstore: compute record hash: %w", err)
	}
	rec.Hash = hash

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("eventstore: marshal record: %w", err)
	}
	if err := tx.Set(recordKey(decisionID, seq), raw); err != nil {
		return nil, fmt.Errorf("eventstore: write record: %w", err)
	}
	if err := tx.Set(lastKey(decisionID), encodeSeq(seq)); err != nil {
		return nil, fmt.Errorf("eventstore: write last-seq marker: %w", err)
	}
	if in.IdempotencyKey != nil {
		if err := tx.Set(idemKey(decisionID, *in.IdempotencyKey), encodeSeq(seq)); err != nil {
			return nil, fmt.Errorf("eventstore: write idempotency index: %w", err)
		}
	}
	return rec, nil
}

// GetEventBySeq returns the record at the given seq, or ErrNotFound.
func (s *Store) GetEventBySeq(tx kv.KV, decisionID string, seq uint64) (*Record, error) {
	if tx == nil {
		tx = s.kv
	}
	b, err := tx.Get(recordKey(decisionID, seq))
	if err != nil {
		return nil, fmt.Errorf("eventstore: get record: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("eventstore: unmarshal record: %w", err)
	}
	return &rec, nil
}

// GetLastEvent returns the most recently appended record, or ErrNotFound if
// the decision has no events yet.
func (s *Store) GetLastEvent(tx kv.KV, decisionID string) (*Record, error) {
	if tx == nil {
		tx = s.kv
	}
	seq, err := s.lastSeq(tx, decisionID)
	if err != nil {
		return nil, err
	}
	if seq == 0 {
		return nil, ErrNotFound
	}
	return s.GetEventBySeq(tx, decisionID, seq)
}

// ListEvents returns every record for decisionID in ascending seq order.
func (s *Store) ListEvents(tx kv.KV, decisionID string) ([]*Record, error) {
	return s.ListEventsFrom(tx, decisionID, 0)
}

// ListEventsFrom returns every record with seq > afterSeq, ascending.
func (s *Store) ListEventsFrom(tx kv.KV, decisionID string, afterSeq uint64) ([]*Record, error) {
	if tx == nil {
		tx = s.kv
	}
	var out []*Record
	var iterErr error
	err := tx.Iterate(recordPrefix(decisionID), func(key, value []byte) bool {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			iterErr = fmt.Errorf("eventstore: unmarshal record during scan: %w", err)
			return false
		}
		if rec.Seq > afterSeq {
			out = append(out, &rec)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("eventstore: scan records: %w", err)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}

// ListEventsTail returns up to limit of the most recent records, ascending.
func (s *Store) ListEventsTail(tx kv.KV, decisionID string, limit int) ([]*Record, error) {
	all, err := s.ListEvents(tx, decisionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit >= len(all) {
		return all, nil
	}
	return all[len(all)-limit:], nil
}

// FindEventByIdempotencyKey returns the record previously appended under
// key for decisionID, or ErrNotFound.
func (s *Store) FindEventByIdempotencyKey(tx kv.KV, decisionID, key string) (*Record, error) {
	if tx == nil {
		tx = s.kv
	}
	b, err := tx.Get(idemKey(decisionID, key))
	if err != nil {
		return nil, fmt.Errorf("eventstore: get idempotency index: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	return s.GetEventBySeq(tx, decisionID, decodeSeq(b))
}

// ChainVerification is the result of VerifyHashChain.
type ChainVerification struct {
	Verified bool               `json:"verified"`
	Errors   []ChainVerifyError `json:"errors,omitempty"`
}

// ChainVerifyError names one broken link in the chain.
type ChainVerifyError struct {
	Seq     uint64 `json:"seq"`
	Problem string `json:"problem"`
}

// VerifyHashChain recomputes every record's hash from its stored fields and
// checks that prev_hash equals the prior record's (recomputed) hash.
func (s *Store) VerifyHashChain(tx kv.KV, decisionID string) (*ChainVerification, error) {
	records, err := s.ListEvents(tx, decisionID)
	if err != nil {
		return nil, err
	}
	result := &ChainVerification{Verified: true}
	var prevHash *string
	for _, rec := range records {
		recomputed, err := hashInput(rec)
		if err != nil {
			return nil, fmt.Errorf("eventstore: recompute hash for seq %d: %w", rec.Seq, err)
		}
		if recomputed != rec.Hash {
			result.Verified = false
			result.Errors = append(result.Errors, ChainVerifyError{Seq: rec.Seq, Problem: "stored hash does not match recomputed hash"})
		}
		if !equalPtr(prevHash, rec.PrevHash) {
			result.Verified = false
			result.Errors = append(result.Errors, ChainVerifyError{Seq: rec.Seq, Problem: "prev_hash does not match the prior record's hash"})
		}
		h := rec.Hash
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

// GetMerkleProof builds an inclusion proof for the event at seq against the
// Merkle tree over event hashes 1..upToSeq (the same range a snapshot's
// root_hash covers).
func (s *Store) GetMerkleProof(tx kv.KV, decisionID string, seq, upToSeq uint64) (*merkle.Proof, error) {
	if seq < 1 || seq > upToSeq {
		return nil, fmt.Errorf("eventstore: seq %d out of range [1, %d]", seq, upToSeq)
	}
	hashes := make([]string, 0, upToSeq)
	for i := uint64(1); i <= upToSeq; i++ {
		rec, err := s.GetEventBySeq(tx, decisionID, i)
		if err != nil {
			return nil, fmt.Errorf("eventstore: load seq %d for proof: %w", i, err)
		}
		hashes = append(hashes, rec.Hash)
	}
	return merkle.BuildProof(hashes, int(seq-1))
}
