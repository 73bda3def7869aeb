// Copyright 2025 Certen Protocol
//
// Package globalledger is the append-only, optionally-signed log of
// store-wide events (decision event appended, snapshot taken, anchor
// pinned, federation event) — scoped per tenant_id, or globally when
// tenant_id is empty. Unlike pkg/eventstore's per-decision chain and
// pkg/anchorstore's single cross-decision chain, this chain exists once
// per tenant lane and records cross-component activity rather than
// decision-specific state.
package globalledger

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/certen/veritas-ledger/pkg/canon"
	"github.com/certen/veritas-ledger/pkg/kv"
)

var ErrNotFound = errors.New("globalledger: entry not found")

// SigAlg names a supported entry-signature scheme. The empty value means
// unsigned.
type SigAlg string

const (
	SigNone       SigAlg = ""
	SigHMACSHA256 SigAlg = "HMAC_SHA256"
	SigEd25519    SigAlg = "ED25519"
	SigBLS12381   SigAlg = "BLS12_381"
)

// Entry is one append-only global ledger row.
type Entry struct {
	Seq        uint64                 `json:"seq"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	Type       string                 `json:"type"`
	At         time.Time              `json:"at"`
	DecisionID string                 `json:"decision_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	PrevHash   *string                `json:"prev_hash,omitempty"`
	Hash       string                 `json:"hash"`
	SigAlg     SigAlg                 `json:"sig_alg,omitempty"`
	KeyID      string                 `json:"key_id,omitempty"`
	Sig        string                 `json:"sig,omitempty"`
}

// hashInput hashes every non-signature field: seq, tenant_id, type, at,
// decision_id, payload, prev_hash. Optional fields are hashed as explicit
// null when unset, matching the convention used throughout this module's
// other chains.
func hashInput(e *Entry) (string, error) {
	prev := interface{}(canon.Null)
	if e.PrevHash != nil {
		prev = *e.PrevHash
	}
	payload := interface{}(canon.Null)
	if e.Payload != nil {
		payload = e.Payload
	}
	tenant := interface{}(canon.Null)
	if e.TenantID != "" {
		tenant = e.TenantID
	}
	decisionID := interface{}(canon.Null)
	if e.DecisionID != "" {
		decisionID = e.DecisionID
	}
	return canon.HashValue(map[string]interface{}{
		"seq":         e.Seq,
		"tenant_id":   tenant,
		"type":        e.Type,
		"at":          e.At.UTC().Format(time.RFC3339Nano),
		"decision_id": decisionID,
		"payload":     payload,
		"prev_hash":   prev,
	})
}

// Message returns the byte sequence a signature over this entry is
// computed/verified against: the canonical bytes of the same hash input.
func (e *Entry) Message() ([]byte, error) {
	prev := interface{}(canon.Null)
	if e.PrevHash != nil {
		prev = *e.PrevHash
	}
	payload := interface{}(canon.Null)
	if e.Payload != nil {
		payload = e.Payload
	}
	tenant := interface{}(canon.Null)
	if e.TenantID != "" {
		tenant = e.TenantID
	}
	decisionID := interface{}(canon.Null)
	if e.DecisionID != "" {
		decisionID = e.DecisionID
	}
	return canon.CanonicalBytes(map[string]interface{}{
		"seq":         e.Seq,
		"tenant_id":   tenant,
		"type":        e.Type,
		"at":          e.At.UTC().Format(time.RFC3339Nano),
		"decision_id": decisionID,
		"payload":     payload,
		"prev_hash":   prev,
	})
}

// ---- KV key layout ----

var (
	prefixEntry = []byte("gl:rec:")  // + tenant_id + 0x00 + seq(BE8) -> Entry JSON
	prefixLast  = []byte("gl:last:") // + tenant_id -> seq(BE8) of the highest appended entry for that tenant
)

func entryKey(tenantID string, seq uint64) []byte {
	key := append([]byte{}, prefixEntry...)
	key = append(key, tenantID...)
	key = append(key, 0x00)
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return append(key, b...)
}

func lastKey(tenantID string) []byte {
	return append(append([]byte{}, prefixLast...), tenantID...)
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// Policy configures which event types require a signature at append time.
type Policy struct {
	RequireSignature       bool
	RequireSignatureByType map[string]bool
}

func (p Policy) requires(entryType string) bool {
	if p.RequireSignature {
		return true
	}
	return p.RequireSignatureByType[entryType]
}

// Store is the global ledger, backed by a KV, one hash-chain lane per
// tenant_id (the empty tenant_id is the global lane).
type Store struct {
	kv kv.KV
}

// New wraps store as a global ledger.
func New(store kv.KV) *Store {
	return &Store{kv: store}
}

func (s *Store) lastSeq(tx kv.KV, tenantID string) (uint64, error) {
	b, err := tx.Get(lastKey(tenantID))
	if err != nil {
		return 0, fmt.Errorf("globalledger: read last seq: %w", err)
	}
	if len(b) == 0 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(b), nil
}

func (s *Store) getAt(tx kv.KV, tenantID string, seq uint64) (*Entry, error) {
	b, err := tx.Get(entryKey(tenantID, seq))
	if err != nil {
		return nil, fmt.Errorf("globalledger: get seq %d: %w", seq, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("globalledger: unmarshal seq %d: %w", seq, err)
	}
	return &e, nil
}

// AppendInput is what a caller supplies to append one global ledger entry.
type AppendInput struct {
	TenantID   string
	Type       string
	At         time.Time
	DecisionID string
	Payload    map[string]interface{}
	SigAlg     SigAlg
	KeyID      string
	Sig        string
}

// ErrSignatureRequired is returned when policy requires a signature for
// in.Type but none was supplied.
var ErrSignatureRequired = errors.New("globalledger: signature required by policy but not supplied")

// Append assigns the next per-tenant seq, chains prev_hash, computes hash,
// and persists the entry. If policy requires a signature for in.Type and
// none is present, Append fails before writing anything.
func (s *Store) Append(tx kv.KV, policy Policy, in AppendInput) (*Entry, error) {
	if tx == nil {
		tx = s.kv
	}
	if policy.requires(in.Type) && in.Sig == "" {
		return nil, ErrSignatureRequired
	}

	prevSeq, err := s.lastSeq(tx, in.TenantID)
	if err != nil {
		return nil, err
	}
	seq := prevSeq + 1

	var prevHash *string
	if prevSeq > 0 {
		prev, err := s.getAt(tx, in.TenantID, prevSeq)
		if err != nil {
			return nil, fmt.Errorf("globalledger: load prior entry for chain: %w", err)
		}
		h := prev.Hash
		prevHash = &h
	}

	e := &Entry{
		Seq:        seq,
		TenantID:   in.TenantID,
		Type:       in.Type,
		At:         in.At,
		DecisionID: in.DecisionID,
		Payload:    in.Payload,
		PrevHash:   prevHash,
		SigAlg:     in.SigAlg,
		KeyID:      in.KeyID,
		Sig:        in.Sig,
	}
	hash, err := hashInput(e)
	if err != nil {
		return nil, fmt.Errorf("globalledger: compute hash: %w", err)
	}
	e.Hash = hash

	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("globalledger: marshal: %w", err)
	}
	if err := tx.Set(entryKey(in.TenantID, seq), raw); err != nil {
		return nil, fmt.Errorf("globalledger: write entry: %w", err)
	}
	if err := tx.Set(lastKey(in.TenantID), encodeSeq(seq)); err != nil {
		return nil, fmt.Errorf("globalledger: write last-seq marker: %w", err)
	}
	return e, nil
}

// ListEntries returns every entry for tenantID in ascending seq order.
func (s *Store) ListEntries(tx kv.KV, tenantID string) ([]*Entry, error) {
	if tx == nil {
		tx = s.kv
	}
	prefix := append(append([]byte{}, prefixEntry...), append([]byte(tenantID), 0x00)...)
	var out []*Entry
	var iterErr error
	err := tx.Iterate(prefix, func(key, value []byte) bool {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			iterErr = err
			return false
		}
		out = append(out, &e)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("globalledger: scan: %w", err)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}

// Verifier checks a signature against a message. Implementations wrap
// whatever key material a caller's signer directory or HMAC secret store
// resolves; this package stays free of a dependency on any one of them.
type Verifier interface {
	Verify(message, sig []byte) bool
}

// VerifierFunc adapts a plain function to Verifier.
type VerifierFunc func(message, sig []byte) bool

func (f VerifierFunc) Verify(message, sig []byte) bool { return f(message, sig) }

// Resolver looks up the Verifier for (tenantID, alg, keyID), returning
// false if no verifier is known for that key — VerifyChain then reports
// the entry as SIGNED_UNVERIFIED rather than failing outright.
type Resolver func(tenantID string, alg SigAlg, keyID string) (Verifier, bool)

// TrustLevel names how much a verifier can trust one ledger entry's
// signature, from no signature at all up to a cryptographically verified
// strong (asymmetric) signature.
type TrustLevel string

const (
	TrustUnsigned        TrustLevel = "UNSIGNED"
	TrustSignedUnverified TrustLevel = "SIGNED_UNVERIFIED"
	TrustSignedVerified   TrustLevel = "SIGNED_VERIFIED"
	TrustStrongVerified   TrustLevel = "STRONG_VERIFIED"
)

// trustRank orders TrustLevel from weakest to strongest so MinimumTrust can
// be computed by a simple numeric comparison.
var trustRank = map[TrustLevel]int{
	TrustUnsigned:         0,
	TrustSignedUnverified: 1,
	TrustSignedVerified:   2,
	TrustStrongVerified:   3,
}

func isStrongAlg(alg SigAlg) bool {
	return alg == SigEd25519 || alg == SigBLS12381
}

// ChainVerifyError names one broken link in the global ledger chain.
type ChainVerifyError struct {
	Seq     uint64 `json:"seq"`
	Problem string `json:"problem"`
}

// ChainVerification is the result of VerifyChain: whether the chain
// linkage holds, any breaks found, and a trust summary over every entry's
// signature state.
type ChainVerification struct {
	Verified     bool                 `json:"verified"`
	Errors       []ChainVerifyError   `json:"errors,omitempty"`
	TrustCounts  map[TrustLevel]int   `json:"trust_counts"`
	MinimumTrust TrustLevel           `json:"minimum_trust"`
}

// VerifyChain iterates tenantID's lane in seq order, checking strict
// monotonicity, prev_hash linkage, and recomputed hash (exactly like
// pkg/anchorstore.VerifyChain), then layers a trust-summary pass: each
// entry is classified UNSIGNED (no signature), SIGNED_UNVERIFIED (signed
// but resolver is nil or has no key for it), SIGNED_VERIFIED (a resolved
// verifier accepted the signature), or STRONG_VERIFIED (verified and the
// algorithm is one of the asymmetric "strong" families, Ed25519 or
// BLS12-381 — HMAC is a shared-secret scheme and never reaches this tier
// regardless of verification outcome). MinimumTrust is the weakest level
// observed across the whole lane, the one a caller should gate decisions
// on.
func (s *Store) VerifyChain(tx kv.KV, tenantID string, resolver Resolver) (*ChainVerification, error) {
	if tx == nil {
		tx = s.kv
	}
	all, err := s.ListEntries(tx, tenantID)
	if err != nil {
		return nil, err
	}
	result := &ChainVerification{
		Verified:     true,
		TrustCounts:  make(map[TrustLevel]int),
		MinimumTrust: TrustStrongVerified,
	}
	var prevSeq uint64
	var prevHash *string
	for _, e := range all {
		if prevSeq != 0 && e.Seq != prevSeq+1 {
			result.Verified = false
			result.Errors = append(result.Errors, ChainVerifyError{Seq: e.Seq, Problem: "seq is not strictly monotonic"})
		}
		recomputed, err := hashInput(e)
		if err != nil {
			return nil, fmt.Errorf("globalledger: recompute hash for seq %d: %w", e.Seq, err)
		}
		if recomputed != e.Hash {
			result.Verified = false
			result.Errors = append(result.Errors, ChainVerifyError{Seq: e.Seq, Problem: "stored hash does not match recomputed hash"})
		}
		if !equalPtr(prevHash, e.PrevHash) {
			result.Verified = false
			result.Errors = append(result.Errors, ChainVerifyError{Seq: e.Seq, Problem: "prev_hash does not match the prior entry's hash"})
		}
		prevSeq = e.Seq
		h := e.Hash
		prevHash = &h

		level := trustLevel(e, resolver)
		result.TrustCounts[level]++
		if trustRank[level] < trustRank[result.MinimumTrust] {
			result.MinimumTrust = level
		}
	}
	if len(all) == 0 {
		result.MinimumTrust = TrustUnsigned
	}
	return result, nil
}

func trustLevel(e *Entry, resolver Resolver) TrustLevel {
	if e.SigAlg == SigNone || e.Sig == "" {
		return TrustUnsigned
	}
	if resolver == nil {
		return TrustSignedUnverified
	}
	verifier, ok := resolver(e.TenantID, e.SigAlg, e.KeyID)
	if !ok {
		return TrustSignedUnverified
	}
	message, err := e.Message()
	if err != nil {
		return TrustSignedUnverified
	}
	sig, err := hex.DecodeString(e.Sig)
	if err != nil {
		return TrustSignedUnverified
	}
	if !verifier.Verify(message, sig) {
		return TrustSignedUnverified
	}
	if isStrongAlg(e.SigAlg) {
		return TrustStrongVerified
	}
	return TrustSignedVerified
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
