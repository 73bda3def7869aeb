// Copyright 2025 Certen Protocol
//
// Package federation implements the two-tenant propose/cosign/challenge
// protocol: a federation event lives as a sequence of global ledger
// entries in the proposing tenant's lane, and its current state is
// whatever the last applicable entry says it is.
package federation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/certen/veritas-ledger/pkg/canon"
	"github.com/certen/veritas-ledger/pkg/globalledger"
	"github.com/certen/veritas-ledger/pkg/kv"
)

// Status is a federation event's current lifecycle state.
type Status string

const (
	StatusProposed Status = "PROPOSED"
	StatusCoSigned Status = "CO_SIGNED"
	StatusDisputed Status = "DISPUTED"
)

// Ledger entry types this package appends.
const (
	EventProposed   = "FEDERATION_EVENT_PROPOSED"
	EventCoSigned   = "FEDERATION_EVENT_COSIGNED"
	EventChallenged = "FEDERATION_EVENT_CHALLENGED"
)

var (
	ErrNotFound        = errors.New("federation: federation_id not found in tenant_a's lane")
	ErrNotProposed     = errors.New("federation: cosign requires state PROPOSED")
	ErrDisputed        = errors.New("federation: federation event is DISPUTED, no further transitions permitted")
	ErrTenantBMismatch = errors.New("federation: tenant_b does not match the proposed federation event")
)

// Event is a federation event reconstructed from its ledger entries.
type Event struct {
	FederationID string                 `json:"federation_id"`
	At           time.Time              `json:"at"`
	Purpose      string                 `json:"purpose"`
	Payload      map[string]interface{} `json:"payload"`
	PayloadHash  string                 `json:"payload_hash"`
	TenantA      string                 `json:"tenant_a"`
	TenantB      string                 `json:"tenant_b"`
	Status       Status                 `json:"status"`
	ASig         string                 `json:"a_sig,omitempty"`
	BSig         string                 `json:"b_sig,omitempty"`
	Challenged   bool                   `json:"challenged,omitempty"`
}

func payloadHash(payload map[string]interface{}) (string, error) {
	return canon.HashValue(payload)
}

func eventHash(federationID string, at time.Time, purpose, payloadHash, tenantA, tenantB string) (string, error) {
	return canon.HashValue(map[string]interface{}{
		"federation_id": federationID,
		"at":            at.UTC().Format(time.RFC3339Nano),
		"purpose":       purpose,
		"payload_hash":  payloadHash,
		"tenant_a":      tenantA,
		"tenant_b":      tenantB,
	})
}

// CreateInput is what a caller supplies to propose a new federation event.
type CreateInput struct {
	FederationID string
	Purpose      string
	Payload      map[string]interface{}
	TenantA      string
	TenantB      string
	At           time.Time
	SigAlg       globalledger.SigAlg
	KeyID        string
	SignerASig   string
}

// Create appends the FEDERATION_EVENT_PROPOSED entry to tenant_a's lane.
func Create(store *globalledger.Store, tx kv.KV, policy globalledger.Policy, in CreateInput) (*globalledger.Entry, error) {
	pHash, err := payloadHash(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("federation: hash payload: %w", err)
	}
	eHash, err := eventHash(in.FederationID, in.At, in.Purpose, pHash, in.TenantA, in.TenantB)
	if err != nil {
		return nil, fmt.Errorf("federation: hash event: %w", err)
	}
	entry, err := store.Append(tx, policy, globalledger.AppendInput{
		TenantID: in.TenantA,
		Type:     EventProposed,
		At:       in.At,
		Payload: map[string]interface{}{
			"federation_id": in.FederationID,
			"purpose":       in.Purpose,
			"payload":       in.Payload,
			"payload_hash":  pHash,
			"event_hash":    eHash,
			"tenant_a":      in.TenantA,
			"tenant_b":      in.TenantB,
		},
		SigAlg: in.SigAlg,
		KeyID:  in.KeyID,
		Sig:    in.SignerASig,
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CosignInput is what a caller supplies to co-sign a proposed federation
// event. TenantA identifies the home lane the event was proposed into.
type CosignInput struct {
	FederationID string
	TenantA      string
	TenantB      string
	At           time.Time
	SigAlg       globalledger.SigAlg
	KeyID        string
	SignerBSig   string
}

// Cosign appends FEDERATION_EVENT_COSIGNED if the federation event is
// currently PROPOSED and tenant_b matches.
func Cosign(store *globalledger.Store, tx kv.KV, policy globalledger.Policy, in CosignInput) (*globalledger.Entry, error) {
	fe, err := Get(store, tx, in.TenantA, in.FederationID)
	if err != nil {
		return nil, err
	}
	if fe.Status == StatusDisputed {
		return nil, ErrDisputed
	}
	if fe.Status != StatusProposed {
		return nil, ErrNotProposed
	}
	if fe.TenantB != in.TenantB {
		return nil, ErrTenantBMismatch
	}

	entry, err := store.Append(tx, policy, globalledger.AppendInput{
		TenantID: in.TenantA,
		Type:     EventCoSigned,
		At:       in.At,
		Payload: map[string]interface{}{
			"federation_id": in.FederationID,
			"tenant_b":      in.TenantB,
			"payload_hash":  fe.PayloadHash,
		},
		SigAlg: in.SigAlg,
		KeyID:  in.KeyID,
		Sig:    in.SignerBSig,
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ChallengeInput is what a caller supplies to dispute a federation event.
type ChallengeInput struct {
	FederationID string
	TenantA      string
	ByTenant     string
	Reason       string
	At           time.Time
}

// Challenge appends FEDERATION_EVENT_CHALLENGED, moving the federation
// event to DISPUTED regardless of its current state (short of already
// being disputed).
func Challenge(store *globalledger.Store, tx kv.KV, policy globalledger.Policy, in ChallengeInput) (*globalledger.Entry, error) {
	fe, err := Get(store, tx, in.TenantA, in.FederationID)
	if err != nil {
		return nil, err
	}
	if fe.Status == StatusDisputed {
		return nil, ErrDisputed
	}

	entry, err := store.Append(tx, policy, globalledger.AppendInput{
		TenantID: in.TenantA,
		Type:     EventChallenged,
		At:       in.At,
		Payload: map[string]interface{}{
			"federation_id": in.FederationID,
			"by_tenant":     in.ByTenant,
			"reason":        in.Reason,
			"status":        string(StatusDisputed),
		},
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Get reconstructs the current state of federationID from tenantA's
// ledger lane by folding every entry whose payload.federation_id matches,
// in seq order, last-entry-wins.
func Get(store *globalledger.Store, tx kv.KV, tenantA, federationID string) (*Event, error) {
	entries, err := store.ListEntries(tx, tenantA)
	if err != nil {
		return nil, err
	}
	return foldEvent(entries, federationID)
}

func foldEvent(entries []*globalledger.Entry, federationID string) (*Event, error) {
	var fe *Event
	for _, e := range entries {
		fid, _ := e.Payload["federation_id"].(string)
		if fid != federationID {
			continue
		}
		switch e.Type {
		case EventProposed:
			purpose, _ := e.Payload["purpose"].(string)
			payloadHash, _ := e.Payload["payload_hash"].(string)
			tenantA, _ := e.Payload["tenant_a"].(string)
			tenantB, _ := e.Payload["tenant_b"].(string)
			payload, _ := e.Payload["payload"].(map[string]interface{})
			fe = &Event{
				FederationID: federationID,
				At:           e.At,
				Purpose:      purpose,
				Payload:      payload,
				PayloadHash:  payloadHash,
				TenantA:      tenantA,
				TenantB:      tenantB,
				Status:       StatusProposed,
				ASig:         e.Sig,
			}
		case EventCoSigned:
			if fe != nil {
				fe.Status = StatusCoSigned
				fe.BSig = e.Sig
			}
		case EventChallenged:
			if fe != nil {
				fe.Status = StatusDisputed
				fe.Challenged = true
			}
		}
	}
	if fe == nil {
		return nil, ErrNotFound
	}
	return fe, nil
}

// BundleKind is the required $kind marker on an exported proof bundle.
const BundleKind = "VERITASCALE_FEDERATION_PROOF_BUNDLE_V1"

var (
	ErrBundleKindInvalid = errors.New("federation: bundle kind is not " + BundleKind)
	ErrBundleEmpty       = errors.New("federation: bundle has no ledger entries")
	ErrChainBreak        = errors.New("federation: ledger entry chain is broken")
	ErrNoVerifier        = errors.New("federation: signed entry has no resolvable verifier")
	ErrBadSignature      = errors.New("federation: entry signature does not verify")
)

// ProofBundle is a self-contained, offline-verifiable slice of a tenant's
// global ledger lane spanning one federation event's entries. A third
// party needs only the bundle and a key resolver to verify it — no access
// to the originating store.
type ProofBundle struct {
	Kind          string                 `json:"kind"`
	FederationID  string                 `json:"federation_id"`
	FromSeq       uint64                 `json:"from_seq"`
	ToSeq         uint64                 `json:"to_seq"`
	LedgerEntries []*globalledger.Entry  `json:"ledger_entries"`
}

// ExportBundle slices entries (already in ascending seq order, as
// returned by Store.ListEntries) down to the contiguous range spanning the
// first to the last entry mentioning federationID. The range may include
// interleaved entries belonging to other federations in the same lane,
// because VerifyBundle's chain check walks prev_hash across the whole
// slice, not just the federation-specific rows.
func ExportBundle(federationID string, entries []*globalledger.Entry) (*ProofBundle, error) {
	firstIdx, lastIdx := -1, -1
	for i, e := range entries {
		fid, _ := e.Payload["federation_id"].(string)
		if fid != federationID {
			continue
		}
		if firstIdx == -1 {
			firstIdx = i
		}
		lastIdx = i
	}
	if firstIdx == -1 {
		return nil, ErrNotFound
	}
	slice := entries[firstIdx : lastIdx+1]
	return &ProofBundle{
		Kind:          BundleKind,
		FederationID:  federationID,
		FromSeq:       slice[0].Seq,
		ToSeq:         slice[len(slice)-1].Seq,
		LedgerEntries: slice,
	}, nil
}

// VerifyBundle checks bundle's chain linkage (recomputed hash + prev_hash
// per entry), verifies every signed entry's signature via resolver (a
// nil resolver or one with no key for a signed entry fails with
// ErrNoVerifier, never silently skipped), and reconstructs the
// federation's state by the same last-entry-wins fold Get uses.
// tenantID is the lane the bundle claims to be a slice of; every entry
// must carry that tenant_id.
func VerifyBundle(bundle *ProofBundle, tenantID string, resolver globalledger.Resolver) (*Event, error) {
	if bundle.Kind != BundleKind {
		return nil, ErrBundleKindInvalid
	}
	if len(bundle.LedgerEntries) == 0 {
		return nil, ErrBundleEmpty
	}

	var prevSeq uint64
	var prevHash *string
	for i, e := range bundle.LedgerEntries {
		if e.TenantID != tenantID {
			return nil, fmt.Errorf("federation: entry at index %d has tenant_id %q, expected %q: %w", i, e.TenantID, tenantID, ErrChainBreak)
		}
		if prevSeq != 0 && e.Seq != prevSeq+1 {
			return nil, fmt.Errorf("federation: entry seq %d is not contiguous after %d: %w", e.Seq, prevSeq, ErrChainBreak)
		}
		if recomputed, err := entryHash(e); err != nil {
			return nil, fmt.Errorf("federation: recompute hash for entry seq %d: %w", e.Seq, err)
		} else if recomputed != e.Hash {
			return nil, fmt.Errorf("federation: entry seq %d hash does not match recomputed hash: %w", e.Seq, ErrChainBreak)
		}
		if i > 0 && !equalPtr(prevHash, e.PrevHash) {
			return nil, fmt.Errorf("federation: entry seq %d prev_hash does not chain to prior entry: %w", e.Seq, ErrChainBreak)
		}
		prevSeq = e.Seq
		h := e.Hash
		prevHash = &h

		if e.SigAlg == globalledger.SigNone || e.Sig == "" {
			continue
		}
		if resolver == nil {
			return nil, ErrNoVerifier
		}
		verifier, ok := resolver(e.TenantID, e.SigAlg, e.KeyID)
		if !ok {
			return nil, ErrNoVerifier
		}
		message, err := e.Message()
		if err != nil {
			return nil, fmt.Errorf("federation: build message for entry seq %d: %w", e.Seq, err)
		}
		sig, err := hex.DecodeString(e.Sig)
		if err != nil {
			return nil, fmt.Errorf("federation: decode signature for entry seq %d: %w", e.Seq, err)
		}
		if !verifier.Verify(message, sig) {
			return nil, ErrBadSignature
		}
	}

	return foldEvent(bundle.LedgerEntries, bundle.FederationID)
}

// entryHash mirrors globalledger's own hash-input formula; exported
// entries no longer carry a handle back to the Store that could recompute
// it for them.
func entryHash(e *globalledger.Entry) (string, error) {
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

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
