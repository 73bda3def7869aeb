// Copyright 2025 Certen Protocol
package federation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/certen/veritas-ledger/pkg/globalledger"
)

// BundleKind is the proof bundle's $schema-style kind discriminator.
const BundleKind = "VERITASCALE_FEDERATION_PROOF_BUNDLE_V1"

var (
	ErrBundleKindInvalid = errors.New("federation: BUNDLE_KIND_INVALID")
	ErrBundleEmpty       = errors.New("federation: BUNDLE_EMPTY")
	ErrChainBreak        = errors.New("federation: CHAIN_BREAK")
	ErrNoVerifier        = errors.New("federation: NO_VERIFIER")
	ErrBadSignature      = errors.New("federation: BAD_SIGNATURE")
)

// ProofBundle is a self-contained, offline-verifiable slice of a tenant's
// global ledger lane spanning one federation event's entries.
type ProofBundle struct {
	Kind          string                `json:"kind"`
	FederationID  string                `json:"federation_id"`
	FromSeq       uint64                `json:"from_seq"`
	ToSeq         uint64                `json:"to_seq"`
	LedgerEntries []*globalledger.Entry `json:"ledger_entries"`
}

// ExportBundle builds a proof bundle covering the contiguous seq range of
// a tenant's ledger lane from the first to the last entry that mentions
// federationID. allEntries is that tenant's full lane (e.g. from
// globalledger.Store.ListEntries). Interleaved entries unrelated to this
// federation are included too, since the chain-linkage check in
// VerifyBundle runs over the whole slice, not just the matching entries.
func ExportBundle(federationID string, allEntries []*globalledger.Entry) (*ProofBundle, error) {
	var fromSeq, toSeq uint64
	found := false
	for _, e := range allEntries {
		fid, _ := e.Payload["federation_id"].(string)
		if fid != federationID {
			continue
		}
		if !found {
			fromSeq = e.Seq
			found = true
		}
		toSeq = e.Seq
	}
	if !found {
		return nil, ErrNotFound
	}

	var slice []*globalledger.Entry
	for _, e := range allEntries {
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			slice = append(slice, e)
		}
	}
	sort.Slice(slice, func(i, j int) bool { return slice[i].Seq < slice[j].Seq })

	return &ProofBundle{
		Kind:          BundleKind,
		FederationID:  federationID,
		FromSeq:       fromSeq,
		ToSeq:         toSeq,
		LedgerEntries: slice,
	}, nil
}

// VerifyBundle checks a proof bundle offline: (1) the slice's chain links
// internally (recomputed hash matches, prev_hash chains seq to seq), (2)
// every signed entry's signature verifies via resolver, (3) the
// federation event's current state is reconstructed from the slice by
// last-entry-wins. tenantID identifies the lane the bundle was exported
// from, needed to resolve signer keys.
func VerifyBundle(bundle *ProofBundle, tenantID string, resolver globalledger.Resolver) (*Event, error) {
	if bundle == nil || bundle.Kind != BundleKind {
		return nil, ErrBundleKindInvalid
	}
	if len(bundle.LedgerEntries) == 0 {
		return nil, ErrBundleEmpty
	}

	entries := append([]*globalledger.Entry{}, bundle.LedgerEntries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	var prevHash *string
	for i, e := range entries {
		if i > 0 && entries[i-1].Seq+1 != e.Seq {
			return nil, fmt.Errorf("federation: %w: seq gap between %d and %d", ErrChainBreak, entries[i-1].Seq, e.Seq)
		}
		if !equalPtr(prevHash, e.PrevHash) {
			return nil, fmt.Errorf("federation: %w: prev_hash mismatch at seq %d", ErrChainBreak, e.Seq)
		}
		h := e.Hash
		prevHash = &h

		if e.SigAlg == globalledger.SigNone || e.Sig == "" {
			continue
		}
		if resolver == nil {
			return nil, ErrNoVerifier
		}
		verifier, ok := resolver(tenantID, e.SigAlg, e.KeyID)
		if !ok {
			return nil, ErrNoVerifier
		}
		message, err := e.Message()
		if err != nil {
			return nil, fmt.Errorf("federation: compute entry message: %w", err)
		}
		if !verifier.Verify(message, []byte(e.Sig)) {
			return nil, ErrBadSignature
		}
	}

	return foldEvent(entries, bundle.FederationID)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
