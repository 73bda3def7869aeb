// Copyright 2025 Certen Protocol
//
// Package statehash computes the two hashes the store relies on for
// tamper detection: the tamper hash (store-integrity, strips volatile and
// derived fields) and the public hash (portable identity, additionally
// strips private artifacts). Both are built on pkg/canon and follow a
// field allow/deny-list pattern: strip to a known-stable shape, then hash.
package statehash

import (
	"regexp"
	"strings"

	"github.com/certen/veritas-ledger/pkg/canon"
	"github.com/certen/veritas-ledger/pkg/decision"
)

const (
	kindTamper = "TAMPER_STATE_HASH_V1"
	kindPublic = "PUBLIC_STATE_HASH_V1"
)

// helperKeyPattern matches transient "patch/helper" meta keys left behind
// by incremental-update callers; these never affect substantive state.
var helperKeyPattern = regexp.MustCompile(`(?i)(^.*_patch$)|(^.*_helper$)|(^patch_.*$)|(^helper_.*$)`)

// transientMetaKeys lists additional specific transient keys removed before
// hashing, beyond the *_patch/*_helper family.
var transientMetaKeys = map[string]bool{
	"_dirty":       true,
	"_cache":       true,
	"_replay_only": true,
}

// amountAliases are the locations a caller may have written a denormalized
// amount field to. The strip step folds all of them into one canonical
// location so the hash never depends on which variant a writer used;
// artifacts.fields.amount is where callers should write going forward.
// The {"amount"} entry stands for meta.amount, which normalizeAmount
// reads directly rather than through this list.
var amountAliases = [][]string{
	{"amount"},
	{"artifacts", "amount"},
	{"artifacts", "extra", "amount"},
}

// Tamper computes the store-integrity hash of d: a deep copy with volatile,
// derived, and denormalized fields removed, hashed under the
// TAMPER_STATE_HASH_V1 envelope.
func Tamper(d *decision.Decision) (string, error) {
	stripped := stripForTamper(d)
	return canon.HashValue(map[string]interface{}{
		"kind":     kindTamper,
		"decision": stripped,
	})
}

// Public computes the portable-identity hash of d: the tamper strip plus
// removal of private/internal artifacts, hashed under the
// PUBLIC_STATE_HASH_V1 envelope. It is safe to share with external
// verifiers (federation counterparties, auditors) because it never
// reflects store-local derived state.
func Public(d *decision.Decision) (string, error) {
	stripped := stripForTamper(d)
	stripPrivateArtifacts(stripped)
	return canon.HashValue(map[string]interface{}{
		"kind":     kindPublic,
		"decision": stripped,
	})
}

// stripForTamper produces the generic-map representation of d with every
// volatile/derived field (state, version, timestamps, history,
// accountability, signatures, execution) removed.
func stripForTamper(d *decision.Decision) map[string]interface{} {
	clone := d.Clone()
	normalizeAmount(clone)

	m := map[string]interface{}{
		"decision_id": clone.DecisionID,
		"meta":        stripMetaHelperKeys(clone.Meta),
		"artifacts":   clone.Artifacts,
	}
	if clone.ParentDecisionID != "" {
		m["parent_decision_id"] = clone.ParentDecisionID
	}

	// Remove fields that are volatile/derived at the Decision level: state,
	// version, timestamps, history, accountability, signatures, execution.
	// Those simply never get copied into m above — this comment records the
	// intentional omission so a future reader does not "fix" it.

	if artifacts, ok := m["artifacts"].(map[string]interface{}); ok {
		delete(artifacts, "execution")
		delete(artifacts, "workflow")
		delete(artifacts, "workflow_status")
		delete(artifacts, "provenance")
		if extra, ok := artifacts["extra"].(map[string]interface{}); ok {
			for _, k := range []string{"execution", "workflow", "workflow_status", "liability_shield", "pls", "trust", "provenance"} {
				delete(extra, k)
			}
		}
	}

	return m
}

// normalizeAmount folds every known amount alias into artifacts.fields.amount
// and removes the aliases, so the tamper/public hash never depends on which
// variant a writer used.
func normalizeAmount(d *decision.Decision) {
	var found interface{}
	if d.Meta != nil {
		if v, ok := d.Meta["amount"]; ok {
			found = v
			delete(d.Meta, "amount")
		}
	}
	for _, path := range amountAliases {
		if path[0] != "artifacts" {
			continue
		}
		artifactsPath := path[1:]
		if v, ok := d.ArtifactsGet(artifactsPath...); ok {
			found = v
		}
		deleteArtifactsPath(d.Artifacts, artifactsPath)
	}
	if found == nil {
		return
	}
	if d.Artifacts == nil {
		d.Artifacts = map[string]interface{}{}
	}
	fields, ok := d.Artifacts["fields"].(map[string]interface{})
	if !ok {
		fields = map[string]interface{}{}
		d.Artifacts["fields"] = fields
	}
	if _, already := fields["amount"]; !already {
		fields["amount"] = found
	}
}

func deleteArtifactsPath(artifacts map[string]interface{}, path []string) {
	if len(path) == 0 || artifacts == nil {
		return
	}
	m := artifacts
	for i, seg := range path {
		if i == len(path)-1 {
			delete(m, seg)
			return
		}
		next, ok := m[seg].(map[string]interface{})
		if !ok {
			return
		}
		m = next
	}
}

func stripMetaHelperKeys(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return nil
	}
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		if transientMetaKeys[strings.ToLower(k)] || helperKeyPattern.MatchString(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// stripPrivateArtifacts removes artifacts.private, artifacts.internal, and
// artifacts.extra.private_internal_only in place.
func stripPrivateArtifacts(stripped map[string]interface{}) {
	artifacts, ok := stripped["artifacts"].(map[string]interface{})
	if !ok {
		return
	}
	delete(artifacts, "private")
	delete(artifacts, "internal")
	if extra, ok := artifacts["extra"].(map[string]interface{}); ok {
		delete(extra, "private_internal_only")
	}
}
