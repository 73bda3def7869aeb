// Copyright 2025 Certen Protocol
package apply

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/kv"
)

// ErrNotFound is returned when no root/current decision has been persisted
// yet for a decision_id.
var ErrNotFound = errors.New("apply: decision not found")

var (
	prefixRoot    = []byte("decision:root:")    // + decision_id -> Decision JSON, as first created
	prefixCurrent = []byte("decision:current:") // + decision_id -> Decision JSON, latest materialized head
	prefixDAGEdge = []byte("dag:edge:")          // + from_decision_id + 0x00 + to_decision_id -> edge JSON
)

func rootKey(decisionID string) []byte {
	return append(append([]byte{}, prefixRoot...), decisionID...)
}

func currentKey(decisionID string) []byte {
	return append(append([]byte{}, prefixCurrent...), decisionID...)
}

func getDecision(tx kv.KV, key []byte) (*decision.Decision, error) {
	b, err := tx.Get(key)
	if err != nil {
		return nil, fmt.Errorf("apply: read decision: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	var d decision.Decision
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("apply: unmarshal decision: %w", err)
	}
	return &d, nil
}

func putDecision(tx kv.KV, key []byte, d *decision.Decision) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("apply: marshal decision: %w", err)
	}
	return tx.Set(key, raw)
}

// getRoot returns the decision_id's root decision, or ErrNotFound.
func getRoot(tx kv.KV, decisionID string) (*decision.Decision, error) {
	return getDecision(tx, rootKey(decisionID))
}

// getCurrent returns the decision_id's current materialized head, or
// ErrNotFound.
func getCurrent(tx kv.KV, decisionID string) (*decision.Decision, error) {
	return getDecision(tx, currentKey(decisionID))
}

// putCurrent upserts the current materialized head (spec's put_decision).
func putCurrent(tx kv.KV, d *decision.Decision) error {
	return putDecision(tx, currentKey(d.DecisionID), d)
}

// DAGEdge is one LINK_DECISIONS edge between two decisions.
type DAGEdge struct {
	FromDecisionID string `json:"from_decision_id"`
	ToDecisionID   string `json:"to_decision_id"`
	Relation       string `json:"relation,omitempty"`
	EventSeq       uint64 `json:"event_seq"`
}

func dagEdgeKey(from, to string) []byte {
	key := append([]byte{}, prefixDAGEdge...)
	key = append(key, from...)
	key = append(key, 0x00)
	return append(key, to...)
}

// putDAGEdge persists a LINK_DECISIONS edge, keyed by (from, to) so the
// same link is idempotent under replay.
func putDAGEdge(tx kv.KV, edge DAGEdge) error {
	raw, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("apply: marshal dag edge: %w", err)
	}
	return tx.Set(dagEdgeKey(edge.FromDecisionID, edge.ToDecisionID), raw)
}
