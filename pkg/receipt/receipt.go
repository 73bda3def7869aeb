// Copyright 2025 Certen Protocol
//
// Package receipt is the per-event attestation ledger: one LiabilityReceipt
// row per applied event (dual tamper/public state hash plus an obligations
// hash), a RiskLiabilitySignature row for finalize events, and a PLSShield
// row when an approval requires a liability shield. Every row that already
// exists for its key is a tamper check, not an overwrite: the newly
// recomputed hash must equal what's stored, or the row is BLOCK-tampered.
package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/veritas-ledger/pkg/canon"
	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/kv"
)

// ErrTampered is returned when a stored row's hash does not match the
// freshly recomputed one for the same key.
var ErrTampered = errors.New("receipt: stored row hash does not match recomputed hash")

// LiabilityReceipt is the per-event attestation row.
type LiabilityReceipt struct {
	DecisionID             string    `json:"decision_id"`
	EventSeq               uint64    `json:"event_seq"`
	ReceiptID              string    `json:"receipt_id"`
	Kind                    string    `json:"kind"`
	ReceiptHash            string    `json:"receipt_hash"`
	EventType              decision.EventType `json:"event_type"`
	ActorID                string    `json:"actor_id"`
	ActorType              decision.ActorType `json:"actor_type"`
	TrustScore             float64   `json:"trust_score"`
	TrustReason            string    `json:"trust_reason"`
	StateBeforeHash        string    `json:"state_before_hash"`
	StateAfterHash         string    `json:"state_after_hash"`
	PublicStateBeforeHash  string    `json:"public_state_before_hash"`
	PublicStateAfterHash   string    `json:"public_state_after_hash"`
	ObligationsHash        string    `json:"obligations_hash"`
	CreatedAt              time.Time `json:"created_at"`
}

const kindLiabilityReceipt = "LIABILITY_RECEIPT_V1"

func receiptHashInput(r *LiabilityReceipt) (string, error) {
	return canon.HashValue(map[string]interface{}{
		"decision_id":               r.DecisionID,
		"event_seq":                 r.EventSeq,
		"receipt_id":                r.ReceiptID,
		"kind":                      r.Kind,
		"event_type":                r.EventType,
		"actor_id":                  r.ActorID,
		"actor_type":                r.ActorType,
		"trust_score":               r.TrustScore,
		"trust_reason":              r.TrustReason,
		"state_before_hash":         r.StateBeforeHash,
		"state_after_hash":          r.StateAfterHash,
		"public_state_before_hash":  r.PublicStateBeforeHash,
		"public_state_after_hash":   r.PublicStateAfterHash,
		"obligations_hash":          r.ObligationsHash,
		"created_at":                r.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// ObligationsHash hashes the obligations/violations pair the receipt
// commits to, read straight out of decision.artifacts.execution.
func ObligationsHash(d *decision.Decision) (string, error) {
	obligations, _ := d.ArtifactsGet("execution", "obligations")
	violations, _ := d.ArtifactsGet("execution", "violations")
	if obligations == nil {
		obligations = []interface{}{}
	}
	if violations == nil {
		violations = []interface{}{}
	}
	return canon.HashValue(map[string]interface{}{
		"obligations": obligations,
		"violations":  violations,
	})
}

// TrustInput is what TrustScore needs to compute a score/reason pair.
type TrustInput struct {
	ActorType        decision.ActorType
	EventType        decision.EventType
	StateBeforeHash  string
	StateAfterHash   string
}

// TrustScore derives a [0,1] trust score and a human-readable reason from
// the actor type alone. The event type and the before/after state hashes
// in TrustInput do not affect the result; an unchanged state hash is not
// treated as an anomaly.
func TrustScore(in TrustInput) (float64, string) {
	switch in.ActorType {
	case decision.ActorHuman:
		return 1.0, "human actor, no anomaly detected"
	case decision.ActorService, decision.ActorSystem:
		return 0.85, "automated actor, no anomaly detected"
	case decision.ActorAgent:
		return 0.6, "agent actor, reduced trust by policy"
	default:
		return 0.5, "unrecognized actor_type"
	}
}

// Input is what the apply pipeline supplies when writing a receipt for one
// applied event.
type Input struct {
	DecisionID            string
	EventSeq              uint64
	EventType              decision.EventType
	ActorID                string
	ActorType              decision.ActorType
	Before                 *decision.Decision
	After                  *decision.Decision
	StateBeforeHash        string
	StateAfterHash         string
	PublicStateBeforeHash  string
	PublicStateAfterHash   string
	At                     time.Time
}

// ---- KV key layout ----

var (
	prefixReceipt = []byte("receipt:rec:") // + decision_id + 0x00 + event_seq(BE8) -> LiabilityReceipt JSON
	prefixSig     = []byte("receipt:sig:") // + decision_id + 0x00 + event_seq(BE8) -> RiskLiabilitySignature JSON
	prefixShield  = []byte("receipt:pls:") // + decision_id + 0x00 + event_seq(BE8) -> PLSShield JSON
)

func receiptKey(decisionID string, seq uint64) []byte {
	return seqKey(prefixReceipt, decisionID, seq)
}

func sigKey(decisionID string, seq uint64) []byte {
	return seqKey(prefixSig, decisionID, seq)
}

func shieldKey(decisionID string, seq uint64) []byte {
	return seqKey(prefixShield, decisionID, seq)
}

func seqKey(prefix []byte, decisionID string, seq uint64) []byte {
	key := append([]byte{}, prefix...)
	key = append(key, decisionID...)
	key = append(key, 0x00)
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(seq)
		seq >>= 8
	}
	return append(key, b...)
}

// Store is the receipt/signature/PLS-shield ledger, backed by a KV.
type Store struct {
	kv kv.KV
}

// New wraps store as a receipt store.
func New(store kv.KV) *Store {
	return &Store{kv: store}
}

// WriteReceipt computes and persists the LiabilityReceipt for in. If a
// receipt already exists for (in.DecisionID, in.EventSeq), the stored
// receipt_hash MUST equal the recomputed one; a mismatch is ErrTampered.
func (s *Store) WriteReceipt(tx kv.KV, in Input) (*LiabilityReceipt, error) {
	if tx == nil {
		tx = s.kv
	}

	obligationsHash, err := ObligationsHash(in.After)
	if err != nil {
		return nil, fmt.Errorf("receipt: compute obligations_hash: %w", err)
	}
	trustScore, trustReason := TrustScore(TrustInput{
		ActorType:       in.ActorType,
		EventType:       in.EventType,
		StateBeforeHash: in.StateBeforeHash,
		StateAfterHash:  in.StateAfterHash,
	})

	existing, err := s.GetReceipt(tx, in.DecisionID, in.EventSeq)
	receiptID := uuid.NewString()
	if err == nil {
		receiptID = existing.ReceiptID
	} else if !errors.Is(err, errReceiptNotFound) {
		return nil, err
	}

	r := &LiabilityReceipt{
		DecisionID:            in.DecisionID,
		EventSeq:              in.EventSeq,
		ReceiptID:             receiptID,
		Kind:                  kindLiabilityReceipt,
		EventType:             in.EventType,
		ActorID:               in.ActorID,
		ActorType:             in.ActorType,
		TrustScore:            trustScore,
		TrustReason:           trustReason,
		StateBeforeHash:       in.StateBeforeHash,
		StateAfterHash:        in.StateAfterHash,
		PublicStateBeforeHash: in.PublicStateBeforeHash,
		PublicStateAfterHash:  in.PublicStateAfterHash,
		ObligationsHash:       obligationsHash,
		CreatedAt:             in.At,
	}
	if existing != nil {
		r.CreatedAt = existing.CreatedAt
	}
	hash, err := receiptHashInput(r)
	if err != nil {
		return nil, fmt.Errorf("receipt: compute receipt_hash: %w", err)
	}
	r.ReceiptHash = hash

	if existing != nil && existing.ReceiptHash != r.ReceiptHash {
		return nil, fmt.Errorf("receipt: decision %s seq %d: %w", in.DecisionID, in.EventSeq, ErrTampered)
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("receipt: marshal: %w", err)
	}
	if err := tx.Set(receiptKey(in.DecisionID, in.EventSeq), raw); err != nil {
		return nil, fmt.Errorf("receipt: write: %w", err)
	}
	return r, nil
}

var errReceiptNotFound = errors.New("receipt: not found")

// GetReceipt returns the receipt for (decisionID, seq), or errReceiptNotFound.
func (s *Store) GetReceipt(tx kv.KV, decisionID string, seq uint64) (*LiabilityReceipt, error) {
	if tx == nil {
		tx = s.kv
	}
	b, err := tx.Get(receiptKey(decisionID, seq))
	if err != nil {
		return nil, fmt.Errorf("receipt: read: %w", err)
	}
	if len(b) == 0 {
		return nil, errReceiptNotFound
	}
	var r LiabilityReceipt
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("receipt: unmarshal: %w", err)
	}
	return &r, nil
}

// ListReceipts returns every receipt for decisionID in ascending event_seq
// order.
func (s *Store) ListReceipts(tx kv.KV, decisionID string) ([]*LiabilityReceipt, error) {
	if tx == nil {
		tx = s.kv
	}
	prefix := append(append([]byte{}, prefixReceipt...), append([]byte(decisionID), 0x00)...)
	var out []*LiabilityReceipt
	var iterErr error
	err := tx.Iterate(prefix, func(key, value []byte) bool {
		var r LiabilityReceipt
		if err := json.Unmarshal(value, &r); err != nil {
			iterErr = err
			return false
		}
		out = append(out, &r)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("receipt: scan: %w", err)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}
