// Copyright 2025 Certen Protocol
package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/certen/veritas-ledger/pkg/canon"
	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/kv"
)

// finalizeEvents are the event types that require a RiskLiabilitySignature
// row; REJECT included for symmetry even though it carries no positive
// liability — the signature then simply documents who rejected what.
var finalizeEvents = map[decision.EventType]bool{
	decision.EventApprove: true,
	decision.EventReject:  true,
	decision.EventPublish: true,
}

// IsFinalizeEvent reports whether et requires a RiskLiabilitySignature row.
func IsFinalizeEvent(et decision.EventType) bool {
	return finalizeEvents[et]
}

// RiskLiabilitySignature is the per-finalize-event signature row.
type RiskLiabilitySignature struct {
	DecisionID     string                 `json:"decision_id"`
	EventSeq       uint64                 `json:"event_seq"`
	ReceiptHash    string                 `json:"receipt_hash"`
	StateBeforeHash string                `json:"state_before_hash"`
	StateAfterHash  string                `json:"state_after_hash"`
	Amount         interface{}            `json:"amount"`
	Responsibility map[string]interface{} `json:"responsibility"`
	Approver       map[string]interface{} `json:"approver"`
	Impact         map[string]interface{} `json:"impact"`
	SignatureHash  string                 `json:"signature_hash"`
	CreatedAt      time.Time              `json:"created_at"`
}

func signatureHashInput(s *RiskLiabilitySignature) (string, error) {
	amount := s.Amount
	if amount == nil {
		amount = canon.Null
	}
	return canon.HashValue(map[string]interface{}{
		"decision_id":       s.DecisionID,
		"event_seq":         s.EventSeq,
		"receipt_hash":      s.ReceiptHash,
		"state_before_hash": s.StateBeforeHash,
		"state_after_hash":  s.StateAfterHash,
		"amount":            amount,
		"responsibility":    nullableMap(s.Responsibility),
		"approver":          nullableMap(s.Approver),
		"impact":            nullableMap(s.Impact),
		"created_at":        s.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func nullableMap(m map[string]interface{}) interface{} {
	if m == nil {
		return canon.Null
	}
	return m
}

// SignatureInput is what the apply pipeline supplies when writing a
// RiskLiabilitySignature for a finalize event.
type SignatureInput struct {
	DecisionID      string
	EventSeq        uint64
	ReceiptHash     string
	StateBeforeHash string
	StateAfterHash  string
	Amount          interface{}
	Responsibility  map[string]interface{}
	Approver        map[string]interface{}
	Impact          map[string]interface{}
	At              time.Time
}

// WriteSignature computes and persists a RiskLiabilitySignature. If a row
// already exists for (in.DecisionID, in.EventSeq), the recomputed hash MUST
// match the stored one, or ErrTampered.
func (s *Store) WriteSignature(tx kv.KV, in SignatureInput) (*RiskLiabilitySignature, error) {
	if tx == nil {
		tx = s.kv
	}
	existing, err := s.GetSignature(tx, in.DecisionID, in.EventSeq)
	createdAt := in.At
	if err == nil {
		createdAt = existing.CreatedAt
	} else if !errors.Is(err, errSignatureNotFound) {
		return nil, err
	}

	row := &RiskLiabilitySignature{
		DecisionID:      in.DecisionID,
		EventSeq:        in.EventSeq,
		ReceiptHash:     in.ReceiptHash,
		StateBeforeHash: in.StateBeforeHash,
		StateAfterHash:  in.StateAfterHash,
		Amount:          in.Amount,
		Responsibility:  in.Responsibility,
		Approver:        in.Approver,
		Impact:          in.Impact,
		CreatedAt:       createdAt,
	}
	hash, err := signatureHashInput(row)
	if err != nil {
		return nil, fmt.Errorf("receipt: compute signature_hash: %w", err)
	}
	row.SignatureHash = hash

	if existing != nil && existing.SignatureHash != row.SignatureHash {
		return nil, fmt.Errorf("receipt: signature decision %s seq %d: %w", in.DecisionID, in.EventSeq, ErrTampered)
	}

	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("receipt: marshal signature: %w", err)
	}
	if err := tx.Set(sigKey(in.DecisionID, in.EventSeq), raw); err != nil {
		return nil, fmt.Errorf("receipt: write signature: %w", err)
	}
	return row, nil
}

var errSignatureNotFound = errors.New("receipt: signature not found")

// GetSignature returns the RiskLiabilitySignature for (decisionID, seq), or
// errSignatureNotFound.
func (s *Store) GetSignature(tx kv.KV, decisionID string, seq uint64) (*RiskLiabilitySignature, error) {
	if tx == nil {
		tx = s.kv
	}
	b, err := tx.Get(sigKey(decisionID, seq))
	if err != nil {
		return nil, fmt.Errorf("receipt: read signature: %w", err)
	}
	if len(b) == 0 {
		return nil, errSignatureNotFound
	}
	var row RiskLiabilitySignature
	if err := json.Unmarshal(b, &row); err != nil {
		return nil, fmt.Errorf("receipt: unmarshal signature: %w", err)
	}
	return &row, nil
}

// PLSShield is the liability-shield row written for an approval event when
// a liability shield is required.
type PLSShield struct {
	DecisionID      string                 `json:"decision_id"`
	EventSeq        uint64                 `json:"event_seq"`
	EventType       decision.EventType     `json:"event_type"`
	OwnerID         string                 `json:"owner_id"`
	ApproverID      string                 `json:"approver_id"`
	SignerStateHash string                 `json:"signer_state_hash"`
	PayloadJSON     map[string]interface{} `json:"payload_json"`
	ReceiptHash     string                 `json:"receipt_hash"`
	ShieldHash      string                 `json:"shield_hash"`
	CreatedAt       time.Time              `json:"created_at"`
}

func shieldHashInput(p *PLSShield) (string, error) {
	payload := interface{}(canon.Null)
	if p.PayloadJSON != nil {
		payload = p.PayloadJSON
	}
	return canon.HashValue(map[string]interface{}{
		"decision_id":       p.DecisionID,
		"event_seq":         p.EventSeq,
		"event_type":        p.EventType,
		"owner_id":          p.OwnerID,
		"approver_id":       p.ApproverID,
		"signer_state_hash": p.SignerStateHash,
		"payload_json":      payload,
		"receipt_hash":      p.ReceiptHash,
		"created_at":        p.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// ShieldInput is what the apply pipeline supplies when writing a PLSShield
// row for an approval requiring a liability shield.
type ShieldInput struct {
	DecisionID      string
	EventSeq        uint64
	EventType       decision.EventType
	OwnerID         string
	ApproverID      string
	SignerStateHash string
	PayloadJSON     map[string]interface{}
	ReceiptHash     string
	At              time.Time
}

// WriteShield computes and persists a PLSShield row. If one already exists
// for (in.DecisionID, in.EventSeq), the recomputed shield_hash MUST match
// the stored one, or ErrTampered.
func (s *Store) WriteShield(tx kv.KV, in ShieldInput) (*PLSShield, error) {
	if tx == nil {
		tx = s.kv
	}
	existing, err := s.GetShield(tx, in.DecisionID, in.EventSeq)
	createdAt := in.At
	if err == nil {
		createdAt = existing.CreatedAt
	} else if !errors.Is(err, errShieldNotFound) {
		return nil, err
	}

	p := &PLSShield{
		DecisionID:      in.DecisionID,
		EventSeq:        in.EventSeq,
		EventType:       in.EventType,
		OwnerID:         in.OwnerID,
		ApproverID:      in.ApproverID,
		SignerStateHash: in.SignerStateHash,
		PayloadJSON:     in.PayloadJSON,
		ReceiptHash:     in.ReceiptHash,
		CreatedAt:       createdAt,
	}
	hash, err := shieldHashInput(p)
	if err != nil {
		return nil, fmt.Errorf("receipt: compute shield_hash: %w", err)
	}
	p.ShieldHash = hash

	if existing != nil && existing.ShieldHash != p.ShieldHash {
		return nil, fmt.Errorf("receipt: shield decision %s seq %d: %w", in.DecisionID, in.EventSeq, ErrTampered)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("receipt: marshal shield: %w", err)
	}
	if err := tx.Set(shieldKey(in.DecisionID, in.EventSeq), raw); err != nil {
		return nil, fmt.Errorf("receipt: write shield: %w", err)
	}
	return p, nil
}

var errShieldNotFound = errors.New("receipt: shield not found")

// GetShield returns the PLSShield for (decisionID, seq), or errShieldNotFound.
func (s *Store) GetShield(tx kv.KV, decisionID string, seq uint64) (*PLSShield, error) {
	if tx == nil {
		tx = s.kv
	}
	b, err := tx.Get(shieldKey(decisionID, seq))
	if err != nil {
		return nil, fmt.Errorf("receipt: read shield: %w", err)
	}
	if len(b) == 0 {
		return nil, errShieldNotFound
	}
	var p PLSShield
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("receipt: unmarshal shield: %w", err)
	}
	return &p, nil
}
