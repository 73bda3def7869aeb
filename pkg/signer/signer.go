// Copyright 2025 Certen Protocol
//
// Package signer verifies the cryptographic half of signer binding for
// finalize events: a signer directory resolves signer_id to a public key,
// and the signature over the canonical binding payload is checked with the
// algorithm that key belongs to. pkg/gate's checkSignerBinding covers the
// identity half (actor_id/tamper-hash equality) before this ever runs.
package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/certen/veritas-ledger/pkg/canon"
	"github.com/certen/veritas-ledger/pkg/crypto/bls"
)

// Algorithm names a supported signature scheme.
type Algorithm string

const (
	AlgorithmEd25519 Algorithm = "ed25519"
	AlgorithmRSA     Algorithm = "rsa"
	AlgorithmECDSA   Algorithm = "ecdsa"
	AlgorithmBLS     Algorithm = "bls12-381"
)

var (
	ErrSignerIDRequired        = errors.New("signer: SIGNER_ID_REQUIRED")
	ErrSignerStateHashRequired = errors.New("signer: SIGNER_STATE_HASH_REQUIRED")
	ErrSignerSignatureRequired = errors.New("signer: SIGNER_SIGNATURE_REQUIRED")
	ErrSignerUnknown           = errors.New("signer: SIGNER_UNKNOWN")
	ErrSignerSignatureInvalid  = errors.New("signer: SIGNER_SIGNATURE_INVALID")
)

// BindingPayload is the canonical struct hashed/signed for a finalize
// event's signer binding. Optional fields are carried as explicit JSON
// null via canon.Null when absent, matching the wire contract every
// signer must reconstruct identically to verify.
type BindingPayload struct {
	DecisionID      string
	EventType       string
	SignerID        string
	SignerStateHash string
	At              time.Time
	TenantID        string
	OriginZone      string
	OriginSystem    string
	Channel         string
}

func orNull(s string) interface{} {
	if s == "" {
		return canon.Null
	}
	return s
}

// CanonicalBytes returns the exact byte sequence a signer signs and a
// verifier re-derives: {kind:"SIGNER_BINDING_V1", decision_id, event_type,
// signer_id, signer_state_hash, at, tenant_id?, origin_zone?,
// origin_system?, channel?}.
func (p BindingPayload) CanonicalBytes() ([]byte, error) {
	return canon.CanonicalBytes(map[string]interface{}{
		"kind":              "SIGNER_BINDING_V1",
		"decision_id":       p.DecisionID,
		"event_type":        p.EventType,
		"signer_id":         p.SignerID,
		"signer_state_hash": p.SignerStateHash,
		"at":                p.At.UTC().Format(time.RFC3339Nano),
		"tenant_id":         orNull(p.TenantID),
		"origin_zone":       orNull(p.OriginZone),
		"origin_system":     orNull(p.OriginSystem),
		"channel":           orNull(p.Channel),
	})
}

// Key is one entry in the signer directory.
type Key struct {
	Algorithm Algorithm
	Ed25519   ed25519.PublicKey
	RSA       *rsa.PublicKey
	ECDSA     *ecdsa.PublicKey
	BLS       *bls.PublicKey
}

// RegisterBLS registers a BLS12-381 public key for signerID.
func (d *Directory) RegisterBLS(signerID string, key *bls.PublicKey) {
	d.Register(signerID, Key{Algorithm: AlgorithmBLS, BLS: key})
}

// Directory resolves signer_id -> public key.
type Directory struct {
	keys map[string]Key
}

// NewDirectory returns an empty signer directory.
func NewDirectory() *Directory {
	return &Directory{keys: make(map[string]Key)}
}

// Register adds or replaces the key for signerID.
func (d *Directory) Register(signerID string, key Key) {
	d.keys[signerID] = key
}

// RegisterEd25519PEM parses a PEM-encoded Ed25519 public key and registers
// it for signerID.
func (d *Directory) RegisterEd25519PEM(signerID, pemBlock string) error {
	pub, err := parsePublicKeyPEM(pemBlock)
	if err != nil {
		return err
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("signer: key for %q is not an Ed25519 public key", signerID)
	}
	d.Register(signerID, Key{Algorithm: AlgorithmEd25519, Ed25519: key})
	return nil
}

// RegisterRSAPEM parses a PEM-encoded RSA public key and registers it for
// signerID.
func (d *Directory) RegisterRSAPEM(signerID, pemBlock string) error {
	pub, err := parsePublicKeyPEM(pemBlock)
	if err != nil {
		return err
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("signer: key for %q is not an RSA public key", signerID)
	}
	d.Register(signerID, Key{Algorithm: AlgorithmRSA, RSA: key})
	return nil
}

// RegisterECDSAPEM parses a PEM-encoded ECDSA public key and registers it
// for signerID.
func (d *Directory) RegisterECDSAPEM(signerID, pemBlock string) error {
	pub, err := parsePublicKeyPEM(pemBlock)
	if err != nil {
		return err
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("signer: key for %q is not an ECDSA public key", signerID)
	}
	d.Register(signerID, Key{Algorithm: AlgorithmECDSA, ECDSA: key})
	return nil
}

func parsePublicKeyPEM(pemBlock string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemBlock))
	if block == nil {
		return nil, errors.New("signer: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signer: parse public key: %w", err)
	}
	return pub, nil
}

// Resolve returns the registered key for signerID, or ErrSignerUnknown.
func (d *Directory) Resolve(signerID string) (Key, error) {
	key, ok := d.keys[signerID]
	if !ok {
		return Key{}, ErrSignerUnknown
	}
	return key, nil
}

// VerifyInput is what Verify needs to check one finalize event's signer
// binding signature.
type VerifyInput struct {
	Payload   BindingPayload
	Signature []byte
}

// Verify resolves payload.SignerID in dir and checks signature against the
// canonical binding payload: Ed25519 verifies the raw signature over the
// canonical bytes; RSA/ECDSA verify over the SHA-256 digest of those
// bytes, per each scheme's usual convention.
func Verify(dir *Directory, in VerifyInput) error {
	if in.Payload.SignerID == "" {
		return ErrSignerIDRequired
	}
	if in.Payload.SignerStateHash == "" {
		return ErrSignerStateHashRequired
	}
	if len(in.Signature) == 0 {
		return ErrSignerSignatureRequired
	}

	key, err := dir.Resolve(in.Payload.SignerID)
	if err != nil {
		return err
	}

	payloadBytes, err := in.Payload.CanonicalBytes()
	if err != nil {
		return fmt.Errorf("signer: canonicalize binding payload: %w", err)
	}

	var valid bool
	switch key.Algorithm {
	case AlgorithmEd25519:
		valid = ed25519.Verify(key.Ed25519, payloadBytes, in.Signature)
	case AlgorithmRSA:
		digest := sha256.Sum256(payloadBytes)
		valid = rsa.VerifyPKCS1v15(key.RSA, crypto.SHA256, digest[:], in.Signature) == nil
	case AlgorithmECDSA:
		digest := sha256.Sum256(payloadBytes)
		valid = ecdsa.VerifyASN1(key.ECDSA, digest[:], in.Signature)
	case AlgorithmBLS:
		sig, sigErr := bls.SignatureFromBytes(in.Signature)
		if sigErr != nil {
			return fmt.Errorf("signer: parse BLS signature for %q: %w", in.Payload.SignerID, sigErr)
		}
		valid = key.BLS.VerifyWithDomain(sig, payloadBytes, bls.DomainSignerBinding)
	default:
		return fmt.Errorf("signer: unsupported algorithm %q for signer %q", key.Algorithm, in.Payload.SignerID)
	}
	if !valid {
		return ErrSignerSignatureInvalid
	}
	return nil
}
