// Copyright 2025 Certen Protocol
package federation

import (
	"testing"
	"time"

	"github.com/certen/veritas-ledger/pkg/globalledger"
	"github.com/certen/veritas-ledger/pkg/kv"
)

func newTestStore() (*globalledger.Store, kv.KV) {
	mem := kv.NewMemory()
	return globalledger.New(mem), mem
}

func TestCreateCosign_HappyPath(t *testing.T) {
	store, tx := newTestStore()
	policy := globalledger.Policy{}

	_, err := Create(store, tx, policy, CreateInput{
		FederationID: "F1",
		Purpose:      "CHARGEBACK",
		Payload:      map[string]interface{}{"amount": float64(199)},
		TenantA:      "tenant-a",
		TenantB:      "tenant-b",
		At:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		SignerASig:   "sig-a",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fe, err := Get(store, tx, "tenant-a", "F1")
	if err != nil {
		t.Fatalf("get after create: %v", err)
	}
	if fe.Status != StatusProposed {
		t.Fatalf("expected PROPOSED, got %s", fe.Status)
	}

	_, err = Cosign(store, tx, policy, CosignInput{
		FederationID: "F1",
		TenantA:      "tenant-a",
		TenantB:      "tenant-b",
		At:           time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
		SignerBSig:   "sig-b",
	})
	if err != nil {
		t.Fatalf("cosign: %v", err)
	}

	fe, err = Get(store, tx, "tenant-a", "F1")
	if err != nil {
		t.Fatalf("get after cosign: %v", err)
	}
	if fe.Status != StatusCoSigned {
		t.Fatalf("expected CO_SIGNED, got %s", fe.Status)
	}
}

func TestCosign_RejectsTenantBMismatch(t *testing.T) {
	store, tx := newTestStore()
	policy := globalledger.Policy{}

	if _, err := Create(store, tx, policy, CreateInput{
		FederationID: "F1", Purpose: "X", Payload: map[string]interface{}{},
		TenantA: "tenant-a", TenantB: "tenant-b", At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := Cosign(store, tx, policy, CosignInput{
		FederationID: "F1", TenantA: "tenant-a", TenantB: "tenant-c", At: time.Now().UTC(),
	})
	if err != ErrTenantBMismatch {
		t.Fatalf("expected ErrTenantBMismatch, got %v", err)
	}
}

func TestChallenge_BlocksFurtherCosign(t *testing.T) {
	store, tx := newTestStore()
	policy := globalledger.Policy{}

	if _, err := Create(store, tx, policy, CreateInput{
		FederationID: "F1", Purpose: "CHARGEBACK", Payload: map[string]interface{}{"amount": float64(199)},
		TenantA: "tenant-a", TenantB: "tenant-b", At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := Cosign(store, tx, policy, CosignInput{
		FederationID: "F1", TenantA: "tenant-a", TenantB: "tenant-b", At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("cosign: %v", err)
	}
	if _, err := Challenge(store, tx, policy, ChallengeInput{
		FederationID: "F1", TenantA: "tenant-a", ByTenant: "tenant-b", Reason: "fraud", At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("challenge: %v", err)
	}

	fe, err := Get(store, tx, "tenant-a", "F1")
	if err != nil {
		t.Fatalf("get after challenge: %v", err)
	}
	if fe.Status != StatusDisputed || !fe.Challenged {
		t.Fatalf("expected DISPUTED+challenged, got %+v", fe)
	}

	if _, err := Cosign(store, tx, policy, CosignInput{
		FederationID: "F1", TenantA: "tenant-a", TenantB: "tenant-b", At: time.Now().UTC(),
	}); err != ErrDisputed {
		t.Fatalf("expected ErrDisputed after challenge, got %v", err)
	}
}

func TestExportVerifyBundle_CleanSliceVerifies(t *testing.T) {
	store, tx := newTestStore()
	policy := globalledger.Policy{}

	if _, err := Create(store, tx, policy, CreateInput{
		FederationID: "F1", Purpose: "CHARGEBACK", Payload: map[string]interface{}{"amount": float64(199)},
		TenantA: "tenant-a", TenantB: "tenant-b", At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := Cosign(store, tx, policy, CosignInput{
		FederationID: "F1", TenantA: "tenant-a", TenantB: "tenant-b", At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("cosign: %v", err)
	}

	entries, err := store.ListEntries(tx, "tenant-a")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	bundle, err := ExportBundle("F1", entries)
	if err != nil {
		t.Fatalf("export bundle: %v", err)
	}
	if bundle.FromSeq != 1 || bundle.ToSeq != 2 {
		t.Fatalf("unexpected seq range: %d..%d", bundle.FromSeq, bundle.ToSeq)
	}

	fe, err := VerifyBundle(bundle, "tenant-a", nil)
	if err != nil {
		t.Fatalf("verify bundle: %v", err)
	}
	if fe.Status != StatusCoSigned {
		t.Fatalf("expected reconstructed CO_SIGNED, got %s", fe.Status)
	}
}

func TestVerifyBundle_DetectsTamper(t *testing.T) {
	store, tx := newTestStore()
	policy := globalledger.Policy{}

	if _, err := Create(store, tx, policy, CreateInput{
		FederationID: "F1", Purpose: "CHARGEBACK", Payload: map[string]interface{}{"amount": float64(199)},
		TenantA: "tenant-a", TenantB: "tenant-b", At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := Cosign(store, tx, policy, CosignInput{
		FederationID: "F1", TenantA: "tenant-a", TenantB: "tenant-b", At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("cosign: %v", err)
	}

	entries, err := store.ListEntries(tx, "tenant-a")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	bundle, err := ExportBundle("F1", entries)
	if err != nil {
		t.Fatalf("export bundle: %v", err)
	}
	bundle.LedgerEntries[0].Payload["amount"] = float64(1)

	if _, err := VerifyBundle(bundle, "tenant-a", nil); err == nil {
		t.Fatalf("expected tampered bundle to fail verification")
	}
}

func TestVerifyBundle_RejectsWrongKind(t *testing.T) {
	bundle := &ProofBundle{Kind: "SOMETHING_ELSE", LedgerEntries: []*globalledger.Entry{{}}}
	if _, err := VerifyBundle(bundle, "tenant-a", nil); err != ErrBundleKindInvalid {
		t.Fatalf("expected ErrBundleKindInvalid, got %v", err)
	}
}

func TestVerifyBundle_RejectsEmpty(t *testing.T) {
	bundle := &ProofBundle{Kind: BundleKind}
	if _, err := VerifyBundle(bundle, "tenant-a", nil); err != ErrBundleEmpty {
		t.Fatalf("expected ErrBundleEmpty, got %v", err)
	}
}

func TestVerifyBundle_RequiresVerifierForSignedEntries(t *testing.T) {
	store, tx := newTestStore()
	policy := globalledger.Policy{}
	if _, err := Create(store, tx, policy, CreateInput{
		FederationID: "F1", Purpose: "X", Payload: map[string]interface{}{},
		TenantA: "tenant-a", TenantB: "tenant-b", At: time.Now().UTC(),
		SigAlg: globalledger.SigEd25519, KeyID: "k1", SignerASig: "sig",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	entries, err := store.ListEntries(tx, "tenant-a")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	bundle, err := ExportBundle("F1", entries)
	if err != nil {
		t.Fatalf("export bundle: %v", err)
	}
	if _, err := VerifyBundle(bundle, "tenant-a", nil); err != ErrNoVerifier {
		t.Fatalf("expected ErrNoVerifier, got %v", err)
	}
}
