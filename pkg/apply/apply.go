// Copyright 2025 Certen Protocol
//
// Package apply implements apply_event, the single entry point tying the
// whole ledger together: root bootstrap, snapshot load+verify, delta
// replay, pre-apply receipt-chain verification, consequence preview,
// gates, idempotent append, re-replay, receipt/signature/ledger emission,
// and snapshot/anchor policy. Stage 1 (root bootstrap) commits in its own
// transaction; stages 2, 3 and 4 each read in a separate transaction;
// stages 5 and 6 run outside any transaction; stages 7 through 10 (append,
// re-replay, receipt/signature/shield and global-ledger writes) share one
// transaction; stage 11 (snapshot/anchor) runs in another. A BLOCK in
// stages 2-6 returns before anything past the root bootstrap is written,
// and a BLOCK inside stages 7-10 rolls back that transaction's writes. The
// reads of stages 3-6 and the writes of stages 7-10 are not one atomic
// unit, and a failure in stage 11 does not undo the committed event.
package apply

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/certen/veritas-ledger/pkg/anchorstore"
	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/eventstore"
	"github.com/certen/veritas-ledger/pkg/gate"
	"github.com/certen/veritas-ledger/pkg/globalledger"
	"github.com/certen/veritas-ledger/pkg/kv"
	"github.com/certen/veritas-ledger/pkg/metrics"
	"github.com/certen/veritas-ledger/pkg/provenance"
	"github.com/certen/veritas-ledger/pkg/receipt"
	"github.com/certen/veritas-ledger/pkg/replay"
	"github.com/certen/veritas-ledger/pkg/signer"
	"github.com/certen/veritas-ledger/pkg/snapshotstore"
	"github.com/certen/veritas-ledger/pkg/statehash"
)

// Violation mirrors gate.Violation/replay.Violation so callers get one
// uniform shape back from Apply regardless of which stage produced it.
type Violation struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

const (
	SeverityInfo  = "INFO"
	SeverityWarn  = "WARN"
	SeverityBlock = "BLOCK"
)

// SnapshotPolicy configures stage 11.
type SnapshotPolicy struct {
	EveryNEvents    uint64
	Anchor          bool
	RetainSnapshots int
}

// GlobalLedgerTarget configures which tenant lane and signature policy
// stage 10's DECISION_EVENT_APPENDED entry is emitted under.
type GlobalLedgerTarget struct {
	TenantID string
	Policy   globalledger.Policy
}

// Deps bundles every store and policy Apply needs. All fields are
// required except Signers (nil skips the cryptographic signer check),
// Metrics (nil records nothing), Now (defaults to the current UTC time),
// and RoleResolver and RiskScoreResolver, which default to returning no
// roles / zero risk.
type Deps struct {
	KV           kv.Transactional
	Events       *eventstore.Store
	Snapshots    *snapshotstore.Store
	Anchors      *anchorstore.Store
	Receipts     *receipt.Store
	GlobalLedger *globalledger.Store
	Signers      *signer.Directory

	GateConfig                    gate.Config
	SnapshotPolicy                SnapshotPolicy
	GlobalLedgerTarget            GlobalLedgerTarget
	RequireRiskLiabilitySignature bool
	BlockOnConsequenceBlock       bool
	Metrics                       *metrics.Registry

	Now               func() time.Time
	RoleResolver      func(actorID string) []string
	RiskScoreResolver func(head *decision.Decision, ev decision.Event) float64
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d Deps) roles(actorID string) []string {
	if d.RoleResolver != nil {
		return d.RoleResolver(actorID)
	}
	return nil
}

func (d Deps) riskScore(head *decision.Decision, ev decision.Event) float64 {
	if d.RiskScoreResolver != nil {
		return d.RiskScoreResolver(head, ev)
	}
	return 0
}

// Input is one apply_event call.
type Input struct {
	DecisionID     string
	Event          decision.Event
	IdempotencyKey *string
	MetaIfCreate   map[string]interface{}

	OriginZone         string
	EvidenceTrust      float64
	HasAttestation     bool
	IsCrossOrg         bool
	HasFederationProof bool
}

// Result is what Apply returns, win or lose: a last-known-good decision,
// the consequence preview, and any violations collected.
type Result struct {
	OK                 bool
	Decision           *decision.Decision
	Violations         []Violation
	ConsequencePreview gate.Preview
}

func blockResult(last *decision.Decision, preview gate.Preview, vs ...Violation) (*Result, error) {
	return &Result{OK: false, Decision: last, Violations: vs, ConsequencePreview: preview}, nil
}

func fromReplayViolations(vs []replay.Violation) []Violation {
	out := make([]Violation, 0, len(vs))
	for _, v := range vs {
		out = append(out, Violation{Severity: string(v.Severity), Code: v.Code, Message: v.Message})
	}
	return out
}

func fromGateViolations(vs []gate.Violation) []Violation {
	out := make([]Violation, 0, len(vs))
	for _, v := range vs {
		out = append(out, Violation{Severity: string(v.Severity), Code: v.Code, Message: v.Message})
	}
	return out
}

// signerViolationCode maps a pkg/signer sentinel error to the wire code
// spec'd for signer binding verification failures.
func signerViolationCode(err error) string {
	switch {
	case errors.Is(err, signer.ErrSignerIDRequired):
		return "SIGNER_ID_REQUIRED"
	case errors.Is(err, signer.ErrSignerStateHashRequired):
		return "SIGNER_STATE_HASH_REQUIRED"
	case errors.Is(err, signer.ErrSignerSignatureRequired):
		return "SIGNER_SIGNATURE_REQUIRED"
	case errors.Is(err, signer.ErrSignerUnknown):
		return "SIGNER_UNKNOWN"
	default:
		return "SIGNER_SIGNATURE_INVALID"
	}
}

// Apply runs apply_event and, when deps.Metrics is set, records the call's
// total outcome (ok/block) for pkg/metrics. The pipeline logic itself
// lives in applyPipeline; this wrapper keeps instrumentation out of every
// early-return branch below.
func Apply(deps Deps, in Input) (*Result, error) {
	start := deps.now()
	result, err := applyPipeline(deps, in)
	if deps.Metrics != nil {
		deps.Metrics.ObserveStage("apply_event", start)
		if err == nil {
			deps.Metrics.ObserveApply(result.OK)
			for _, v := range result.Violations {
				deps.Metrics.ObserveGateViolation(v.Severity, v.Code)
			}
		}
	}
	return result, err
}

func applyPipeline(deps Deps, in Input) (*Result, error) {
	// ---- Stage 1: root bootstrap ----
	var current *decision.Decision
	err := deps.KV.RunInTransaction(func(tx kv.KV) error {
		root, err := getRoot(tx, in.DecisionID)
		if errors.Is(err, ErrNotFound) {
			now := deps.now()
			root = &decision.Decision{
				DecisionID: in.DecisionID,
				State:      decision.StateDraft,
				Version:    0,
				CreatedAt:  now,
				UpdatedAt:  now,
				Meta:       in.MetaIfCreate,
			}
			if err := putDecision(tx, rootKey(in.DecisionID), root); err != nil {
				return err
			}
			if err := putCurrent(tx, root); err != nil {
				return err
			}
			current = root
			return nil
		}
		if err != nil {
			return err
		}
		cur, err := getCurrent(tx, in.DecisionID)
		if errors.Is(err, ErrNotFound) {
			cur = root
		} else if err != nil {
			return err
		}
		current = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply: root bootstrap: %w", err)
	}

	// ---- Stage 2: load snapshot, verify integrity ----
	var base *decision.Decision
	var baseSeq uint64
	err = deps.KV.RunInTransaction(func(tx kv.KV) error {
		snap, err := deps.Snapshots.GetLatestSnapshot(tx, in.DecisionID)
		if errors.Is(err, snapshotstore.ErrNotFound) {
			root, err := getRoot(tx, in.DecisionID)
			if err != nil {
				return err
			}
			base = root
			baseSeq = 0
			return nil
		}
		if err != nil {
			return err
		}
		if verr := snapshotstore.VerifyIntegrity(snap, nil, ""); verr != nil {
			return snapshotIntegrityError{code: "SNAPSHOT_INTEGRITY_FAILED", message: verr.Error()}
		}
		base = snap.Decision
		baseSeq = snap.UpToSeq
		return nil
	})
	if ie, ok := asSnapshotIntegrityError(err); ok {
		return blockResult(current, gate.Preview{}, Violation{Severity: SeverityBlock, Code: ie.code, Message: ie.message})
	}
	if err != nil {
		return nil, fmt.Errorf("apply: snapshot load: %w", err)
	}

	// ---- Stage 3: replay delta from snapshot/root to current head ----
	var head *decision.Decision
	var headSeq uint64
	err = deps.KV.RunInTransaction(func(tx kv.KV) error {
		records, err := deps.Events.ListEventsFrom(tx, in.DecisionID, baseSeq)
		if err != nil {
			return err
		}
		eventInputs := make([]replay.EventInput, 0, len(records))
		for _, r := range records {
			eventInputs = append(eventInputs, replay.EventInput{Seq: r.Seq, At: r.At, EventHash: r.Hash, Event: r.Event})
		}
		replayed, violations, err := replay.Replay(base, eventInputs, replay.Options{})
		if err != nil {
			return err
		}
		for _, v := range violations {
			if v.Severity == replay.SeverityBlock {
				return replayBlockError{violations: violations}
			}
		}
		head = replayed
		if len(records) > 0 {
			headSeq = records[len(records)-1].Seq
		} else {
			headSeq = baseSeq
		}
		return nil
	})
	if rbe, ok := asReplayBlockError(err); ok {
		return blockResult(current, gate.Preview{}, fromReplayViolations(rbe.violations)...)
	}
	if err != nil {
		return nil, fmt.Errorf("apply: replay delta: %w", err)
	}

	// ---- Stage 4: pre-apply verification against the receipt chain ----
	err = deps.KV.RunInTransaction(func(tx kv.KV) error {
		last, err := deps.Events.GetLastEvent(tx, in.DecisionID)
		if errors.Is(err, eventstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := deps.Receipts.GetReceipt(tx, in.DecisionID, last.Seq)
		if err != nil {
			return nil // no receipt yet for this head: nothing to verify against
		}
		publicHash, err := statehash.Public(head)
		if err != nil {
			return err
		}
		if publicHash != rec.PublicStateAfterHash {
			return snapshotIntegrityError{code: "DECISION_PUBLIC_HASH_MISMATCH", message: "current head's public hash does not match the latest receipt's public_state_after_hash"}
		}
		return nil
	})
	if ie, ok := asSnapshotIntegrityError(err); ok {
		return blockResult(current, gate.Preview{}, Violation{Severity: SeverityBlock, Code: ie.code, Message: ie.message})
	}
	if err != nil {
		return nil, fmt.Errorf("apply: pre-apply verification: %w", err)
	}

	// ---- Stage 5: consequence preview ----
	hasArtifacts := len(head.Artifacts) > 0
	riskScore := deps.riskScore(head, in.Event)
	now := deps.now()
	trial, _, terr := replay.Replay(head, []replay.EventInput{{Seq: headSeq + 1, At: now, Event: in.Event}}, replay.Options{})
	if terr != nil {
		return nil, fmt.Errorf("apply: trial replay for consequence preview: %w", terr)
	}
	predictedState := head.State
	if trial != nil {
		predictedState = trial.State
	}
	preview := gate.ConsequencePreview(gate.PreviewInput{
		Head:               head,
		Event:              in.Event,
		PredictedNextState: predictedState,
		RiskScore:          riskScore,
		HasArtifacts:       hasArtifacts,
	})
	if deps.BlockOnConsequenceBlock {
		for _, w := range preview.Warnings {
			if w.Severity == gate.SeverityBlock {
				return blockResult(current, preview, Violation{Severity: SeverityBlock, Code: "CONSEQUENCE_BLOCKED", Message: w.Message})
			}
		}
	}

	// ---- Stage 6: gates ----
	signerID, _ := in.Event.Meta["signer_id"].(string)
	signerStateHash, _ := in.Event.Meta["signer_state_hash"].(string)
	tamperBeforeHash, err := statehash.Tamper(head)
	if err != nil {
		return nil, fmt.Errorf("apply: compute tamper hash before event: %w", err)
	}
	ownerID, _ := in.Event.Fields["owner_id"].(string)
	approverID, _ := in.Event.Fields["approver_id"].(string)
	var lastLock time.Time
	if lockAt, ok := head.Meta["_lock_transition_time"].(string); ok {
		if parsed, perr := time.Parse(time.RFC3339Nano, lockAt); perr == nil {
			lastLock = parsed
		}
	}
	gateViolations := gate.Evaluate(deps.GateConfig, gate.EvalContext{
		Head:                   head,
		Event:                  in.Event,
		ActorRoles:             deps.roles(in.Event.ActorID),
		RiskScore:              riskScore,
		Now:                    now,
		LastLockTransitionTime: lastLock,
		TamperHashBeforeEvent:  tamperBeforeHash,
		SignerID:               signerID,
		SignerStateHash:        signerStateHash,
		OwnerID:                ownerID,
		ApproverID:             approverID,
		OriginZone:             in.OriginZone,
		EvidenceTrust:          in.EvidenceTrust,
		HasAttestation:         in.HasAttestation,
		IsCrossOrg:             in.IsCrossOrg,
		HasFederationProof:     in.HasFederationProof,
	})
	if gate.HasBlock(gateViolations) {
		return blockResult(current, preview, fromGateViolations(gateViolations)...)
	}

	// checkSignerBinding above only enforces the identity half (signer_id
	// == actor_id, signer_state_hash == tamper hash). Once that passes,
	// verify the cryptographic half: the signature bytes the event carries
	// under meta.signer_signature (hex-encoded) must verify against the
	// signer directory for the canonical SIGNER_BINDING_V1 payload. Only
	// runs when a directory is configured; deployments that don't wire one
	// get identity binding alone.
	var signerCryptoVerified bool
	if deps.Signers != nil && receipt.IsFinalizeEvent(in.Event.Type) {
		sigHex, _ := in.Event.Meta["signer_signature"].(string)
		sigBytes, decErr := hex.DecodeString(sigHex)
		var verifyErr error
		if decErr != nil || len(sigBytes) == 0 {
			verifyErr = signer.ErrSignerSignatureRequired
		} else {
			tenantID, _ := in.Event.Meta["tenant_id"].(string)
			if tenantID == "" {
				tenantID = deps.GlobalLedgerTarget.TenantID
			}
			originSystem, _ := in.Event.Meta["origin_system"].(string)
			channel, _ := in.Event.Meta["channel"].(string)
			verifyErr = signer.Verify(deps.Signers, signer.VerifyInput{
				Payload: signer.BindingPayload{
					DecisionID:      in.DecisionID,
					EventType:       string(in.Event.Type),
					SignerID:        signerID,
					SignerStateHash: signerStateHash,
					At:              now,
					TenantID:        tenantID,
					OriginZone:      in.OriginZone,
					OriginSystem:    originSystem,
					Channel:         channel,
				},
				Signature: sigBytes,
			})
		}
		if verifyErr != nil {
			return blockResult(current, preview, Violation{Severity: SeverityBlock, Code: signerViolationCode(verifyErr), Message: verifyErr.Error()})
		}
		signerCryptoVerified = true
	}

	// ---- Stages 7-10: idempotent append, re-replay, persist, emit ----
	var result *Result
	err = deps.KV.RunInTransaction(func(tx kv.KV) error {
		eventAt := now
		ev := in.Event
		if ev.Meta == nil {
			ev.Meta = map[string]interface{}{}
		}

		rec, appendErr := deps.Events.AppendEvent(tx, in.DecisionID, eventstore.Input{
			Event:          ev,
			IdempotencyKey: in.IdempotencyKey,
			At:             eventAt,
		})
		if appendErr == eventstore.ErrIdempotencyHit {
			cur, err := getCurrent(tx, in.DecisionID)
			if err != nil {
				return err
			}
			result = &Result{OK: true, Decision: cur, ConsequencePreview: preview}
			return nil
		}
		if appendErr != nil {
			return appendErr
		}

		records, err := deps.Events.ListEventsFrom(tx, in.DecisionID, headSeq)
		if err != nil {
			return err
		}
		eventInputs := make([]replay.EventInput, 0, len(records))
		for _, r := range records {
			eventInputs = append(eventInputs, replay.EventInput{Seq: r.Seq, At: r.At, EventHash: r.Hash, Event: r.Event})
		}
		applied, violations, err := replay.Replay(head, eventInputs, replay.Options{})
		if err != nil {
			return err
		}
		for _, v := range violations {
			if v.Severity == replay.SeverityBlock {
				return replayBlockError{violations: violations}
			}
		}
		if pvs, err := provenance.Verify(applied); err != nil {
			return err
		} else if len(pvs) > 0 {
			return snapshotIntegrityError{code: "PROVENANCE_TAMPERED", message: "provenance chain is inconsistent after applying this event"}
		}

		if in.Event.Type == decision.EventLinkDecisions {
			toID, _ := in.Event.Fields["to_decision_id"].(string)
			relation, _ := in.Event.Fields["relation"].(string)
			if toID != "" {
				if err := putDAGEdge(tx, DAGEdge{FromDecisionID: in.DecisionID, ToDecisionID: toID, Relation: relation, EventSeq: rec.Seq}); err != nil {
					return err
				}
			}
		}

		if err := putCurrent(tx, applied); err != nil {
			return err
		}

		publicBefore, err := statehash.Public(head)
		if err != nil {
			return err
		}
		publicAfter, err := statehash.Public(applied)
		if err != nil {
			return err
		}
		tamperAfter, err := statehash.Tamper(applied)
		if err != nil {
			return err
		}

		r, err := deps.Receipts.WriteReceipt(tx, receipt.Input{
			DecisionID:            in.DecisionID,
			EventSeq:              rec.Seq,
			EventType:             in.Event.Type,
			ActorID:               in.Event.ActorID,
			ActorType:             in.Event.ActorType,
			Before:                head,
			After:                 applied,
			StateBeforeHash:       tamperBeforeHash,
			StateAfterHash:        tamperAfter,
			PublicStateBeforeHash: publicBefore,
			PublicStateAfterHash:  publicAfter,
			At:                    eventAt,
		})
		if err != nil {
			return err
		}

		if receipt.IsFinalizeEvent(in.Event.Type) {
			if deps.RequireRiskLiabilitySignature && !signerCryptoVerified {
				return gateBlockError{code: "SIGNER_SIGNATURE_REQUIRED", message: "require_risk_liability_signature is set but this finalize event carries no signer signature verified against the signer directory"}
			}
			if _, err := deps.Receipts.WriteSignature(tx, receipt.SignatureInput{
				DecisionID:      in.DecisionID,
				EventSeq:        rec.Seq,
				ReceiptHash:     r.ReceiptHash,
				StateBeforeHash: tamperBeforeHash,
				StateAfterHash:  tamperAfter,
				Amount:          in.Event.Fields["amount"],
				Responsibility:  asMap(in.Event.Fields["responsibility"]),
				Approver:        asMap(in.Event.Fields["approver"]),
				Impact:          asMap(in.Event.Fields["impact"]),
				At:              eventAt,
			}); err != nil {
				return err
			}
		}

		if deps.GateConfig.RequireLiabilityShield && in.Event.Type == decision.EventApprove {
			if _, err := deps.Receipts.WriteShield(tx, receipt.ShieldInput{
				DecisionID:      in.DecisionID,
				EventSeq:        rec.Seq,
				EventType:       in.Event.Type,
				OwnerID:         ownerID,
				ApproverID:      approverID,
				SignerStateHash: signerStateHash,
				PayloadJSON:     in.Event.Fields,
				ReceiptHash:     r.ReceiptHash,
				At:              eventAt,
			}); err != nil {
				return err
			}
		}

		if _, err := deps.GlobalLedger.Append(tx, deps.GlobalLedgerTarget.Policy, globalledger.AppendInput{
			TenantID:   deps.GlobalLedgerTarget.TenantID,
			Type:       "DECISION_EVENT_APPENDED",
			At:         eventAt,
			DecisionID: in.DecisionID,
			Payload: map[string]interface{}{
				"event_seq":  rec.Seq,
				"event_type": in.Event.Type,
			},
		}); err != nil {
			return err
		} else if deps.Metrics != nil {
			deps.Metrics.ObserveLedgerAppend(deps.GlobalLedgerTarget.TenantID, "DECISION_EVENT_APPENDED")
		}

		result = &Result{OK: true, Decision: applied, ConsequencePreview: preview}
		return nil
	})
	if gbe, ok := asGateBlockError(err); ok {
		return blockResult(current, preview, Violation{Severity: SeverityBlock, Code: gbe.code, Message: gbe.message})
	}
	if ie, ok := asSnapshotIntegrityError(err); ok {
		return blockResult(current, preview, Violation{Severity: SeverityBlock, Code: ie.code, Message: ie.message})
	}
	if rbe, ok := asReplayBlockError(err); ok {
		return blockResult(current, preview, fromReplayViolations(rbe.violations)...)
	}
	if err != nil {
		return nil, fmt.Errorf("apply: append/replay/emit: %w", err)
	}
	if !result.OK {
		return result, nil
	}

	// ---- Stage 11: snapshot/anchor policy (own transaction) ----
	err = deps.KV.RunInTransaction(func(tx kv.KV) error {
		return applySnapshotPolicy(tx, deps, in.DecisionID, result.Decision)
	})
	if err != nil {
		return nil, fmt.Errorf("apply: snapshot policy: %w", err)
	}

	return result, nil
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

// applySnapshotPolicy implements stage 11: if enough events have
// accumulated since the last snapshot, build and persist a new one (and
// optionally an anchor), emitting the corresponding global ledger entries,
// then enforce retention.
func applySnapshotPolicy(tx kv.KV, deps Deps, decisionID string, current *decision.Decision) error {
	if deps.SnapshotPolicy.EveryNEvents == 0 {
		return nil
	}
	last, err := deps.Events.GetLastEvent(tx, decisionID)
	if errors.Is(err, eventstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	latestSnap, err := deps.Snapshots.GetLatestSnapshot(tx, decisionID)
	var lastSnapSeq uint64
	if err == nil {
		lastSnapSeq = latestSnap.UpToSeq
	} else if !errors.Is(err, snapshotstore.ErrNotFound) {
		return err
	}
	if last.Seq-lastSnapSeq < deps.SnapshotPolicy.EveryNEvents {
		return nil
	}

	records, err := deps.Events.ListEvents(tx, decisionID)
	if err != nil {
		return err
	}
	eventHashes := make([]string, 0, len(records))
	for _, r := range records {
		eventHashes = append(eventHashes, r.Hash)
	}
	checkpointHash := last.Hash
	snap, err := snapshotstore.Build(current, decisionID, last.Seq, checkpointHash, eventHashes, deps.now())
	if err != nil {
		return err
	}
	if err := deps.Snapshots.PutSnapshot(tx, snap); err != nil {
		return err
	}
	if _, err := deps.GlobalLedger.Append(tx, deps.GlobalLedgerTarget.Policy, globalledger.AppendInput{
		TenantID:   deps.GlobalLedgerTarget.TenantID,
		Type:       "SNAPSHOT_CREATED",
		At:         deps.now(),
		DecisionID: decisionID,
		Payload:    map[string]interface{}{"up_to_seq": snap.UpToSeq},
	}); err != nil {
		return err
	} else if deps.Metrics != nil {
		deps.Metrics.ObserveLedgerAppend(deps.GlobalLedgerTarget.TenantID, "SNAPSHOT_CREATED")
	}

	if deps.SnapshotPolicy.Anchor {
		if _, err := deps.Anchors.GetAnchorForSnapshot(tx, decisionID, snap.UpToSeq); errors.Is(err, anchorstore.ErrNotFound) {
			if _, err := deps.Anchors.Append(tx, anchorstore.AppendInput{
				DecisionID:      decisionID,
				SnapshotUpToSeq: snap.UpToSeq,
				CheckpointHash:  snap.CheckpointHash,
				RootHash:        snap.RootHash,
				StateHash:       snap.StateHash,
				At:              deps.now(),
			}); err != nil {
				return err
			}
			if _, err := deps.GlobalLedger.Append(tx, deps.GlobalLedgerTarget.Policy, globalledger.AppendInput{
				TenantID:   deps.GlobalLedgerTarget.TenantID,
				Type:       "ANCHOR_APPENDED",
				At:         deps.now(),
				DecisionID: decisionID,
				Payload:    map[string]interface{}{"up_to_seq": snap.UpToSeq},
			}); err != nil {
				return err
			} else if deps.Metrics != nil {
				deps.Metrics.ObserveLedgerAppend(deps.GlobalLedgerTarget.TenantID, "ANCHOR_APPENDED")
			}
		} else if err != nil {
			return err
		}
	}

	if deps.SnapshotPolicy.RetainSnapshots > 0 {
		if err := deps.Snapshots.PruneSnapshots(tx, decisionID, deps.SnapshotPolicy.RetainSnapshots); err != nil {
			return err
		}
	}
	return nil
}
