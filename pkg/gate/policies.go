// Copyright 2025 Certen Protocol
package gate

import (
	"fmt"

	"github.com/certen/veritas-ledger/pkg/decision"
)

// checkImmutabilityWindow BLOCKs an event against a decision sitting in a
// locked state once the window has elapsed, unless the event type is on
// the allow-list (the evidence/remediation set). A zero or unparseable
// LastLockTransitionTime fails closed — treated as "the window has
// already elapsed" rather than "never started".
func checkImmutabilityWindow(cfg ImmutabilityConfig, ctx EvalContext) []Violation {
	if !cfg.Enabled || ctx.Head == nil {
		return nil
	}
	if !cfg.isLocked(ctx.Head.State) {
		return nil
	}
	if cfg.AllowEventTypes[ctx.Event.Type] {
		return nil
	}
	if ctx.LastLockTransitionTime.IsZero() {
		return []Violation{{
			Severity: SeverityBlock,
			Code:     "IMMUTABLE_WINDOW_LOCKED",
			Message:  fmt.Sprintf("decision is in locked state %s with no recorded lock transition time; failing closed", ctx.Head.State),
		}}
	}
	elapsed := ctx.Now.Sub(ctx.LastLockTransitionTime).Seconds()
	if elapsed >= float64(cfg.LockAfterSeconds) {
		return []Violation{{
			Severity: SeverityBlock,
			Code:     "IMMUTABLE_WINDOW_LOCKED",
			Message:  fmt.Sprintf("decision has been in locked state %s for %.0fs, past the %ds immutability window", ctx.Head.State, elapsed, cfg.LockAfterSeconds),
		}}
	}
	return nil
}

func hasAnyRole(roles []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(roles))
	for _, r := range roles {
		have[r] = true
	}
	for _, req := range required {
		if have[req] {
			return true
		}
	}
	return false
}

// checkApprovalGate enforces the approve/reject-specific preconditions:
// state must be SIMULATED (configurable), artifacts must be present
// (configurable), the actor must carry a required role, and a high risk
// score requires an elevated role on top of that.
func checkApprovalGate(cfg ApprovalConfig, ctx EvalContext) []Violation {
	var out []Violation
	switch ctx.Event.Type {
	case decision.EventApprove:
		if cfg.RequireSimulatedState && (ctx.Head == nil || ctx.Head.State != decision.StateSimulated) {
			out = append(out, Violation{Severity: SeverityBlock, Code: "GATE_APPROVE_REQUIRES_SIMULATION", Message: "APPROVE requires the decision to be in SIMULATED state"})
		}
		if cfg.RequireArtifacts {
			if ctx.Head == nil || len(ctx.Head.Artifacts) == 0 {
				out = append(out, Violation{Severity: SeverityBlock, Code: "GATE_APPROVE_REQUIRES_ARTIFACTS", Message: "APPROVE requires artifacts to be attached"})
			}
		}
		if !hasAnyRole(ctx.ActorRoles, cfg.ApproveRoles) {
			out = append(out, Violation{Severity: SeverityBlock, Code: "GATE_APPROVE_REQUIRES_ROLE", Message: "actor lacks a role required to APPROVE"})
		}
		if ctx.RiskScore >= cfg.RiskThreshold && cfg.ElevatedRole != "" {
			if !hasAnyRole(ctx.ActorRoles, []string{cfg.ElevatedRole}) {
				out = append(out, Violation{Severity: SeverityBlock, Code: "GATE_HIGH_RISK_REQUIRES_ROLE", Message: fmt.Sprintf("risk_score %.2f requires elevated role %q", ctx.RiskScore, cfg.ElevatedRole)})
			}
		}
	case decision.EventReject:
		if !hasAnyRole(ctx.ActorRoles, cfg.RejectRoles) {
			out = append(out, Violation{Severity: SeverityBlock, Code: "GATE_REJECT_REQUIRES_ROLE", Message: "actor lacks a role required to REJECT"})
		}
	}
	return out
}

// checkSignerBinding enforces the identity-binding half of signer binding
// for finalize events: meta.signer_id must equal the acting actor, and
// meta.signer_state_hash must equal the tamper hash of the head decision
// before this event. The cryptographic signature check lives in
// pkg/signer, run separately by the apply pipeline once identity binding
// passes.
func checkSignerBinding(ctx EvalContext) []Violation {
	if !finalizeEventTypes[ctx.Event.Type] {
		return nil
	}
	var out []Violation
	if ctx.SignerID == "" {
		out = append(out, Violation{Severity: SeverityBlock, Code: "SIGNER_ID_REQUIRED", Message: "finalize event is missing meta.signer_id"})
	} else if ctx.SignerID != ctx.Event.ActorID {
		out = append(out, Violation{Severity: SeverityBlock, Code: "SIGNER_ACTOR_MISMATCH", Message: "meta.signer_id does not match the acting actor_id"})
	}
	if ctx.SignerStateHash == "" {
		out = append(out, Violation{Severity: SeverityBlock, Code: "SIGNER_STATE_HASH_REQUIRED", Message: "finalize event is missing meta.signer_state_hash"})
	} else if ctx.SignerStateHash != ctx.TamperHashBeforeEvent {
		out = append(out, Violation{Severity: SeverityBlock, Code: "SIGNER_STATE_HASH_MISMATCH", Message: "meta.signer_state_hash does not match the tamper hash of the decision before this event"})
	}
	return out
}

// checkLiabilityShield enforces the PLS preconditions for approval events
// when cfg.RequireLiabilityShield is set: a responsibility owner, an
// approver matching the acting actor, and a signer_state_hash matching
// the current tamper hash.
func checkLiabilityShield(cfg Config, ctx EvalContext) []Violation {
	if !cfg.RequireLiabilityShield || ctx.Event.Type != decision.EventApprove {
		return nil
	}
	var out []Violation
	if ctx.OwnerID == "" {
		out = append(out, Violation{Severity: SeverityBlock, Code: "PLS_OWNER_REQUIRED", Message: "liability shield requires responsibility.owner_id"})
	}
	if ctx.ApproverID == "" || ctx.ApproverID != ctx.Event.ActorID {
		out = append(out, Violation{Severity: SeverityBlock, Code: "PLS_APPROVER_MISMATCH", Message: "approver.approver_id must equal the acting actor_id"})
	}
	if ctx.SignerStateHash != ctx.TamperHashBeforeEvent {
		out = append(out, Violation{Severity: SeverityBlock, Code: "PLS_SIGNER_STATE_HASH_MISMATCH", Message: "signer_state_hash does not match the current tamper hash"})
	}
	return out
}

// checkTrustBoundary enforces origin-zone allow/deny lists, evidence trust
// minimums, attestation requirements, federation-proof requirements for
// cross-org events, and the absolute rule that an agent actor can never
// finalize a decision.
func checkTrustBoundary(cfg TrustBoundaryConfig, ctx EvalContext) []Violation {
	var out []Violation

	if ctx.Event.ActorType == decision.ActorAgent && finalizeEventTypes[ctx.Event.Type] {
		out = append(out, Violation{Severity: SeverityBlock, Code: "TB_AGENT_CANNOT_FINALIZE", Message: "actor_type=agent can never perform APPROVE, REJECT, or PUBLISH"})
	}

	if allowed, ok := cfg.AllowedOriginZones[ctx.Event.Type]; ok && len(allowed) > 0 {
		if !containsString(allowed, ctx.OriginZone) {
			out = append(out, Violation{Severity: SeverityBlock, Code: "TB_ORIGIN_ZONE_NOT_ALLOWED", Message: fmt.Sprintf("origin zone %q is not in the allow-list for %s", ctx.OriginZone, ctx.Event.Type)})
		}
	}
	if denied, ok := cfg.DeniedOriginZones[ctx.Event.Type]; ok && containsString(denied, ctx.OriginZone) {
		out = append(out, Violation{Severity: SeverityBlock, Code: "TB_ORIGIN_ZONE_DENIED", Message: fmt.Sprintf("origin zone %q is explicitly denied for %s", ctx.OriginZone, ctx.Event.Type)})
	}
	if cfg.MinEvidenceTrust > 0 && ctx.EvidenceTrust < cfg.MinEvidenceTrust {
		out = append(out, Violation{Severity: SeverityBlock, Code: "TB_EVIDENCE_TRUST_TOO_LOW", Message: fmt.Sprintf("evidence trust %.2f is below the required minimum %.2f", ctx.EvidenceTrust, cfg.MinEvidenceTrust)})
	}
	if cfg.RequireAttestation[ctx.Event.Type] && !ctx.HasAttestation {
		out = append(out, Violation{Severity: SeverityBlock, Code: "TB_ATTESTATION_REQUIRED", Message: fmt.Sprintf("%s requires an attestation", ctx.Event.Type)})
	}
	if cfg.RequireFederationProof && ctx.IsCrossOrg && !ctx.HasFederationProof {
		out = append(out, Violation{Severity: SeverityBlock, Code: "TB_FEDERATION_PROOF_REQUIRED", Message: "cross-org event requires a federation proof"})
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// checkRBAC enforces role requirements for privileged events: system
// actors bypass, agent actors are always denied, everyone else needs one
// of the configured roles.
func checkRBAC(cfg RBACConfig, ctx EvalContext) []Violation {
	if !privilegedEventTypes[ctx.Event.Type] {
		return nil
	}
	if ctx.Event.ActorType == decision.ActorSystem {
		return nil
	}
	if ctx.Event.ActorType == decision.ActorAgent {
		return []Violation{{Severity: SeverityBlock, Code: "AGENT_PRIVILEGED_DENIED", Message: fmt.Sprintf("actor_type=agent is denied privileged event %s", ctx.Event.Type)}}
	}
	required := cfg.RequiredRoles[ctx.Event.Type]
	if !hasAnyRole(ctx.ActorRoles, required) {
		return []Violation{{Severity: SeverityBlock, Code: "RBAC_ROLE_REQUIRED", Message: fmt.Sprintf("%s requires one of roles %v", ctx.Event.Type, required)}}
	}
	return nil
}
