// Copyright 2025 Certen Protocol
//
// Package gate runs the policy checks that need more context than the pure
// replay fold has available: role grants, wall-clock time, trust-boundary
// configuration, and the signer-binding fields on an event's meta. The
// apply pipeline (pkg/apply) calls Evaluate once per event, after replay's
// own FSM/default-policy check has already passed, and before the event is
// actually appended.
package gate

import (
	"time"

	"github.com/certen/veritas-ledger/pkg/decision"
)

// Severity classifies a Violation. Only BLOCK halts the apply.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityBlock Severity = "BLOCK"
)

// Violation is one gate finding.
type Violation struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// privilegedEventTypes require a role grant under RBAC and can never be
// performed by an agent actor, matching the trust-boundary rule that
// agents can never execute APPROVE|REJECT|PUBLISH (COMMIT_COUNTERFACTUAL
// added for RBAC's own privileged set).
var privilegedEventTypes = map[decision.EventType]bool{
	decision.EventApprove:              true,
	decision.EventReject:               true,
	decision.EventPublish:              true,
	decision.EventCommitCounterfactual: true,
}

// finalizeEventTypes require signer identity binding and (for approvals)
// the liability shield checks.
var finalizeEventTypes = map[decision.EventType]bool{
	decision.EventApprove: true,
	decision.EventReject:  true,
	decision.EventPublish: true,
}

// ImmutabilityConfig governs the locked-state immutability window.
type ImmutabilityConfig struct {
	Enabled          bool
	LockedStates     []decision.State
	LockAfterSeconds int64
	AllowEventTypes  map[decision.EventType]bool
}

func (c ImmutabilityConfig) isLocked(s decision.State) bool {
	for _, locked := range c.LockedStates {
		if locked == s {
			return true
		}
	}
	return false
}

// ApprovalConfig governs the approve/reject gate.
type ApprovalConfig struct {
	RequireSimulatedState bool
	RequireArtifacts      bool
	RiskThreshold         float64
	ElevatedRole          string
	ApproveRoles          []string
	RejectRoles           []string
}

// RBACConfig maps a privileged event type to the role(s) that satisfy it.
// An actor carrying any one of the listed roles for that event type
// passes; system actors bypass RBAC entirely; agent actors are always
// denied regardless of role.
type RBACConfig struct {
	RequiredRoles map[decision.EventType][]string
}

// TrustBoundaryConfig governs cross-origin and evidence-trust requirements
// per event type.
type TrustBoundaryConfig struct {
	AllowedOriginZones      map[decision.EventType][]string
	DeniedOriginZones       map[decision.EventType][]string
	MinEvidenceTrust        float64
	RequireAttestation      map[decision.EventType]bool
	RequireFederationProof  bool
}

// Config bundles every policy family Evaluate enforces.
type Config struct {
	Immutability           ImmutabilityConfig
	Approval               ApprovalConfig
	RBAC                   RBACConfig
	TrustBoundary          TrustBoundaryConfig
	RequireLiabilityShield bool
}

// EvalContext is everything Evaluate needs beyond Config: the head
// Decision before this event, the event itself, and the caller-resolved
// facts (roles, risk score, clock, signer/shield fields, trust-boundary
// facts) that only the apply pipeline's surrounding context can supply.
type EvalContext struct {
	Head                   *decision.Decision
	Event                  decision.Event
	ActorRoles             []string
	RiskScore              float64
	Now                    time.Time
	LastLockTransitionTime time.Time
	TamperHashBeforeEvent  string
	SignerID               string
	SignerStateHash        string
	OwnerID                string
	ApproverID             string
	OriginZone             string
	EvidenceTrust          float64
	HasAttestation         bool
	IsCrossOrg             bool
	HasFederationProof     bool
}

// Evaluate runs every policy family against ctx and returns the
// accumulated violations. Any BLOCK means the apply pipeline must halt
// before appending the event.
func Evaluate(cfg Config, ctx EvalContext) []Violation {
	var out []Violation
	out = append(out, checkImmutabilityWindow(cfg.Immutability, ctx)...)
	out = append(out, checkApprovalGate(cfg.Approval, ctx)...)
	out = append(out, checkSignerBinding(ctx)...)
	out = append(out, checkLiabilityShield(cfg, ctx)...)
	out = append(out, checkTrustBoundary(cfg.TrustBoundary, ctx)...)
	out = append(out, checkRBAC(cfg.RBAC, ctx)...)
	return out
}

// HasBlock reports whether any violation in vs is BLOCK severity.
func HasBlock(vs []Violation) bool {
	for _, v := range vs {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
