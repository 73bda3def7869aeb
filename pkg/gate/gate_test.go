// Copyright 2025 Certen Protocol
package gate

import (
	"testing"
	"time"

	"github.com/certen/veritas-ledger/pkg/decision"
)

func TestCheckImmutabilityWindow_BlocksPastLockWindow(t *testing.T) {
	cfg := ImmutabilityConfig{
		Enabled:          true,
		LockedStates:     []decision.State{decision.StateApproved},
		LockAfterSeconds: 60,
	}
	now := time.Now()
	ctx := EvalContext{
		Head:                   &decision.Decision{State: decision.StateApproved},
		Event:                  decision.Event{Type: decision.EventAttachArtifacts},
		Now:                    now,
		LastLockTransitionTime: now.Add(-2 * time.Minute),
	}
	vs := checkImmutabilityWindow(cfg, ctx)
	if len(vs) != 1 || vs[0].Code != "IMMUTABLE_WINDOW_LOCKED" {
		t.Fatalf("expected IMMUTABLE_WINDOW_LOCKED, got %+v", vs)
	}
}

func TestCheckImmutabilityWindow_AllowListBypasses(t *testing.T) {
	cfg := ImmutabilityConfig{
		Enabled:          true,
		LockedStates:     []decision.State{decision.StateApproved},
		LockAfterSeconds: 60,
		AllowEventTypes:  map[decision.EventType]bool{decision.EventAttestExternal: true},
	}
	now := time.Now()
	ctx := EvalContext{
		Head:                   &decision.Decision{State: decision.StateApproved},
		Event:                  decision.Event{Type: decision.EventAttestExternal},
		Now:                    now,
		LastLockTransitionTime: now.Add(-2 * time.Minute),
	}
	if vs := checkImmutabilityWindow(cfg, ctx); len(vs) != 0 {
		t.Fatalf("expected allow-listed event type to bypass the window, got %+v", vs)
	}
}

func TestCheckApprovalGate_RequiresSimulatedStateAndRole(t *testing.T) {
	cfg := ApprovalConfig{RequireSimulatedState: true, ApproveRoles: []string{"approver"}}
	ctx := EvalContext{
		Head:  &decision.Decision{State: decision.StateValidated},
		Event: decision.Event{Type: decision.EventApprove},
	}
	vs := checkApprovalGate(cfg, ctx)
	codes := violationCodes(vs)
	if !containsString(codes, "GATE_APPROVE_REQUIRES_SIMULATION") {
		t.Errorf("expected GATE_APPROVE_REQUIRES_SIMULATION, got %v", codes)
	}
	if !containsString(codes, "GATE_APPROVE_REQUIRES_ROLE") {
		t.Errorf("expected GATE_APPROVE_REQUIRES_ROLE, got %v", codes)
	}
}

func TestCheckApprovalGate_HighRiskRequiresElevatedRole(t *testing.T) {
	cfg := ApprovalConfig{ApproveRoles: []string{"approver"}, RiskThreshold: 0.8, ElevatedRole: "senior-approver"}
	ctx := EvalContext{
		Head:       &decision.Decision{State: decision.StateSimulated},
		Event:      decision.Event{Type: decision.EventApprove},
		ActorRoles: []string{"approver"},
		RiskScore:  0.9,
	}
	vs := checkApprovalGate(cfg, ctx)
	if len(vs) != 1 || vs[0].Code != "GATE_HIGH_RISK_REQUIRES_ROLE" {
		t.Fatalf("expected GATE_HIGH_RISK_REQUIRES_ROLE, got %+v", vs)
	}
}

func TestCheckSignerBinding_DetectsMismatch(t *testing.T) {
	ctx := EvalContext{
		Event:                 decision.Event{Type: decision.EventApprove, ActorID: "alice"},
		SignerID:              "bob",
		SignerStateHash:       "abc",
		TamperHashBeforeEvent: "abc",
	}
	vs := checkSignerBinding(ctx)
	if len(vs) != 1 || vs[0].Code != "SIGNER_ACTOR_MISMATCH" {
		t.Fatalf("expected SIGNER_ACTOR_MISMATCH, got %+v", vs)
	}
}

func TestCheckSignerBinding_DetectsStateHashMismatch(t *testing.T) {
	ctx := EvalContext{
		Event:                 decision.Event{Type: decision.EventApprove, ActorID: "alice"},
		SignerID:              "alice",
		SignerStateHash:       "abc",
		TamperHashBeforeEvent: "different",
	}
	vs := checkSignerBinding(ctx)
	if len(vs) != 1 || vs[0].Code != "SIGNER_STATE_HASH_MISMATCH" {
		t.Fatalf("expected SIGNER_STATE_HASH_MISMATCH, got %+v", vs)
	}
}

func TestCheckTrustBoundary_AgentCannotFinalize(t *testing.T) {
	ctx := EvalContext{Event: decision.Event{Type: decision.EventApprove, ActorType: decision.ActorAgent}}
	vs := checkTrustBoundary(TrustBoundaryConfig{}, ctx)
	if len(vs) != 1 || vs[0].Code != "TB_AGENT_CANNOT_FINALIZE" {
		t.Fatalf("expected TB_AGENT_CANNOT_FINALIZE, got %+v", vs)
	}
}

func TestCheckRBAC_SystemBypassesAgentDenied(t *testing.T) {
	cfg := RBACConfig{RequiredRoles: map[decision.EventType][]string{decision.EventApprove: {"approver"}}}

	sysCtx := EvalContext{Event: decision.Event{Type: decision.EventApprove, ActorType: decision.ActorSystem}}
	if vs := checkRBAC(cfg, sysCtx); len(vs) != 0 {
		t.Errorf("expected system actor to bypass RBAC, got %+v", vs)
	}

	agentCtx := EvalContext{Event: decision.Event{Type: decision.EventApprove, ActorType: decision.ActorAgent}}
	vs := checkRBAC(cfg, agentCtx)
	if len(vs) != 1 || vs[0].Code != "AGENT_PRIVILEGED_DENIED" {
		t.Fatalf("expected AGENT_PRIVILEGED_DENIED, got %+v", vs)
	}

	humanCtx := EvalContext{Event: decision.Event{Type: decision.EventApprove, ActorType: decision.ActorHuman}, ActorRoles: []string{"someone-else"}}
	vs = checkRBAC(cfg, humanCtx)
	if len(vs) != 1 || vs[0].Code != "RBAC_ROLE_REQUIRED" {
		t.Fatalf("expected RBAC_ROLE_REQUIRED, got %+v", vs)
	}
}

func TestConsequencePreview_WarnsOnHighRiskAndNotSimulated(t *testing.T) {
	p := ConsequencePreview(PreviewInput{
		Head:               &decision.Decision{State: decision.StateValidated},
		Event:              decision.Event{Type: decision.EventApprove, ActorID: "alice"},
		PredictedNextState: decision.StateApproved,
		RiskScore:          0.9,
		HasArtifacts:       true,
	})
	codes := violationCodes(p.Warnings)
	if !containsString(codes, "NOT_SIMULATED") {
		t.Errorf("expected NOT_SIMULATED, got %v", codes)
	}
	if !containsString(codes, "RISK_HIGH") {
		t.Errorf("expected RISK_HIGH, got %v", codes)
	}
}

func violationCodes(vs []Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Code
	}
	return out
}
