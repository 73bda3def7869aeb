// Copyright 2025 Certen Protocol
package gate

import "github.com/certen/veritas-ledger/pkg/decision"

// approveLikeEvents are the event types the NOT_SIMULATED warning applies
// to — an approval performed without having simulated first is the
// specific case the preview calls out as a BLOCK-severity warning.
var approveLikeEvents = map[decision.EventType]bool{
	decision.EventApprove: true,
	decision.EventPublish: true,
}

// Preview is the consequence-preview result returned before an event is
// actually applied, so a caller can surface it to a human reviewer.
type Preview struct {
	PredictedNextState decision.State `json:"predicted_next_state"`
	DeltaSummary       string         `json:"delta_summary"`
	Warnings           []Violation    `json:"warnings,omitempty"`
}

// PreviewInput is what ConsequencePreview needs to build a Preview.
type PreviewInput struct {
	Head               *decision.Decision
	Event              decision.Event
	PredictedNextState decision.State
	RiskScore          float64
	HasArtifacts       bool
}

// ConsequencePreview produces heuristic warnings about an event before
// it's applied: NOT_SIMULATED (BLOCK for approve-like events performed
// outside SIMULATED), IRREVERSIBLE_ACTION (WARN for PUBLISH/REJECT),
// RISK_HIGH (WARN at risk >= 0.8), MISSING_ARTIFACTS (INFO), NO_CHANGE
// (INFO when the predicted next state equals the current state).
func ConsequencePreview(in PreviewInput) Preview {
	var warnings []Violation

	if approveLikeEvents[in.Event.Type] && (in.Head == nil || in.Head.State != decision.StateSimulated) {
		warnings = append(warnings, Violation{Severity: SeverityBlock, Code: "NOT_SIMULATED", Message: "approve-like event is being applied without the decision having been simulated"})
	}
	if in.Event.Type == decision.EventPublish || in.Event.Type == decision.EventReject {
		warnings = append(warnings, Violation{Severity: SeverityWarn, Code: "IRREVERSIBLE_ACTION", Message: "this event cannot be undone once applied"})
	}
	if in.RiskScore >= 0.8 {
		warnings = append(warnings, Violation{Severity: SeverityWarn, Code: "RISK_HIGH", Message: "risk_score is at or above 0.8"})
	}
	if !in.HasArtifacts {
		warnings = append(warnings, Violation{Severity: SeverityInfo, Code: "MISSING_ARTIFACTS", Message: "no artifacts are attached to this decision yet"})
	}
	predictedState := decision.StateDraft
	if in.Head != nil {
		predictedState = in.Head.State
	}
	if in.PredictedNextState == predictedState {
		warnings = append(warnings, Violation{Severity: SeverityInfo, Code: "NO_CHANGE", Message: "this event does not change the decision's state"})
	}

	return Preview{
		PredictedNextState: in.PredictedNextState,
		DeltaSummary:       string(in.Event.Type) + " by " + in.Event.ActorID,
		Warnings:           warnings,
	}
}
