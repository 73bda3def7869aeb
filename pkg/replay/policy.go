// Copyright 2025 Certen Protocol
package replay

import (
	"fmt"

	"github.com/certen/veritas-ledger/pkg/decision"
)

// privilegedEventTypes are gated separately by pkg/gate's RBAC/trust-
// boundary checks once roles and policy configuration are available; the
// one rule replay itself can enforce with no external context is that an
// automated agent actor can never be the one performing them.
var privilegedEventTypes = map[decision.EventType]bool{
	decision.EventApprove:              true,
	decision.EventReject:               true,
	decision.EventPublish:              true,
	decision.EventCommitCounterfactual: true,
}

// runDefaultPolicies runs the policy checks replay can make purely from
// the event and the Decision state it is about to be folded onto — no
// store, config, or role lookup required. Gate-engine policies that need
// those (approval gates, signer binding, trust zones, RBAC role sets)
// live in pkg/gate and run from the apply pipeline instead.
func runDefaultPolicies(d *decision.Decision, in EventInput) []Violation {
	var out []Violation

	if in.Event.ActorType == decision.ActorAgent && privilegedEventTypes[in.Event.Type] {
		out = append(out, Violation{
			Severity: SeverityBlock,
			Code:     "AGENT_CANNOT_PERFORM_PRIVILEGED_EVENT",
			Message:  fmt.Sprintf("actor_type=agent cannot perform %s", in.Event.Type),
			EventSeq: in.Seq,
		})
	}

	if in.Event.ActorID == "" {
		out = append(out, Violation{
			Severity: SeverityBlock,
			Code:     "ACTOR_ID_REQUIRED",
			Message:  "event is missing actor_id",
			EventSeq: in.Seq,
		})
	}

	return out
}
