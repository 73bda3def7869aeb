// Copyright 2025 Certen Protocol
//
// Package replay is the pure function at the center of the ledger: given a
// base Decision and an ordered event list, it folds each event through the
// FSM, runs default policies, mutates a copy, and stamps a provenance
// node — without touching any store. Identical inputs always produce
// identical output, which is what lets the apply pipeline replay the same
// event twice (once for a pre-check, once after appending) and rely on
// both runs reaching the same result.
package replay

import (
	"fmt"
	"time"

	"github.com/certen/veritas-ledger/pkg/decision"
	"github.com/certen/veritas-ledger/pkg/provenance"
	"github.com/certen/veritas-ledger/pkg/statehash"
)

// Severity classifies a Violation. Only BLOCK halts replay.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityBlock Severity = "BLOCK"
)

// Violation is one policy or FSM finding produced while folding an event.
type Violation struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	EventSeq uint64   `json:"event_seq,omitempty"`
}

// EventInput is one entry in the ordered event list replay folds over. Seq
// and EventHash come from the already-appended EventRecord; At is the
// record's canonical timestamp, reused verbatim as updated_at so replay
// stays a pure function of its inputs rather than the wall clock.
type EventInput struct {
	Seq       uint64
	At        time.Time
	EventHash string
	Event     decision.Event
}

// Options configures one Replay call.
type Options struct {
	// AllowedOutsideFSM lets specific event types bypass the FSM
	// transition check — used for forks and compaction tooling that must
	// replay a locked-state's trailing evidence events without first
	// reconstructing the exact path that reached that state.
	AllowedOutsideFSM map[decision.EventType]bool
}

const disputePriorStateKey = "_dispute_prior_state"

// transition resolves the FSM for Decision.state. mutating reports whether
// the event type changes state at all (most event types never do).
func transition(current decision.State, meta map[string]interface{}, et decision.EventType) (next decision.State, ok bool, mutating bool) {
	switch et {
	case decision.EventValidate:
		if current == decision.StateDraft {
			return decision.StateValidated, true, true
		}
		return "", false, true
	case decision.EventSimulate:
		if current == decision.StateValidated {
			return decision.StateSimulated, true, true
		}
		return "", false, true
	case decision.EventApprove:
		if current == decision.StateSimulated {
			return decision.StateApproved, true, true
		}
		return "", false, true
	case decision.EventReject:
		return decision.StateRejected, true, true
	case decision.EventPublish:
		if current == decision.StateApproved {
			return decision.StatePublished, true, true
		}
		return "", false, true
	case decision.EventEnterDispute:
		return decision.StateDispute, true, true
	case decision.EventExitDispute:
		if current != decision.StateDispute {
			return "", false, true
		}
		if prior, ok := meta[disputePriorStateKey].(string); ok && prior != "" {
			return decision.State(prior), true, true
		}
		return decision.StateDraft, true, true
	default:
		return current, true, false
	}
}

// Replay folds events onto base in order, returning the resulting Decision
// copy and any violations encountered. On the first BLOCK violation,
// replay stops and returns the last successfully-applied Decision together
// with every violation collected so far (including the blocking one).
func Replay(base *decision.Decision, events []EventInput, opts Options) (*decision.Decision, []Violation, error) {
	current := base.Clone()
	if current == nil {
		current = &decision.Decision{}
	}
	var violations []Violation

	for _, in := range events {
		next, fsmOK, mutating := transition(current.State, current.Meta, in.Event.Type)
		if !fsmOK && !opts.AllowedOutsideFSM[in.Event.Type] {
			violations = append(violations, Violation{
				Severity: SeverityBlock,
				Code:     "INVALID_TRANSITION",
				Message:  fmt.Sprintf("event %s is not valid from state %s", in.Event.Type, current.State),
				EventSeq: in.Seq,
			})
			return current, violations, nil
		}

		policyViolations := runDefaultPolicies(current, in)
		violations = append(violations, policyViolations...)
		if hasBlock(policyViolations) {
			return current, violations, nil
		}

		before := current.Clone()
		beforeTamperHash, err := statehash.Tamper(before)
		if err != nil {
			return nil, nil, fmt.Errorf("replay: compute before-hash for seq %d: %w", in.Seq, err)
		}

		applied := current.Clone()
		if mutating {
			if applied.State == decision.StateDispute && next != decision.StateDispute && in.Event.Type == decision.EventExitDispute {
				// returning from DISPUTE: clear the remembered prior state
				delete(applied.Meta, disputePriorStateKey)
			}
			if in.Event.Type == decision.EventEnterDispute && applied.State != decision.StateDispute {
				if applied.Meta == nil {
					applied.Meta = map[string]interface{}{}
				}
				applied.Meta[disputePriorStateKey] = string(applied.State)
			}
			applied.State = next
			applied.Version++
		}
		applied.UpdatedAt = in.At
		if applied.CreatedAt.IsZero() {
			applied.CreatedAt = in.At
		}
		mergeEventFields(applied, in.Event, in.Seq)
		applied.History = append(applied.History, decision.HistoryEntry{
			Seq:       in.Seq,
			Type:      in.Event.Type,
			ActorID:   in.Event.ActorID,
			At:        applied.UpdatedAt,
			FromState: current.State,
			ToState:   applied.State,
		})

		afterTamperHash, err := statehash.Tamper(applied)
		if err != nil {
			return nil, nil, fmt.Errorf("replay: compute after-hash for seq %d: %w", in.Seq, err)
		}
		if _, err := provenance.Append(applied, provenance.Input{
			Seq:             in.Seq,
			At:              applied.UpdatedAt,
			DecisionID:      applied.DecisionID,
			EventType:       in.Event.Type,
			ActorID:         in.Event.ActorID,
			EventHash:       in.EventHash,
			StateBeforeHash: beforeTamperHash,
			StateAfterHash:  afterTamperHash,
		}); err != nil {
			return nil, nil, fmt.Errorf("replay: stamp provenance for seq %d: %w", in.Seq, err)
		}

		current = applied
	}

	return current, violations, nil
}

func hasBlock(vs []Violation) bool {
	for _, v := range vs {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
