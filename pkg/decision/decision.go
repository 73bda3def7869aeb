// Copyright 2025 Certen Protocol
//
// Package decision defines the Decision aggregate and the Event union that
// the replay engine (pkg/replay) and apply pipeline (pkg/apply) operate on.
package decision

import "time"

// State is one of the Decision FSM states.
type State string

const (
	StateDraft     State = "DRAFT"
	StateValidated State = "VALIDATED"
	StateSimulated State = "SIMULATED"
	StateApproved  State = "APPROVED"
	StateRejected  State = "REJECTED"
	StatePublished State = "PUBLISHED"
	StateDispute   State = "DISPUTE"
)

// EventType enumerates the discriminated Event union members.
type EventType string

const (
	EventValidate           EventType = "VALIDATE"
	EventSimulate           EventType = "SIMULATE"
	EventExplain            EventType = "EXPLAIN"
	EventApprove            EventType = "APPROVE"
	EventReject             EventType = "REJECT"
	EventAttachArtifacts    EventType = "ATTACH_ARTIFACTS"
	EventSign               EventType = "SIGN"
	EventIngestRecords      EventType = "INGEST_RECORDS"
	EventLinkDecisions      EventType = "LINK_DECISIONS"
	EventAttestExternal     EventType = "ATTEST_EXTERNAL"
	EventEnterDispute       EventType = "ENTER_DISPUTE"
	EventExitDispute        EventType = "EXIT_DISPUTE"
	EventAddObligation      EventType = "ADD_OBLIGATION"
	EventFulfillObligation  EventType = "FULFILL_OBLIGATION"
	EventWaiveObligation    EventType = "WAIVE_OBLIGATION"
	EventAttestExecution    EventType = "ATTEST_EXECUTION"
	EventSetRisk            EventType = "SET_RISK"
	EventAddBlastRadius     EventType = "ADD_BLAST_RADIUS"
	EventAddImpactedSystem  EventType = "ADD_IMPACTED_SYSTEM"
	EventSetRollbackPlan    EventType = "SET_ROLLBACK_PLAN"
	EventAssignResponsibility EventType = "ASSIGN_RESPONSIBILITY"
	EventAcceptRisk         EventType = "ACCEPT_RISK"
	EventPublish            EventType = "PUBLISH"
	EventLock               EventType = "LOCK"
	EventCommitCounterfactual EventType = "COMMIT_COUNTERFACTUAL"
)

// ActorType narrows who/what performed an event.
type ActorType string

const (
	ActorHuman   ActorType = "human"
	ActorService ActorType = "service"
	ActorSystem  ActorType = "system"
	ActorAgent   ActorType = "agent"
)

// Event is the discriminated union of operations appliable to a Decision.
// Payload fields are carried in Fields so the replay engine and the
// canonical hasher both operate on one generic, tag-sorted shape instead of
// N concrete Go types switched over by a type assertion.
type Event struct {
	Type      EventType              `json:"type"`
	ActorID   string                 `json:"actor_id"`
	ActorType ActorType              `json:"actor_type,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// HistoryEntry is an append-only record of an applied event, kept inside
// Decision.History for quick inspection without re-reading the event log.
type HistoryEntry struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	ActorID   string    `json:"actor_id"`
	At        time.Time `json:"at"`
	FromState State     `json:"from_state"`
	ToState   State     `json:"to_state"`
}

// SignatureDescriptor records a per-event signature attached to the
// Decision's materialized view (distinct from the persisted
// RiskLiabilitySignature row in pkg/receipt, which is the authoritative
// tamper-evident copy).
type SignatureDescriptor struct {
	EventSeq  uint64    `json:"event_seq"`
	SignerID  string    `json:"signer_id"`
	Algorithm string    `json:"algorithm"`
	At        time.Time `json:"at"`
}

// Decision is the root aggregate. It is owned exclusively by the event
// store; callers only ever see immutable copies produced by Clone.
type Decision struct {
	DecisionID       string                 `json:"decision_id"`
	State            State                  `json:"state"`
	Version          uint64                 `json:"version"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	Meta             map[string]interface{} `json:"meta,omitempty"`
	Artifacts        map[string]interface{} `json:"artifacts,omitempty"`
	History          []HistoryEntry         `json:"history,omitempty"`
	Signatures       []SignatureDescriptor  `json:"signatures,omitempty"`
	ParentDecisionID string                 `json:"parent_decision_id,omitempty"`
}

// Clone performs a deep copy sufficient for safe hand-off to callers and
// for mutation inside the replay engine without aliasing the stored
// Decision. It copies the nested maps and []interface{} slices of
// Meta/Artifacts recursively; any other value inside them is shared with
// the original, which is adequate because those fields are JSON-shaped
// data.
func (d *Decision) Clone() *Decision {
	if d == nil {
		return nil
	}
	out := &Decision{
		DecisionID:       d.DecisionID,
		State:            d.State,
		Version:          d.Version,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		ParentDecisionID: d.ParentDecisionID,
	}
	out.Meta = deepCopyMap(d.Meta)
	out.Artifacts = deepCopyMap(d.Artifacts)
	out.History = append([]HistoryEntry(nil), d.History...)
	out.Signatures = append([]SignatureDescriptor(nil), d.Signatures...)
	return out
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// ArtifactsGet reads a nested artifacts path given as separate segments,
// e.g. ArtifactsGet("provenance", "nodes"), returning (nil, false) if any
// segment is missing.
func (d *Decision) ArtifactsGet(path ...string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(d.Artifacts)
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ArtifactsSet writes a nested artifacts path, creating intermediate maps
// as needed.
func (d *Decision) ArtifactsSet(value interface{}, path ...string) {
	if d.Artifacts == nil {
		d.Artifacts = map[string]interface{}{}
	}
	m := d.Artifacts
	for i, seg := range path {
		if i == len(path)-1 {
			m[seg] = value
			return
		}
		next, ok := m[seg].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			m[seg] = next
		}
		m = next
	}
}
