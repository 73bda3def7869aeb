// Copyright 2025 Certen Protocol
package replay

import (
	"github.com/certen/veritas-ledger/pkg/decision"
)

// mergeEventFields folds one event's payload into d's artifacts/risk/
// obligations/signatures, per the named bucket for its event type. State
// transition bookkeeping already happened in Replay; this only handles
// the event-type-specific side effects on the Decision's content.
func mergeEventFields(d *decision.Decision, ev decision.Event, seq uint64) {
	switch ev.Type {
	case decision.EventAttachArtifacts:
		mergeArtifactsShallow(d, ev.Fields)

	case decision.EventSign:
		signerID, _ := ev.Fields["signer_id"].(string)
		algorithm, _ := ev.Fields["algorithm"].(string)
		d.Signatures = append(d.Signatures, decision.SignatureDescriptor{
			EventSeq:  seq,
			SignerID:  signerID,
			Algorithm: algorithm,
			At:        d.UpdatedAt,
		})

	case decision.EventIngestRecords:
		appendToArtifactsList(d, ev.Fields, "records")

	case decision.EventLinkDecisions:
		appendToArtifactsList(d, ev.Fields, "links")

	case decision.EventAttestExternal, decision.EventAttestExecution:
		appendToArtifactsList(d, ev.Fields, "attestations")

	case decision.EventAddObligation:
		appendToArtifactsList(d, withStatus(ev.Fields, "open"), "execution", "obligations")

	case decision.EventFulfillObligation:
		updateObligationStatus(d, ev.Fields, "fulfilled")

	case decision.EventWaiveObligation:
		updateObligationStatus(d, ev.Fields, "waived")

	case decision.EventSetRisk:
		d.ArtifactsSet(ev.Fields, "risk")

	case decision.EventAcceptRisk:
		risk, _ := d.ArtifactsGet("risk")
		merged := map[string]interface{}{}
		if m, ok := risk.(map[string]interface{}); ok {
			for k, v := range m {
				merged[k] = v
			}
		}
		for k, v := range ev.Fields {
			merged[k] = v
		}
		merged["accepted"] = true
		d.ArtifactsSet(merged, "risk")

	case decision.EventAddBlastRadius:
		appendToArtifactsList(d, ev.Fields, "execution", "blast_radius")

	case decision.EventAddImpactedSystem:
		appendToArtifactsList(d, ev.Fields, "execution", "impacted_systems")

	case decision.EventSetRollbackPlan:
		d.ArtifactsSet(ev.Fields, "execution", "rollback_plan")

	case decision.EventAssignResponsibility:
		d.ArtifactsSet(ev.Fields, "execution", "responsibility")

	case decision.EventCommitCounterfactual:
		d.ArtifactsSet(ev.Fields, "counterfactual")

	case decision.EventLock:
		d.ArtifactsSet(true, "locked")
		if d.Meta == nil {
			d.Meta = map[string]interface{}{}
		}
		d.Meta["locked_at"] = d.UpdatedAt

	case decision.EventExplain:
		appendToArtifactsList(d, ev.Fields, "explanations")
	}
}

func mergeArtifactsShallow(d *decision.Decision, fields map[string]interface{}) {
	for k, v := range fields {
		d.ArtifactsSet(v, k)
	}
}

func appendToArtifactsList(d *decision.Decision, item map[string]interface{}, path ...string) {
	existing, _ := d.ArtifactsGet(path...)
	list, _ := existing.([]interface{})
	list = append(list, map[string]interface{}(item))
	d.ArtifactsSet(list, path...)
}

func withStatus(fields map[string]interface{}, status string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["status"] = status
	return out
}

func updateObligationStatus(d *decision.Decision, fields map[string]interface{}, status string) {
	obligationID, _ := fields["obligation_id"].(string)
	existing, _ := d.ArtifactsGet("execution", "obligations")
	list, _ := existing.([]interface{})
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if id, _ := m["obligation_id"].(string); id == obligationID {
			m["status"] = status
			list[i] = m
		}
	}
	d.ArtifactsSet(list, "execution", "obligations")
}

