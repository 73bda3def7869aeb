// Copyright 2025 Certen Protocol
//
// Package provenance maintains the hash-linked chain of per-event nodes
// stored inside a Decision's artifacts (artifacts.provenance.nodes). It
// exists alongside the event store's own hash chain as a second,
// independent tamper check: the event store detects tampering with the
// log; the provenance chain detects tampering with the replayed tree the
// log was folded into.
package provenance

import (
	"errors"
	"fmt"
	"time"

	"github.com/certen/veritas-ledger/pkg/canon"
	"github.com/certen/veritas-ledger/pkg/decision"
)

// Node is one entry in the provenance chain.
type Node struct {
	NodeID          string                 `json:"node_id"`
	Seq             uint64                 `json:"seq"`
	At              time.Time              `json:"at"`
	DecisionID      string                 `json:"decision_id"`
	EventType       decision.EventType     `json:"event_type"`
	ActorID         string                 `json:"actor_id"`
	EventHash       string                 `json:"event_hash"`
	PrevNodeID      string                 `json:"prev_node_id,omitempty"`
	PrevNodeHash    *string                `json:"prev_node_hash,omitempty"`
	StateBeforeHash string                 `json:"state_before_hash"`
	StateAfterHash  string                 `json:"state_after_hash"`
	Meta            map[string]interface{} `json:"meta,omitempty"`
	NodeHash        string                 `json:"node_hash"`
}

// hashInput is the node with NodeHash (and nothing else) excluded, in the
// same explicit-null convention the event and anchor hashes use for an
// absent optional field.
func hashInput(n *Node) (string, error) {
	prevHash := interface{}(canon.Null)
	if n.PrevNodeHash != nil {
		prevHash = *n.PrevNodeHash
	}
	meta := interface{}(canon.Null)
	if n.Meta != nil {
		meta = n.Meta
	}
	return canon.HashValue(map[string]interface{}{
		"node_id":           n.NodeID,
		"seq":               n.Seq,
		"at":                n.At.UTC().Format(time.RFC3339Nano),
		"decision_id":       n.DecisionID,
		"event_type":        n.EventType,
		"actor_id":          n.ActorID,
		"event_hash":        n.EventHash,
		"prev_node_id":      n.PrevNodeID,
		"prev_node_hash":    prevHash,
		"state_before_hash": n.StateBeforeHash,
		"state_after_hash":  n.StateAfterHash,
		"meta":              meta,
	})
}

// Input is what the replay engine supplies when stamping a new node; the
// chain fills in NodeID, PrevNodeID/PrevNodeHash, and NodeHash.
type Input struct {
	Seq             uint64
	At              time.Time
	DecisionID      string
	EventType       decision.EventType
	ActorID         string
	EventHash       string
	StateBeforeHash string
	StateAfterHash  string
	Meta            map[string]interface{}
}

// Nodes reads the provenance node list out of d.Artifacts, returning nil if
// there isn't one yet.
func Nodes(d *decision.Decision) ([]Node, error) {
	raw, ok := d.ArtifactsGet("provenance", "nodes")
	if !ok || raw == nil {
		return nil, nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("provenance: artifacts.provenance.nodes is not an array")
	}
	out := make([]Node, 0, len(arr))
	for i, item := range arr {
		n, err := decodeNode(item)
		if err != nil {
			return nil, fmt.Errorf("provenance: decode node %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func decodeNode(v interface{}) (Node, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return Node{}, errors.New("node is not an object")
	}
	n := Node{
		NodeID:          str(m["node_id"]),
		Seq:             uintOf(m["seq"]),
		DecisionID:      str(m["decision_id"]),
		EventType:       decision.EventType(str(m["event_type"])),
		ActorID:         str(m["actor_id"]),
		EventHash:       str(m["event_hash"]),
		PrevNodeID:      str(m["prev_node_id"]),
		StateBeforeHash: str(m["state_before_hash"]),
		StateAfterHash:  str(m["state_after_hash"]),
		NodeHash:        str(m["node_hash"]),
	}
	if at, ok := m["at"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return Node{}, fmt.Errorf("parse at: %w", err)
		}
		n.At = t
	}
	if ph, ok := m["prev_node_hash"].(string); ok {
		n.PrevNodeHash = &ph
	}
	if meta, ok := m["meta"].(map[string]interface{}); ok {
		n.Meta = meta
	}
	return n, nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func uintOf(v interface{}) uint64 {
	switch x := v.(type) {
	case float64:
		return uint64(x)
	case int:
		return uint64(x)
	case uint64:
		return x
	default:
		return 0
	}
}

// Append computes the next node from in and the current tail (if any),
// writes it back into d.Artifacts.provenance.nodes, and returns it.
func Append(d *decision.Decision, in Input) (*Node, error) {
	existing, err := Nodes(d)
	if err != nil {
		return nil, err
	}

	node := &Node{
		NodeID:          fmt.Sprintf("%s:%d", in.DecisionID, in.Seq),
		Seq:             in.Seq,
		At:              in.At,
		DecisionID:      in.DecisionID,
		EventType:       in.EventType,
		ActorID:         in.ActorID,
		EventHash:       in.EventHash,
		StateBeforeHash: in.StateBeforeHash,
		StateAfterHash:  in.StateAfterHash,
		Meta:            in.Meta,
	}
	if len(existing) > 0 {
		tail := existing[len(existing)-1]
		node.PrevNodeID = tail.NodeID
		h := tail.NodeHash
		node.PrevNodeHash = &h
	}
	hash, err := hashInput(node)
	if err != nil {
		return nil, fmt.Errorf("provenance: hash node: %w", err)
	}
	node.NodeHash = hash

	arr := make([]interface{}, 0, len(existing)+1)
	for _, n := range existing {
		arr = append(arr, nodeToGeneric(n))
	}
	arr = append(arr, nodeToGeneric(*node))
	d.ArtifactsSet(arr, "provenance", "nodes")

	return node, nil
}

func nodeToGeneric(n Node) map[string]interface{} {
	m := map[string]interface{}{
		"node_id":           n.NodeID,
		"seq":               n.Seq,
		"at":                n.At.UTC().Format(time.RFC3339Nano),
		"decision_id":       n.DecisionID,
		"event_type":        string(n.EventType),
		"actor_id":          n.ActorID,
		"event_hash":        n.EventHash,
		"prev_node_id":      n.PrevNodeID,
		"state_before_hash": n.StateBeforeHash,
		"state_after_hash":  n.StateAfterHash,
		"node_hash":         n.NodeHash,
	}
	if n.PrevNodeHash != nil {
		m["prev_node_hash"] = *n.PrevNodeHash
	}
	if n.Meta != nil {
		m["meta"] = n.Meta
	}
	return m
}

// Violation describes one broken link found by Verify.
type Violation struct {
	NodeID  string `json:"node_id"`
	Problem string `json:"problem"`
}

// Verify walks the chain stored in d and reports every broken link: the
// root node must carry no prev_node_hash, every other node's
// prev_node_hash must equal its parent's node_hash, seq must be strictly
// contiguous, and every node's stored node_hash must match its recomputed
// hash.
func Verify(d *decision.Decision) ([]Violation, error) {
	nodes, err := Nodes(d)
	if err != nil {
		return nil, err
	}
	var violations []Violation
	for i, n := range nodes {
		recomputed, err := hashInput(&n)
		if err != nil {
			return nil, fmt.Errorf("provenance: recompute hash for node %s: %w", n.NodeID, err)
		}
		if recomputed != n.NodeHash {
			violations = append(violations, Violation{NodeID: n.NodeID, Problem: "stored node_hash does not match recomputed hash"})
		}
		if i == 0 {
			if n.PrevNodeHash != nil {
				violations = append(violations, Violation{NodeID: n.NodeID, Problem: "root node must not carry a prev_node_hash"})
			}
			continue
		}
		prior := nodes[i-1]
		if n.PrevNodeHash == nil || *n.PrevNodeHash != prior.NodeHash {
			violations = append(violations, Violation{NodeID: n.NodeID, Problem: "prev_node_hash does not match the prior node's node_hash"})
		}
		if n.Seq != prior.Seq+1 {
			violations = append(violations, Violation{NodeID: n.NodeID, Problem: "seq is not contiguous with the prior node"})
		}
	}
	return violations, nil
}

// TailHash returns the node_hash of the last provenance node, or "" if the
// chain is empty (a fresh, never-applied decision).
func TailHash(d *decision.Decision) (string, error) {
	nodes, err := Nodes(d)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", nil
	}
	return nodes[len(nodes)-1].NodeHash, nil
}
