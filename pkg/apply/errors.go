// Copyright 2025 Certen Protocol
package apply

import "github.com/certen/veritas-ledger/pkg/replay"

// snapshotIntegrityError flags a BLOCK-severity integrity failure found
// while loading a snapshot, checking the receipt chain, or verifying
// provenance after a re-replay. It carries a stable code so callers can
// match on it without parsing the message.
type snapshotIntegrityError struct {
	code    string
	message string
}

func (e snapshotIntegrityError) Error() string { return e.message }

func asSnapshotIntegrityError(err error) (snapshotIntegrityError, bool) {
	e, ok := err.(snapshotIntegrityError)
	return e, ok
}

// replayBlockError wraps the violations collected when replay.Replay halts
// on an INVALID_TRANSITION or a default-policy BLOCK.
type replayBlockError struct {
	violations []replay.Violation
}

func (e replayBlockError) Error() string { return "apply: replay produced a BLOCK violation" }

func asReplayBlockError(err error) (replayBlockError, bool) {
	e, ok := err.(replayBlockError)
	return e, ok
}

// gateBlockError flags a BLOCK-severity failure raised inside the append
// transaction itself, after the gate pre-check already passed (e.g. a
// signature requirement discovered only once the finalize event's receipt
// exists).
type gateBlockError struct {
	code    string
	message string
}

func (e gateBlockError) Error() string { return e.message }

func asGateBlockError(err error) (gateBlockError, bool) {
	e, ok := err.(gateBlockError)
	return e, ok
}
