// Copyright 2025 Certen Protocol
//
// Package kv defines the key-value abstraction every store in this module
// is built on (event store, snapshot store, anchor store, receipt ledger,
// global ledger), with iteration and a transactional boundary so the apply
// pipeline (pkg/apply) can commit event-append + receipt + global-ledger
// writes as a single all-or-nothing unit (its snapshot/anchor writes run in
// a separate transaction).
package kv

import "errors"

// ErrNotFound is returned by Get for callers that want an explicit miss
// signal instead of (nil, nil); most of this module's Get wrappers prefer
// the (nil, nil) convention, but ErrNotFound is available for KV
// implementations where the underlying driver already distinguishes a miss
// from an empty value.
var ErrNotFound = errors.New("kv: key not found")

// KV is a minimal ordered key-value store. Get returns (nil, nil) for a
// missing key.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Iterate calls fn for every key with the given prefix in ascending
	// byte order. fn returns false to stop iteration early.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// Transactional is implemented by KV backends that can run a batch of
// operations atomically. A non-nil error returned by fn rolls back every
// write made through tx.
type Transactional interface {
	KV
	RunInTransaction(fn func(tx KV) error) error
}
