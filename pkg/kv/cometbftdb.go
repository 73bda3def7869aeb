// Copyright 2025 Certen Protocol
//
// CometBFTAdapter wraps a github.com/cometbft/cometbft-db dbm.DB as a kv.KV.
// This gives the event/snapshot/anchor/receipt/ledger stores an embedded,
// disk-backed KV option (GoLevelDB, BadgerDB, ...) without requiring a
// Postgres instance.
package kv

import (
	dbm "github.com/cometbft/cometbft-db"
)

// CometBFTAdapter adapts a cometbft-db dbm.DB to the KV interface.
type CometBFTAdapter struct {
	db dbm.DB
}

// NewCometBFTAdapter wraps db. db must not be nil.
func NewCometBFTAdapter(db dbm.DB) *CometBFTAdapter {
	return &CometBFTAdapter{db: db}
}

func (a *CometBFTAdapter) Get(key []byte) ([]byte, error) {
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (a *CometBFTAdapter) Set(key, value []byte) error {
	return a.db.SetSync(key, value)
}

func (a *CometBFTAdapter) Delete(key []byte) error {
	return a.db.DeleteSync(key)
}

func (a *CometBFTAdapter) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	end := prefixUpperBound(prefix)
	it, err := a.db.Iterator(prefix, end)
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// RunInTransaction uses a cometbft-db Batch for atomic commit of the writes
// issued inside fn. Unlike kv.Memory's overlay, reads inside fn still hit
// the underlying db directly (cometbft-db batches are write-only). This is
// safe under the single-writer-per-decision model this module assumes: all
// reads for an apply_event call happen before the writes are computed,
// never interleaved with them.
func (a *CometBFTAdapter) RunInTransaction(fn func(tx KV) error) error {
	batch := a.db.NewBatch()
	defer batch.Close()

	bw := &batchWriter{reader: a, batch: batch}
	if err := fn(bw); err != nil {
		return err
	}
	return batch.WriteSync()
}

type batchWriter struct {
	reader *CometBFTAdapter
	batch  dbm.Batch
}

func (b *batchWriter) Get(key []byte) ([]byte, error)  { return b.reader.Get(key) }
func (b *batchWriter) Set(key, value []byte) error     { return b.batch.Set(key, value) }
func (b *batchWriter) Delete(key []byte) error         { return b.batch.Delete(key) }
func (b *batchWriter) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return b.reader.Iterate(prefix, fn)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an exclusive iterator end bound.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff bytes; unbounded end
}
