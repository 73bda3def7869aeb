// Copyright 2025 Certen Protocol
package kv

import (
	"sort"
	"sync"
)

// Memory is an in-process KV backed by a Go map. It additionally implements
// Transactional via copy-on-write: RunInTransaction hands the caller an
// overlay view and only publishes the overlay's writes if the callback
// returns nil.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory KV store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *Memory) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	p := string(prefix)
	for k := range m.data {
		if len(k) >= len(p) && k[:len(p)] == p {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		snapshot[k] = m.data[k]
	}
	m.mu.RUnlock()

	for _, k := range keys {
		if !fn([]byte(k), snapshot[k]) {
			return nil
		}
	}
	return nil
}

// RunInTransaction runs fn against an overlay that reads through to m and
// buffers writes; the overlay is only merged into m if fn returns nil.
// This gives all-or-nothing semantics across the several KV writes one
// transaction of an apply_event call performs (event append, receipt rows
// and global-ledger entry in one; snapshot and anchor in another).
func (m *Memory) RunInTransaction(fn func(tx KV) error) error {
	ov := &overlay{base: m, writes: map[string][]byte{}, deletes: map[string]bool{}}
	if err := fn(ov); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range ov.deletes {
		delete(m.data, k)
	}
	for k, v := range ov.writes {
		m.data[k] = v
	}
	return nil
}

// overlay is a copy-on-write view used during a transaction. Reads that
// miss the local write/delete set fall through to the base store.
type overlay struct {
	base    *Memory
	writes  map[string][]byte
	deletes map[string]bool
}

func (o *overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if o.deletes[k] {
		return nil, nil
	}
	if v, ok := o.writes[k]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	return o.base.Get(key)
}

func (o *overlay) Set(key, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	v := make([]byte, len(value))
	copy(v, value)
	o.writes[k] = v
	return nil
}

func (o *overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = true
	return nil
}

func (o *overlay) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	merged := map[string][]byte{}
	_ = o.base.Iterate(prefix, func(k, v []byte) bool {
		merged[string(k)] = v
		return true
	})
	p := string(prefix)
	for k, v := range o.writes {
		if len(k) >= len(p) && k[:len(p)] == p {
			merged[k] = v
		}
	}
	for k := range o.deletes {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), merged[k]) {
			return nil
		}
	}
	return nil
}
