// Package memory is an in-memory kv.Store for tests and ephemeral nodes.
package memory

import (
	"bytes"
	"context"
	"net/http"
	"sync"

	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/stores/kv"
)

type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	txn    *kv.Overlay
	closed bool

	// Counters counts calls per operation, for tests.
	Counters   map[string]int
	countersMu sync.Mutex
}

func New() *Memory {
	return &Memory{
		data:     make(map[string][]byte),
		Counters: make(map[string]int),
	}
}

func (m *Memory) count(op string) {
	m.countersMu.Lock()
	m.Counters[op]++
	m.countersMu.Unlock()
}

func (m *Memory) Health(_ context.Context, _ bool) (int, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return http.StatusServiceUnavailable, "Memory Store closed", errors.NewStorageUnavailableError("memory store is closed")
	}

	return http.StatusOK, "Memory Store", nil
}

func (m *Memory) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.txn = nil

	return nil
}

// read returns the value of key as seen by the open transaction. Requires m.mu.
func (m *Memory) read(key []byte) ([]byte, bool) {
	if m.txn != nil {
		if v, found, staged := m.txn.Get(key); staged {
			return v, found
		}
	}

	v, ok := m.data[string(key)]

	return v, ok
}

func (m *Memory) Read(_ context.Context, key []byte) ([]byte, bool, error) {
	m.count("read")

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, errors.NewStorageUnavailableError("memory store is closed")
	}

	v, ok := m.read(key)
	if !ok {
		return nil, false, nil
	}

	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Exists(_ context.Context, key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, errors.NewStorageUnavailableError("memory store is closed")
	}

	_, ok := m.read(key)

	return ok, nil
}

func (m *Memory) Write(_ context.Context, key, value []byte, overwrite bool) (bool, error) {
	m.count("write")

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, errors.NewStorageUnavailableError("memory store is closed")
	}

	if !overwrite {
		if _, ok := m.read(key); ok {
			return false, nil
		}
	}

	if m.txn != nil {
		m.txn.Put(key, value)
	} else {
		m.data[string(key)] = append([]byte{}, value...)
	}

	return true, nil
}

func (m *Memory) Erase(_ context.Context, key []byte) (bool, error) {
	m.count("erase")

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, errors.NewStorageUnavailableError("memory store is closed")
	}

	_, existed := m.read(key)

	if m.txn != nil {
		m.txn.Erase(key)
	} else {
		delete(m.data, string(key))
	}

	return existed, nil
}

func (m *Memory) TxnBegin(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.txn != nil {
		return errors.NewStorageTxnError("transaction already open")
	}

	m.txn = kv.NewOverlay()

	return nil
}

func (m *Memory) TxnCommit(_ context.Context) error {
	m.count("commit")

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.txn == nil {
		return errors.NewStorageTxnError("no open transaction")
	}

	m.txn.Each(func(key, value []byte) {
		if value == nil {
			delete(m.data, string(key))
		} else {
			m.data[string(key)] = value
		}
	})

	m.txn = nil

	return nil
}

func (m *Memory) TxnAbort(_ context.Context) error {
	m.count("abort")

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.txn == nil {
		return errors.NewStorageTxnError("no open transaction")
	}

	m.txn = nil

	return nil
}

func (m *Memory) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()

	if m.closed {
		m.mu.RUnlock()
		return errors.NewStorageUnavailableError("memory store is closed")
	}

	entries := make([]kv.Entry, 0)

	for k, v := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			entries = append(entries, kv.Entry{Key: []byte(k), Value: v})
		}
	}

	if m.txn != nil {
		entries = m.txn.Merge(entries, prefix)
	} else {
		kv.SortEntries(entries)
	}

	m.mu.RUnlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("iteration interrupted", err)
		}

		if err := fn(e.Key, e.Value); err != nil {
			return err
		}
	}

	return nil
}
