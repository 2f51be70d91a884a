package kv

import (
	"bytes"
	"sort"
)

// Overlay holds the staged writes and erases of an open transaction.  A nil
// value marks an erase.
type Overlay struct {
	entries map[string][]byte
}

func NewOverlay() *Overlay {
	return &Overlay{entries: make(map[string][]byte)}
}

// Get returns the staged value of key.  staged is false when the transaction
// did not touch key; found is false when it was erased.
func (o *Overlay) Get(key []byte) (value []byte, found bool, staged bool) {
	v, ok := o.entries[string(key)]
	if !ok {
		return nil, false, false
	}

	return v, v != nil, true
}

func (o *Overlay) Put(key, value []byte) {
	if value == nil {
		value = []byte{}
	}

	o.entries[string(key)] = append([]byte(nil), value...)
}

func (o *Overlay) Erase(key []byte) {
	o.entries[string(key)] = nil
}

func (o *Overlay) Len() int {
	return len(o.entries)
}

// Each calls fn for every staged key, erases have a nil value.
func (o *Overlay) Each(fn func(key []byte, value []byte)) {
	for k, v := range o.entries {
		fn([]byte(k), v)
	}
}

// Entry is a key-value pair collected for ordered iteration.
type Entry struct {
	Key   []byte
	Value []byte
}

// Merge applies the overlay to base, both restricted to prefix, and returns the
// result sorted by key.
func (o *Overlay) Merge(base []Entry, prefix []byte) []Entry {
	merged := make([]Entry, 0, len(base)+len(o.entries))

	for _, e := range base {
		if _, ok := o.entries[string(e.Key)]; ok {
			continue
		}

		merged = append(merged, e)
	}

	for k, v := range o.entries {
		if v == nil || !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}

		merged = append(merged, Entry{Key: []byte(k), Value: v})
	}

	SortEntries(merged)

	return merged
}

func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Key, entries[j].Key) < 0
	})
}
