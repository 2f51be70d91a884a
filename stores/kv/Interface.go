// Package kv provides the transactional key-value store the chain state is persisted in.
package kv

import (
	"context"
)

// Store is a key-value store with a single, store-wide transaction.
//
// Outside a transaction every Write and Erase is applied immediately.  Between
// TxnBegin and TxnCommit writes and erases are staged; reads and iteration see
// the staged state, TxnCommit applies it atomically and TxnAbort discards it.
type Store interface {
	// Read returns the value of key and whether it exists.
	Read(ctx context.Context, key []byte) ([]byte, bool, error)

	// Write stores value under key.  With overwrite false an existing key is
	// left untouched and false is returned.
	Write(ctx context.Context, key, value []byte, overwrite bool) (bool, error)

	// Erase removes key and reports whether it existed.
	Erase(ctx context.Context, key []byte) (bool, error)

	Exists(ctx context.Context, key []byte) (bool, error)

	TxnBegin(ctx context.Context) error
	TxnCommit(ctx context.Context) error
	TxnAbort(ctx context.Context) error

	// Iterate calls fn for every key with the given prefix, in key order.  The
	// slices passed to fn are only valid during the call.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	Health(ctx context.Context, checkLiveness bool) (int, string, error)
	Close(ctx context.Context) error
}
