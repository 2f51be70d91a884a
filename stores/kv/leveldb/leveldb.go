// Package leveldb is a kv.Store on top of goleveldb.  A transaction is staged
// in memory and committed as a single leveldb.Batch.
package leveldb

import (
	"context"
	"net/http"
	"sync"

	ldb "github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	"github.com/btcsuite/goleveldb/leveldb/storage"
	"github.com/btcsuite/goleveldb/leveldb/util"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/stores/kv"
	"github.com/goldcoin/popnode/ulogger"
)

type Store struct {
	mu     sync.RWMutex
	logger ulogger.Logger
	db     *ldb.DB
	path   string
	txn    *kv.Overlay
}

// New opens, or creates, the database at path.
func New(logger ulogger.Logger, path string) (*Store, error) {
	logger.Infof("[LevelDB] opening store at %s", path)

	db, err := ldb.OpenFile(path, &opt.Options{
		Compression: opt.SnappyCompression,
	})
	if err != nil {
		return nil, errors.NewStorageError("could not open leveldb at %s", path, err)
	}

	return &Store{logger: logger, db: db, path: path}, nil
}

// NewInMemory returns a store on goleveldb's memory storage.
func NewInMemory(logger ulogger.Logger) (*Store, error) {
	db, err := ldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.NewStorageError("could not open in-memory leveldb", err)
	}

	return &Store{logger: logger, db: db, path: "memory"}, nil
}

func (s *Store) Health(_ context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "LevelDB Store", nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.db.GetProperty("leveldb.stats"); err != nil {
		return http.StatusServiceUnavailable, "LevelDB Store", errors.NewStorageUnavailableError("leveldb not available", err)
	}

	return http.StatusOK, "LevelDB Store", nil
}

func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txn = nil

	if err := s.db.Close(); err != nil {
		return errors.NewStorageError("error closing leveldb at %s", s.path, err)
	}

	return nil
}

// get reads key through the open transaction. Requires s.mu.
func (s *Store) get(key []byte) ([]byte, bool, error) {
	if s.txn != nil {
		if v, found, staged := s.txn.Get(key); staged {
			return v, found, nil
		}
	}

	v, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, ldb.ErrNotFound) {
			return nil, false, nil
		}

		return nil, false, errors.NewStorageError("error reading key %x", key, err)
	}

	return v, true, nil
}

func (s *Store) Read(_ context.Context, key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, found, err := s.get(key)
	if err != nil || !found {
		return nil, found, err
	}

	return append([]byte(nil), v...), true, nil
}

func (s *Store) Exists(_ context.Context, key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, found, err := s.get(key)

	return found, err
}

func (s *Store) Write(_ context.Context, key, value []byte, overwrite bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !overwrite {
		_, found, err := s.get(key)
		if err != nil {
			return false, err
		}

		if found {
			return false, nil
		}
	}

	if s.txn != nil {
		s.txn.Put(key, value)
		return true, nil
	}

	if err := s.db.Put(key, value, nil); err != nil {
		return false, errors.NewStorageError("error writing key %x", key, err)
	}

	return true, nil
}

func (s *Store) Erase(_ context.Context, key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed, err := s.get(key)
	if err != nil {
		return false, err
	}

	if s.txn != nil {
		s.txn.Erase(key)
		return existed, nil
	}

	if err = s.db.Delete(key, nil); err != nil {
		return false, errors.NewStorageError("error erasing key %x", key, err)
	}

	return existed, nil
}

func (s *Store) TxnBegin(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txn != nil {
		return errors.NewStorageTxnError("transaction already open")
	}

	s.txn = kv.NewOverlay()

	return nil
}

func (s *Store) TxnCommit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txn == nil {
		return errors.NewStorageTxnError("no open transaction")
	}

	batch := new(ldb.Batch)

	s.txn.Each(func(key, value []byte) {
		if value == nil {
			batch.Delete(key)
		} else {
			batch.Put(key, value)
		}
	})

	staged := s.txn.Len()
	s.txn = nil

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.NewStorageTxnError("error committing %d staged entries", staged, err)
	}

	return nil
}

func (s *Store) TxnAbort(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txn == nil {
		return errors.NewStorageTxnError("no open transaction")
	}

	s.txn = nil

	return nil
}

func (s *Store) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()

	if s.txn != nil {
		entries, err := s.collect(prefix)
		if err != nil {
			s.mu.RUnlock()
			return err
		}

		entries = s.txn.Merge(entries, prefix)
		s.mu.RUnlock()

		for _, e := range entries {
			if err = ctx.Err(); err != nil {
				return errors.NewContextCanceledError("iteration interrupted", err)
			}

			if err = fn(e.Key, e.Value); err != nil {
				return err
			}
		}

		return nil
	}

	defer s.mu.RUnlock()

	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("iteration interrupted", err)
		}

		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}

	if err := iter.Error(); err != nil {
		return errors.NewStorageError("error iterating prefix %q", prefix, err)
	}

	return nil
}

func (s *Store) collect(prefix []byte) ([]kv.Entry, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	entries := make([]kv.Entry, 0)

	for iter.Next() {
		entries = append(entries, kv.Entry{
			Key:   append([]byte(nil), iter.Key()...),
			Value: append([]byte(nil), iter.Value()...),
		})
	}

	if err := iter.Error(); err != nil {
		return nil, errors.NewStorageError("error iterating prefix %q", prefix, err)
	}

	return entries, nil
}
