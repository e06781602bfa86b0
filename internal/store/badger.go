package store

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/hnsd-go/hnscore/internal/errs"
)

// BadgerDB implements DB over Badger, the on-disk backend for both ChainDB
// and WalletDB.
type BadgerDB struct {
	db *badger.DB
}

// OpenBadger opens (creating if absent) a Badger database at path.
func OpenBadger(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Cannot acquire directory lock") ||
			strings.Contains(msg, "resource temporarily unavailable") {
			return nil, errs.Wrap(errs.IO, err, "database at %s is locked by another process", path)
		}
		return nil, errs.Wrap(errs.IO, err, "open database at %s", path)
	}
	return &BadgerDB{db: db}, nil
}

func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, errs.New(errs.NotFound, "key %x", key)
	}
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "get %x", key)
	}
	return val, nil
}

func (b *BadgerDB) Put(key, value []byte) error {
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}); err != nil {
		return errs.Wrap(errs.IO, err, "put %x", key)
	}
	return nil
}

func (b *BadgerDB) Delete(key []byte) error {
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return errs.Wrap(errs.IO, err, "delete %x", key)
	}
	return nil
}

func (b *BadgerDB) Has(key []byte) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, errs.Wrap(errs.IO, err, "has %x", key)
	}
	return exists, nil
}

// Iterate walks [low, high) in ascending key order. high==nil means no
// upper bound.
func (b *BadgerDB) Iterate(low, high []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(low); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if high != nil && string(key) >= string(high) {
				break
			}
			var callErr error
			if err := item.Value(func(val []byte) error {
				callErr = fn(key, val)
				return nil
			}); err != nil {
				return err
			}
			if callErr != nil {
				return callErr
			}
		}
		return nil
	})
}

// NewBatch returns a Badger-backed atomic write batch.
func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{wb: b.db.NewWriteBatch()}
}

type badgerBatch struct {
	wb *badger.WriteBatch
}

func (bb *badgerBatch) Put(key, value []byte) error {
	if err := bb.wb.Set(key, value); err != nil {
		return errs.Wrap(errs.IO, err, "batch put %x", key)
	}
	return nil
}

func (bb *badgerBatch) Delete(key []byte) error {
	if err := bb.wb.Delete(key); err != nil {
		return errs.Wrap(errs.IO, err, "batch delete %x", key)
	}
	return nil
}

func (bb *badgerBatch) Commit() error {
	if err := bb.wb.Flush(); err != nil {
		return errs.Wrap(errs.IO, err, "batch commit")
	}
	return nil
}

func (b *BadgerDB) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}
