package store

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/hnsd-go/hnscore/internal/errs"
)

// kvItem is a btree.Item over raw byte keys, used by MemoryDB to support
// ordered range iteration that a plain map cannot provide.
type kvItem struct {
	key   []byte
	value []byte
}

func (a kvItem) Less(than btree.Item) bool {
	return bytes.Compare(a.key, than.(kvItem).key) < 0
}

// MemoryDB implements DB over an in-memory ordered tree. Used by tests and
// by in-process tooling that doesn't need persistence.
type MemoryDB struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// NewMemory creates an empty in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{tree: btree.New(32)}
}

func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item := m.tree.Get(kvItem{key: key})
	if item == nil {
		return nil, errs.New(errs.NotFound, "key %x", key)
	}
	v := item.(kvItem).value
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	m.tree.ReplaceOrInsert(kvItem{key: k, value: v})
	return nil
}

func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Delete(kvItem{key: key})
	return nil
}

func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Get(kvItem{key: key}) != nil, nil
}

func (m *MemoryDB) Iterate(low, high []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	type pair struct{ k, v []byte }
	var pairs []pair
	pivot := kvItem{key: low}
	m.tree.AscendGreaterOrEqual(pivot, func(item btree.Item) bool {
		kv := item.(kvItem)
		if high != nil && bytes.Compare(kv.key, high) >= 0 {
			return false
		}
		pairs = append(pairs, pair{k: kv.key, v: kv.value})
		return true
	})
	m.mu.RUnlock()

	for _, p := range pairs {
		if err := fn(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

type memoryOp struct {
	key    []byte
	value  []byte
	delete bool
}

type memoryBatch struct {
	db  *MemoryDB
	ops []memoryOp
}

func (mb *memoryBatch) Put(key, value []byte) error {
	mb.ops = append(mb.ops, memoryOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (mb *memoryBatch) Delete(key []byte) error {
	mb.ops = append(mb.ops, memoryOp{key: append([]byte(nil), key...), delete: true})
	return nil
}

// Commit applies all buffered writes atomically under a single lock.
func (mb *memoryBatch) Commit() error {
	mb.db.mu.Lock()
	defer mb.db.mu.Unlock()
	for _, op := range mb.ops {
		if op.delete {
			mb.db.tree.Delete(kvItem{key: op.key})
		} else {
			mb.db.tree.ReplaceOrInsert(kvItem{key: op.key, value: op.value})
		}
	}
	return nil
}

func (m *MemoryDB) Close() error {
	return nil
}
