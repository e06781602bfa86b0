package store

// PrefixDB wraps a DB and prepends a fixed prefix to all keys, isolating
// one component's keyspace (e.g. ChainDB's coin table) within a single
// underlying database.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a PrefixDB wrapping inner under the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixDB{inner: inner, prefix: p}
}

func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.prefixed(key))
}

func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.prefixed(key), value)
}

func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.prefixed(key))
}

func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(p.prefixed(key))
}

// Iterate walks [low, high) within this PrefixDB's namespace. The callback
// receives keys with the PrefixDB prefix stripped, so callers see only
// their own logical keyspace.
func (p *PrefixDB) Iterate(low, high []byte, fn func(key, value []byte) error) error {
	fullLow := p.prefixed(low)
	var fullHigh []byte
	if high != nil {
		fullHigh = p.prefixed(high)
	} else {
		// Unbounded within the prefix means "up to the end of the prefix's
		// own range", not the end of the whole keyspace.
		_, fullHigh = PrefixRange(p.prefix)
	}
	return p.inner.Iterate(fullLow, fullHigh, func(key, value []byte) error {
		stripped := key[len(p.prefix):]
		return fn(stripped, value)
	})
}

// DeleteAll removes every key under this PrefixDB's namespace.
func (p *PrefixDB) DeleteAll() error {
	var keys [][]byte
	if err := ForEachPrefix(p.inner, p.prefix, func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	}); err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.inner.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// NewBatch returns a batch that prepends this PrefixDB's prefix to every
// key, delegating to the inner DB's own batch for atomic commit.
func (p *PrefixDB) NewBatch() Batch {
	return &prefixBatch{inner: p.inner.NewBatch(), prefix: p.prefix}
}

type prefixBatch struct {
	inner  Batch
	prefix []byte
}

func (pb *prefixBatch) prefixed(key []byte) []byte {
	out := make([]byte, len(pb.prefix)+len(key))
	copy(out, pb.prefix)
	copy(out[len(pb.prefix):], key)
	return out
}

func (pb *prefixBatch) Put(key, value []byte) error {
	return pb.inner.Put(pb.prefixed(key), value)
}

func (pb *prefixBatch) Delete(key []byte) error {
	return pb.inner.Delete(pb.prefixed(key))
}

func (pb *prefixBatch) Commit() error {
	return pb.inner.Commit()
}

// Close is a no-op: the outer DB owns the underlying handle's lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}
