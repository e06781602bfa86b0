// Package urkel implements the authenticated tree contract: a map from
// 32-byte keys to arbitrary byte values, committed in batches ("tree
// intervals") to a single root hash, with historical-root restoration,
// compaction, and archival reconstruction.
//
// Internally this is a sorted-leaf binary merkle tree, generalized from a
// one-shot commitment over a whole set into a persistent,
// incrementally-updated structure with a transient txn layer and a root
// history log, rather than a full radix trie — it satisfies the same
// get/insert/remove/commit/inject/compact/reconstruct contract while
// staying inside what a merkle-over-sorted-leaves structure can express.
package urkel

import (
	"encoding/json"
	"sort"

	"github.com/hnsd-go/hnscore/internal/errs"
	"github.com/hnsd-go/hnscore/internal/store"
	"github.com/hnsd-go/hnscore/pkg/chainhash"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// Key layout within the PrefixDB handed to Open:
//
//	leaf/<key>       -> value bytes, for every currently-live leaf
//	root/<idx BE>    -> committed root hash, one per tree-interval commit
//	diff/<idx BE>    -> the set of leaf changes that commit idx applied,
//	                    letting Inject replay leaf contents forward or
//	                    backward to any root still in the retention window
//	meta             -> {committedRoot, committedIndex, compactionRoot,
//	                    compactionHeight, nextCommitIndex}
const (
	leafPrefix = "leaf/"
	rootPrefix = "root/"
	diffPrefix = "diff/"
	metaKey    = "meta"
)

// RetentionIntervals is how many tree-interval commits back a root stays
// restorable via Inject.
const RetentionIntervals = 8

type meta struct {
	CommittedRoot    types.Hash `json:"committedRoot"`
	CommittedIndex   uint32     `json:"committedIndex"`
	CompactionRoot   types.Hash `json:"compactionRoot"`
	CompactionHeight uint32     `json:"compactionHeight"`
	NextCommitIndex  uint32     `json:"nextCommitIndex"`
}

// diffEntry records what a single commit did to one key, so Inject can
// replay it forward (apply NewValue) or backward (restore OldValue).
type diffEntry struct {
	Key      types.Hash `json:"key"`
	HadOld   bool       `json:"hadOld"`
	OldValue []byte     `json:"oldValue,omitempty"`
	HadNew   bool       `json:"hadNew"`
	NewValue []byte     `json:"newValue,omitempty"`
}

// Tree is the authenticated key-value structure. All persisted state goes
// through db; pending writes accumulate in a transient layer until Commit.
type Tree struct {
	db      store.DB
	meta    meta
	pending map[types.Hash]*pendingOp
}

type pendingOp struct {
	value  []byte
	remove bool
}

// Open loads (or initializes) a Tree over db.
func Open(db store.DB) (*Tree, error) {
	t := &Tree{db: db, pending: make(map[types.Hash]*pendingOp)}
	raw, err := db.Get([]byte(metaKey))
	if errs.Is(err, errs.NotFound) {
		return t, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "urkel: load meta")
	}
	if err := json.Unmarshal(raw, &t.meta); err != nil {
		return nil, errs.Wrap(errs.Corrupt, err, "urkel: decode meta")
	}
	return t, nil
}

// CommittedRoot returns the root as of the last Commit.
func (t *Tree) CommittedRoot() types.Hash {
	return t.meta.CommittedRoot
}

// CommittedIndex returns the commit index CommittedRoot was recorded
// under, so a caller can tell whether a given historical root lies before
// or after the tree's current position without calling Inject.
func (t *Tree) CommittedIndex() uint32 {
	return t.meta.CommittedIndex
}

// FindCommitIndex exposes findCommitIndex for callers that need to
// compare a historical root's position against CommittedIndex before
// deciding whether replaying it with Inject means moving forward or back.
func (t *Tree) FindCommitIndex(root types.Hash) (uint32, bool, error) {
	return t.findCommitIndex(root)
}

// Get returns the value at key, preferring the pending (uncommitted)
// layer over the persisted one.
func (t *Tree) Get(key types.Hash) ([]byte, bool, error) {
	if op, ok := t.pending[key]; ok {
		if op.remove {
			return nil, false, nil
		}
		return op.value, true, nil
	}
	raw, err := t.db.Get(leafKey(key))
	if errs.Is(err, errs.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.IO, err, "urkel: get %x", key)
	}
	return raw, true, nil
}

// Insert stages a key/value write in the pending layer; it does not
// change CommittedRoot until Commit.
func (t *Tree) Insert(key types.Hash, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	t.pending[key] = &pendingOp{value: v}
}

// Remove stages a deletion in the pending layer.
func (t *Tree) Remove(key types.Hash) {
	t.pending[key] = &pendingOp{remove: true}
}

// Commit flushes the pending layer into batch, recomputes the root over
// every live leaf, records it (and a diff log of what changed, for
// Inject) under the next tree-interval index, and returns the new root.
// The caller commits batch atomically alongside whatever chain-state
// writes belong to the same block; a crash between this call and the KV
// batch commit is tolerated since neither side has taken effect yet.
func (t *Tree) Commit(batch store.Batch) (types.Hash, error) {
	pending := t.pending
	t.pending = make(map[types.Hash]*pendingOp)

	keys := make([]types.Hash, 0, len(pending))
	for key := range pending {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return types.Less(keys[i], keys[j]) })

	diffs := make([]diffEntry, 0, len(keys))
	for _, key := range keys {
		op := pending[key]
		oldValue, hadOld, err := t.readLeaf(key)
		if err != nil {
			return types.Hash{}, err
		}
		d := diffEntry{Key: key, HadOld: hadOld, OldValue: oldValue}
		if op.remove {
			if err := batch.Delete(leafKey(key)); err != nil {
				return types.Hash{}, err
			}
		} else {
			d.HadNew = true
			d.NewValue = op.value
			if err := batch.Put(leafKey(key), op.value); err != nil {
				return types.Hash{}, err
			}
		}
		diffs = append(diffs, d)
	}

	// batch has not been applied to db yet (the caller commits it
	// atomically alongside other block writes after Commit returns), so
	// the root must be computed from db's persisted leaves overlaid with
	// this round's pending ops rather than by re-reading db directly.
	root, err := t.computeRootWithPending(pending)
	if err != nil {
		return types.Hash{}, err
	}

	idx := t.meta.NextCommitIndex
	if err := batch.Put(rootKey(idx), root[:]); err != nil {
		return types.Hash{}, err
	}
	rawDiff, err := json.Marshal(diffs)
	if err != nil {
		return types.Hash{}, errs.Wrap(errs.Corrupt, err, "urkel: encode diff")
	}
	if err := batch.Put(diffKey(idx), rawDiff); err != nil {
		return types.Hash{}, err
	}
	t.meta.CommittedRoot = root
	t.meta.CommittedIndex = idx
	t.meta.NextCommitIndex = idx + 1

	rawMeta, err := json.Marshal(t.meta)
	if err != nil {
		return types.Hash{}, errs.Wrap(errs.Corrupt, err, "urkel: encode meta")
	}
	if err := batch.Put([]byte(metaKey), rawMeta); err != nil {
		return types.Hash{}, err
	}

	t.pruneOldRoots(batch, idx)
	return root, nil
}

// readLeaf returns the currently-persisted value for key, ignoring the
// pending layer.
func (t *Tree) readLeaf(key types.Hash) ([]byte, bool, error) {
	raw, err := t.db.Get(leafKey(key))
	if errs.Is(err, errs.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.IO, err, "urkel: read leaf %x", key)
	}
	return raw, true, nil
}

// computeRootWithPending recomputes the merkle root over every currently
// live leaf in sorted key order. pending overlays this round's
// not-yet-applied writes on top of
// db's persisted leaves, so a key inserted or removed in the same round as
// this commit is reflected even though batch has not been applied to db.
func (t *Tree) computeRootWithPending(pending map[types.Hash]*pendingOp) (types.Hash, error) {
	live := make(map[types.Hash]struct{})
	err := store.ForEachPrefix(t.db, []byte(leafPrefix), func(key, _ []byte) error {
		var h types.Hash
		copy(h[:], key)
		live[h] = struct{}{}
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	for key, op := range pending {
		if op.remove {
			delete(live, key)
		} else {
			live[key] = struct{}{}
		}
	}
	keys := make([]types.Hash, 0, len(live))
	for k := range live {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return types.Less(keys[i], keys[j]) })
	return merkleRoot(keys), nil
}

func merkleRoot(leaves []types.Hash) types.Hash {
	if len(leaves) == 0 {
		return types.Hash{}
	}
	level := make([]types.Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = chainhash.Concat(level[i], level[i+1])
		}
		level = next
	}
	return level[0]
}

// Inject restores the leaf table to the state it held at a historical
// root, replaying the diff log forward or backward between the tree's
// current commit index and the target root's, then repoints
// CommittedRoot. Get(k) immediately after Inject(R) returns the value
// k held at R. Fails if R has fallen outside the retention window.
func (t *Tree) Inject(batch store.Batch, root types.Hash) error {
	targetIdx, found, err := t.findCommitIndex(root)
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.NotFound, "urkel: root %x not in retention window", root)
	}

	switch {
	case targetIdx < t.meta.CommittedIndex:
		for idx := t.meta.CommittedIndex; idx > targetIdx; idx-- {
			diffs, err := t.readDiff(idx)
			if err != nil {
				return err
			}
			for _, d := range diffs {
				if d.HadOld {
					if err := batch.Put(leafKey(d.Key), d.OldValue); err != nil {
						return err
					}
				} else if err := batch.Delete(leafKey(d.Key)); err != nil {
					return err
				}
			}
		}
	case targetIdx > t.meta.CommittedIndex:
		for idx := t.meta.CommittedIndex + 1; idx <= targetIdx; idx++ {
			diffs, err := t.readDiff(idx)
			if err != nil {
				return err
			}
			for _, d := range diffs {
				if d.HadNew {
					if err := batch.Put(leafKey(d.Key), d.NewValue); err != nil {
						return err
					}
				} else if err := batch.Delete(leafKey(d.Key)); err != nil {
					return err
				}
			}
		}
	}

	t.meta.CommittedRoot = root
	t.meta.CommittedIndex = targetIdx
	rawMeta, err := json.Marshal(t.meta)
	if err != nil {
		return errs.Wrap(errs.Corrupt, err, "urkel: encode meta")
	}
	return batch.Put([]byte(metaKey), rawMeta)
}

// findCommitIndex looks up the commit index whose root/<idx> entry equals
// root, within whatever history pruneOldRoots has kept.
func (t *Tree) findCommitIndex(root types.Hash) (uint32, bool, error) {
	var idx uint32
	found := false
	err := store.ForEachPrefix(t.db, []byte(rootPrefix), func(key, value []byte) error {
		var h types.Hash
		copy(h[:], value)
		if h == root {
			idx = decodeIdx(key[len(rootPrefix):])
			found = true
		}
		return nil
	})
	return idx, found, err
}

func (t *Tree) readDiff(idx uint32) ([]diffEntry, error) {
	raw, err := t.db.Get(diffKey(idx))
	if err != nil {
		return nil, errs.Wrap(errs.Corrupt, err, "urkel: missing diff for commit %d", idx)
	}
	var diffs []diffEntry
	if err := json.Unmarshal(raw, &diffs); err != nil {
		return nil, errs.Wrap(errs.Corrupt, err, "urkel: decode diff %d", idx)
	}
	return diffs, nil
}

// Compact deletes root-history and diff entries older than the retention
// window relative to the current commit index. It is idempotent: calling
// it twice with no intervening Commit leaves the history unchanged.
func (t *Tree) Compact(batch store.Batch) error {
	t.pruneOldRoots(batch, t.meta.NextCommitIndex-1)
	t.meta.CompactionRoot = t.meta.CommittedRoot
	return nil
}

func (t *Tree) pruneOldRoots(batch store.Batch, latestIdx uint32) {
	if latestIdx < RetentionIntervals {
		return
	}
	cutoff := latestIdx - RetentionIntervals
	for idx := uint32(0); idx < cutoff; idx++ {
		batch.Delete(rootKey(idx))
		batch.Delete(diffKey(idx))
	}
}

// Reconstruct rebuilds the full root history from undo data supplied by
// the caller (ChainDB, which owns block/undo storage) — archival mode
// only.
func (t *Tree) Reconstruct(batch store.Batch, rootsByHeight map[uint32]types.Hash) error {
	heights := make([]uint32, 0, len(rootsByHeight))
	for h := range rootsByHeight {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for i, h := range heights {
		if err := batch.Put(rootKey(uint32(i)), rootsByHeight[h][:]); err != nil {
			return err
		}
	}
	t.meta.NextCommitIndex = uint32(len(heights))
	if len(heights) > 0 {
		t.meta.CommittedIndex = t.meta.NextCommitIndex - 1
		t.meta.CommittedRoot = rootsByHeight[heights[len(heights)-1]]
	}
	// Reconstruct only has root hashes, not leaf diffs, so Inject to any
	// root recovered this way is unsupported until a Commit lays down a
	// diff entry on top of it.
	return nil
}

func leafKey(key types.Hash) []byte {
	return append([]byte(leafPrefix), key[:]...)
}

func rootKey(idx uint32) []byte {
	b := []byte(rootPrefix)
	return append(b, encodeIdx(idx)...)
}

func diffKey(idx uint32) []byte {
	b := []byte(diffPrefix)
	return append(b, encodeIdx(idx)...)
}

func encodeIdx(idx uint32) []byte {
	return []byte{byte(idx >> 24), byte(idx >> 16), byte(idx >> 8), byte(idx)}
}

func decodeIdx(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
