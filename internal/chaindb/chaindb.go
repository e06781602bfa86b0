package chaindb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hnsd-go/hnscore/internal/errs"
	"github.com/hnsd-go/hnscore/internal/events"
	"github.com/hnsd-go/hnscore/internal/log"
	"github.com/hnsd-go/hnscore/internal/namefsm"
	"github.com/hnsd-go/hnscore/internal/store"
	"github.com/hnsd-go/hnscore/internal/urkel"
	"github.com/hnsd-go/hnscore/pkg/covenant"
	"github.com/hnsd-go/hnscore/pkg/tx"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// treePrefix isolates the authenticated tree's own leaf/root/meta keys from
// ChainDB's block and coin keyspace within the same underlying db.
var treePrefix = []byte("T")

// chainState is the persisted tip pointer, recovered from the underlying
// store on Open.
type chainState struct {
	TipHash  types.Hash `json:"tip_hash"`
	Height   uint32     `json:"height"`
	HasTip   bool       `json:"has_tip"`
	TreeRoot types.Hash `json:"tree_root"`
}

// ChainDB is the chain database: block/entry storage, the coin (UTXO) set,
// the name-state table, and the authenticated name tree, behind Connect,
// Disconnect, and Reorg. A single mutex serializes all mutation.
type ChainDB struct {
	mu      sync.RWMutex
	db      store.DB
	tree    *urkel.Tree
	fsm     *namefsm.FSM
	bus     *events.Bus
	state   chainState
	txIndex bool
}

// Option configures optional ChainDB behavior at Open time.
type Option func(*ChainDB)

// WithTxIndex makes Connect retain the full body of every transaction it
// sees, so GetTransaction and a node-side Rescan (internal/nodeclient) can
// serve historical transactions to wallets. Off by default, matching a
// pruned full node that only needs the current UTXO and name-tree state;
// mirrors Handshake's own --index-tx node flag.
func WithTxIndex() Option {
	return func(c *ChainDB) { c.txIndex = true }
}

// Open loads (or initializes) a ChainDB over db, which should already be
// scoped to this component's own keyspace (e.g. by store.NewPrefixDB under
// a top-level "chain/" prefix) by the caller.
func Open(db store.DB, params namefsm.Params, bus *events.Bus, opts ...Option) (*ChainDB, error) {
	tree, err := urkel.Open(store.NewPrefixDB(db, treePrefix))
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "chaindb: open tree")
	}

	cdb := &ChainDB{
		db:   db,
		tree: tree,
		fsm:  namefsm.New(params),
		bus:  bus,
	}
	for _, opt := range opts {
		opt(cdb)
	}

	raw, err := db.Get(keyState)
	switch {
	case errs.Is(err, errs.NotFound):
		// Fresh database; Connect will accept a height-0 genesis entry.
		return cdb, nil
	case err != nil:
		return nil, errs.Wrap(errs.IO, err, "chaindb: load state")
	default:
		if err := json.Unmarshal(raw, &cdb.state); err != nil {
			return nil, errs.Wrap(errs.Corrupt, err, "chaindb: decode state")
		}
	}

	if err := cdb.reconcileTreeLocked(); err != nil {
		return nil, err
	}
	return cdb, nil
}

// reconcileTreeLocked compares the tip's recorded tree root against the
// authenticated tree's own committed root. The two are written in the
// same batch by Connect and Disconnect, so they normally never diverge;
// a mismatch means a prior CompactTree run crashed between its rewind,
// compact, and forward-resync batches. A tree behind the recorded root
// is repaired by syncing it forward; a tree ahead of it means some other
// write that should have preceded it never landed, which is not safe to
// paper over, so Open refuses instead of guessing.
func (c *ChainDB) reconcileTreeLocked() error {
	want := c.state.TreeRoot
	got := c.tree.CommittedRoot()
	if want == got {
		return nil
	}
	targetIdx, found, err := c.tree.FindCommitIndex(want)
	if err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: locate chain-state tree root %s", want)
	}
	if !found {
		return errs.New(errs.Corrupt, "chaindb: chain state tree root %s is outside the tree's retention window; cannot reconcile", want)
	}
	if targetIdx < c.tree.CommittedIndex() {
		return errs.New(errs.Corrupt, "chaindb: tree root %s is ahead of chain state's recorded root %s; refusing to open with a torn compaction", got, want)
	}
	if err := c.syncTreeLocked(want); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: sync tree forward to chain state root %s", want)
	}
	log.Chain.Warn().Str("from", got.String()).Str("to", want.String()).Msg("tree root behind chain state on open; resynced forward")
	return nil
}

// syncTreeLocked moves the tree's committed root to target by replaying
// its diff log, in its own batch. Used by reconcileTreeLocked to repair a
// crash-interrupted compaction and by CompactTree to rewind for pruning
// and resync back to the tip afterward.
func (c *ChainDB) syncTreeLocked(target types.Hash) error {
	batch := c.db.NewBatch()
	if err := c.tree.Inject(batch, target); err != nil {
		return err
	}
	return batch.Commit()
}

// GetTip returns the current tip entry. Returns errs.NotFound if the chain
// has no genesis yet.
func (c *ChainDB) GetTip() (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.state.HasTip {
		return Entry{}, errs.New(errs.NotFound, "chaindb: no tip (uninitialized chain)")
	}
	return c.getEntryLocked(c.state.TipHash)
}

// GetEntry returns the block-entry metadata for hash, main-chain or not.
func (c *ChainDB) GetEntry(hash types.Hash) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getEntryLocked(hash)
}

// GetBlockTxHashes returns the ordered transaction hashes connected in the
// block identified by hash. It returns hashes only; full transaction
// bodies are available through GetTransaction when the ChainDB was
// opened with WithTxIndex.
func (c *ChainDB) GetBlockTxHashes(hash types.Hash) ([]types.Hash, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw, err := c.db.Get(blockTxsKey(hash))
	if errs.Is(err, errs.NotFound) {
		return nil, errs.New(errs.NotFound, "chaindb: no tx list for block %s", hash)
	}
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "chaindb: get block tx list for %s", hash)
	}
	var hashes []types.Hash
	if err := json.Unmarshal(raw, &hashes); err != nil {
		return nil, errs.Wrap(errs.Corrupt, err, "chaindb: decode block tx list for %s", hash)
	}
	return hashes, nil
}

// GetTransaction returns the full body of txid if this ChainDB was opened
// with WithTxIndex and has seen it connected. ok is false, with a nil
// error, if txIndex is off or the transaction was never indexed.
func (c *ChainDB) GetTransaction(txid types.Hash) (*tx.Transaction, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.txIndex {
		return nil, false, nil
	}
	raw, err := c.db.Get(txBodyKey(txid))
	if errs.Is(err, errs.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.IO, err, "chaindb: get tx body %s", txid)
	}
	var t tx.Transaction
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false, errs.Wrap(errs.Corrupt, err, "chaindb: decode tx body %s", txid)
	}
	return &t, true, nil
}

func (c *ChainDB) getEntryLocked(hash types.Hash) (Entry, error) {
	raw, err := c.db.Get(entryKey(hash))
	if errs.Is(err, errs.NotFound) {
		return Entry{}, errs.New(errs.NotFound, "chaindb: entry %s not found", hash)
	}
	if err != nil {
		return Entry{}, errs.Wrap(errs.IO, err, "chaindb: get entry %s", hash)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, errs.Wrap(errs.Corrupt, err, "chaindb: decode entry %s", hash)
	}
	return e, nil
}

// GetEntryByHeight returns the main-chain entry at height. Returns
// errs.NotFound if height is not (or no longer) on the main chain.
func (c *ChainDB) GetEntryByHeight(height uint32) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw, err := c.db.Get(heightKey(height))
	if errs.Is(err, errs.NotFound) {
		return Entry{}, errs.New(errs.NotFound, "chaindb: no main-chain entry at height %d", height)
	}
	if err != nil {
		return Entry{}, errs.Wrap(errs.IO, err, "chaindb: get height index %d", height)
	}
	var hash types.Hash
	copy(hash[:], raw)
	return c.getEntryLocked(hash)
}

func (c *ChainDB) getEntryByHeightLocked(height uint32) (Entry, error) {
	raw, err := c.db.Get(heightKey(height))
	if errs.Is(err, errs.NotFound) {
		return Entry{}, errs.New(errs.NotFound, "chaindb: no main-chain entry at height %d", height)
	}
	if err != nil {
		return Entry{}, errs.Wrap(errs.IO, err, "chaindb: get height index %d", height)
	}
	var hash types.Hash
	copy(hash[:], raw)
	return c.getEntryLocked(hash)
}

// AddEntry records a block's entry metadata without connecting it to the
// main chain — used to hold a competing branch's headers until a reorg
// decision is made.
func (c *ChainDB) AddEntry(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(e)
	if err != nil {
		return errs.Wrap(errs.Corrupt, err, "chaindb: encode entry %s", e.Hash)
	}
	if err := c.db.Put(entryKey(e.Hash), raw); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: put entry %s", e.Hash)
	}
	return nil
}

// GetCoin looks up a live coin by outpoint.
func (c *ChainDB) GetCoin(op types.Outpoint) (Coin, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getCoinLocked(op)
}

func (c *ChainDB) getCoinLocked(op types.Outpoint) (Coin, bool, error) {
	raw, err := c.db.Get(coinKey(op))
	if errs.Is(err, errs.NotFound) {
		return Coin{}, false, nil
	}
	if err != nil {
		return Coin{}, false, errs.Wrap(errs.IO, err, "chaindb: get coin %s", op)
	}
	var coin Coin
	if err := json.Unmarshal(raw, &coin); err != nil {
		return Coin{}, false, errs.Wrap(errs.Corrupt, err, "chaindb: decode coin %s", op)
	}
	return coin, true, nil
}

// GetUTXO implements tx.UTXOProvider.
func (c *ChainDB) GetUTXO(op types.Outpoint) (uint64, types.Address, covenant.Covenant, error) {
	coin, ok, err := c.GetCoin(op)
	if err != nil {
		return 0, types.Address{}, covenant.Covenant{}, err
	}
	if !ok {
		return 0, types.Address{}, covenant.Covenant{}, errs.New(errs.NotFound, "chaindb: coin %s not found", op)
	}
	return coin.Value, coin.Address, coin.Covenant, nil
}

// HasUTXO implements tx.UTXOProvider.
func (c *ChainDB) HasUTXO(op types.Outpoint) bool {
	_, ok, err := c.GetCoin(op)
	return err == nil && ok
}

// GetNameStatus looks up a name's current state by name hash.
func (c *ChainDB) GetNameStatus(nameHash types.Hash) (namefsm.NS, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getNSLocked(nameHash)
}

func (c *ChainDB) getNSLocked(nameHash types.Hash) (namefsm.NS, bool, error) {
	raw, err := c.db.Get(nameKey(nameHash))
	if errs.Is(err, errs.NotFound) {
		return namefsm.NS{}, false, nil
	}
	if err != nil {
		return namefsm.NS{}, false, errs.Wrap(errs.IO, err, "chaindb: get name %s", nameHash)
	}
	var ns namefsm.NS
	if err := json.Unmarshal(raw, &ns); err != nil {
		return namefsm.NS{}, false, errs.Wrap(errs.Corrupt, err, "chaindb: decode name %s", nameHash)
	}
	return ns, true, nil
}

// nsOverlay resolves name lookups against a connecting block's pending
// writes first, then falls back to the persisted table — so a second
// covenant output for the same name later in the same block sees the
// first output's effect, per namefsm.Lookup's contract.
type nsOverlay struct {
	cdb     *ChainDB
	staged  map[types.Hash]namefsm.NS
	deleted map[types.Hash]bool
}

func (o *nsOverlay) lookup(nameHash types.Hash) (namefsm.NS, bool, error) {
	if o.deleted[nameHash] {
		return namefsm.NS{}, false, nil
	}
	if ns, ok := o.staged[nameHash]; ok {
		return ns, true, nil
	}
	return o.cdb.getNSLocked(nameHash)
}

func (o *nsOverlay) stage(nameHash types.Hash, ns namefsm.NS) {
	delete(o.deleted, nameHash)
	o.staged[nameHash] = ns
}

// Connect applies a block on top of the current tip: it spends every
// input's coin, creates every output's coin, drives covenant outputs
// through namefsm, commits the name tree at tree-interval boundaries, and
// records a blockUndo so Disconnect can invert all of it. entry.PrevHash
// must equal the current tip (or be the zero hash for a height-0 genesis
// entry on an empty database).
func (c *ChainDB) Connect(entry Entry, txs []*tx.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.HasTip {
		if entry.PrevHash != c.state.TipHash {
			return errs.New(errs.Consensus, "chaindb: entry %s does not extend tip %s", entry.Hash, c.state.TipHash)
		}
		if entry.Height != c.state.Height+1 {
			return errs.New(errs.Consensus, "chaindb: entry %s height %d does not follow tip height %d", entry.Hash, entry.Height, c.state.Height)
		}
	} else if entry.Height != 0 {
		return errs.New(errs.Consensus, "chaindb: first connected entry must be height 0, got %d", entry.Height)
	}

	overlay := &nsOverlay{cdb: c, staged: make(map[types.Hash]namefsm.NS), deleted: make(map[types.Hash]bool)}
	undo := blockUndo{BlockHash: entry.Hash}
	batch := c.db.NewBatch()

	for _, t := range txs {
		txHash := t.Hash()
		undo.TxHashes = append(undo.TxHashes, txHash)

		if c.txIndex {
			bodyRaw, err := json.Marshal(t)
			if err != nil {
				return errs.Wrap(errs.Corrupt, err, "chaindb: encode tx body %s", txHash)
			}
			if err := batch.Put(txBodyKey(txHash), bodyRaw); err != nil {
				return errs.Wrap(errs.IO, err, "chaindb: put tx body %s", txHash)
			}
		}

		coinbase := len(t.Inputs) == 1 && t.Inputs[0].PrevOut.IsZero()

		var spentFrom types.Outpoint
		if !coinbase {
			for i, in := range t.Inputs {
				spent, ok, err := c.getCoinLocked(in.PrevOut)
				if err != nil {
					return err
				}
				if !ok {
					return errs.New(errs.Consensus, "chaindb: tx %s input %d spends unknown coin %s", txHash, i, in.PrevOut)
				}
				undo.SpentCoins = append(undo.SpentCoins, spent)
				if err := batch.Delete(coinKey(in.PrevOut)); err != nil {
					return errs.Wrap(errs.IO, err, "chaindb: delete coin %s", in.PrevOut)
				}
				if err := batch.Delete(addrCoinKey(spent.Address, in.PrevOut)); err != nil {
					return errs.Wrap(errs.IO, err, "chaindb: delete addr index for %s", in.PrevOut)
				}
			}
			// Name-lifecycle transactions spend exactly one linked input;
			// its outpoint is the "from" side namefsm needs for ownership
			// checks on REGISTER/UPDATE/RENEW/TRANSFER/FINALIZE/REVOKE.
			if len(t.Inputs) > 0 {
				spentFrom = t.Inputs[0].PrevOut
			}
		}

		if err := batch.Put(txLocKey(txHash), entry.Hash[:]); err != nil {
			return errs.Wrap(errs.IO, err, "chaindb: put tx location %s", txHash)
		}

		for outIdx, out := range t.Outputs {
			op := types.Outpoint{TxID: txHash, Index: uint32(outIdx)}
			coin := Coin{
				Outpoint: op,
				Value:    out.Value,
				Address:  out.Address,
				Covenant: out.Covenant,
				Height:   entry.Height,
				Coinbase: coinbase,
			}

			if out.Covenant.Type != covenant.None {
				nameItem, err := out.Covenant.NameItem()
				if err != nil {
					return errs.Wrap(errs.Validation, err, "chaindb: tx %s output %d", txHash, outIdx)
				}
				if len(nameItem) != types.HashSize {
					return errs.New(errs.Validation, "chaindb: tx %s output %d: name hash must be %d bytes", txHash, outIdx, types.HashSize)
				}
				var nameHash types.Hash
				copy(nameHash[:], nameItem)

				// Only the name hash is ever committed on-chain; the
				// preimage is wallet-side knowledge namefsm never needs.
				ns, fieldUndo, err := c.fsm.Apply(overlay.lookup, namefsm.ApplyInput{
					NameHash:  nameHash,
					Covenant:  out.Covenant,
					Outpoint:  op,
					Value:     out.Value,
					Height:    entry.Height,
					TxIndex:   uint32(len(undo.TxHashes) - 1),
					OutIndex:  uint32(outIdx),
					SpentFrom: spentFrom,
				})
				if err != nil {
					return err
				}
				overlay.stage(nameHash, ns)
				undo.NameUndo = append(undo.NameUndo, fieldUndo)
			}

			raw, err := json.Marshal(coin)
			if err != nil {
				return errs.Wrap(errs.Corrupt, err, "chaindb: encode coin %s", op)
			}
			if err := batch.Put(coinKey(op), raw); err != nil {
				return errs.Wrap(errs.IO, err, "chaindb: put coin %s", op)
			}
			if err := batch.Put(addrCoinKey(out.Address, op), []byte{}); err != nil {
				return errs.Wrap(errs.IO, err, "chaindb: put addr index for %s", op)
			}
			undo.CreatedCoins = append(undo.CreatedCoins, coin)
		}
	}

	for nameHash, ns := range overlay.staged {
		raw, err := json.Marshal(ns)
		if err != nil {
			return errs.Wrap(errs.Corrupt, err, "chaindb: encode name %s", nameHash)
		}
		if err := batch.Put(nameKey(nameHash), raw); err != nil {
			return errs.Wrap(errs.IO, err, "chaindb: put name %s", nameHash)
		}
		c.tree.Insert(nameHash, raw)
	}

	if entry.Height > 0 && entry.Height%c.fsm.Params.TreeInterval == 0 {
		priorRoot := c.tree.CommittedRoot()
		root, err := c.tree.Commit(batch)
		if err != nil {
			return errs.Wrap(errs.IO, err, "chaindb: commit tree at height %d", entry.Height)
		}
		if root != entry.TreeRoot {
			return errs.New(errs.Consensus, "chaindb: entry %s tree root %s does not match computed root %s", entry.Hash, entry.TreeRoot, root)
		}
		undo.TreeCommitted = true
		undo.PriorTreeRoot = priorRoot
		c.bus.Publish(events.Event{Kind: events.TreeCommit, Data: events.TreeCommitData{Root: root, Entry: entry}})
	}

	entryRaw, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.Corrupt, err, "chaindb: encode entry %s", entry.Hash)
	}
	if err := batch.Put(entryKey(entry.Hash), entryRaw); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: put entry %s", entry.Hash)
	}
	var heightBuf [4]byte
	binary.BigEndian.PutUint32(heightBuf[:], entry.Height)
	if err := batch.Put(hashToHeightKey(entry.Hash), heightBuf[:]); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: put hash->height for %s", entry.Hash)
	}
	if err := batch.Put(heightKey(entry.Height), entry.Hash[:]); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: put height index %d", entry.Height)
	}
	if err := batch.Put(keyTip, entry.Hash[:]); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: put tip")
	}
	txHashesRaw, err := json.Marshal(undo.TxHashes)
	if err != nil {
		return errs.Wrap(errs.Corrupt, err, "chaindb: encode block tx list for %s", entry.Hash)
	}
	if err := batch.Put(blockTxsKey(entry.Hash), txHashesRaw); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: put block tx list for %s", entry.Hash)
	}

	undoRaw, err := json.Marshal(undo)
	if err != nil {
		return errs.Wrap(errs.Corrupt, err, "chaindb: encode undo for %s", entry.Hash)
	}
	if err := batch.Put(undoKey(entry.Hash), undoRaw); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: put undo for %s", entry.Hash)
	}

	newTreeRoot := c.state.TreeRoot
	if undo.TreeCommitted {
		newTreeRoot = entry.TreeRoot
	}
	newState := chainState{TipHash: entry.Hash, Height: entry.Height, HasTip: true, TreeRoot: newTreeRoot}
	stateRaw, err := json.Marshal(newState)
	if err != nil {
		return errs.Wrap(errs.Corrupt, err, "chaindb: encode state")
	}
	if err := batch.Put(keyState, stateRaw); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: put state")
	}

	if err := batch.Commit(); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: commit block %s", entry.Hash)
	}

	c.state = newState
	c.bus.Publish(events.Event{Kind: events.Connect, Data: events.ConnectData{Entry: entry, Txs: txs}})
	log.Chain.Debug().Uint32("height", entry.Height).Str("hash", entry.Hash.String()).Int("txs", len(txs)).Msg("connected block")
	return nil
}

// Disconnect reverts the current tip, restoring every coin it spent,
// removing every coin it created, reverting name state, and moving the
// tip back to the disconnected entry's parent. It returns the disconnected
// entry.
func (c *ChainDB) Disconnect() (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.HasTip {
		return Entry{}, errs.New(errs.NotFound, "chaindb: nothing to disconnect")
	}
	tip, err := c.getEntryLocked(c.state.TipHash)
	if err != nil {
		return Entry{}, err
	}

	undoRaw, err := c.db.Get(undoKey(tip.Hash))
	if err != nil {
		return Entry{}, errs.Wrap(errs.Corrupt, err, "chaindb: missing undo for tip %s", tip.Hash)
	}
	var undo blockUndo
	if err := json.Unmarshal(undoRaw, &undo); err != nil {
		return Entry{}, errs.Wrap(errs.Corrupt, err, "chaindb: decode undo for %s", tip.Hash)
	}

	batch := c.db.NewBatch()

	for _, coin := range undo.CreatedCoins {
		if err := batch.Delete(coinKey(coin.Outpoint)); err != nil {
			return Entry{}, errs.Wrap(errs.IO, err, "chaindb: delete coin %s", coin.Outpoint)
		}
		if err := batch.Delete(addrCoinKey(coin.Address, coin.Outpoint)); err != nil {
			return Entry{}, errs.Wrap(errs.IO, err, "chaindb: delete addr index for %s", coin.Outpoint)
		}
	}
	for _, coin := range undo.SpentCoins {
		raw, err := json.Marshal(coin)
		if err != nil {
			return Entry{}, errs.Wrap(errs.Corrupt, err, "chaindb: encode restored coin %s", coin.Outpoint)
		}
		if err := batch.Put(coinKey(coin.Outpoint), raw); err != nil {
			return Entry{}, errs.Wrap(errs.IO, err, "chaindb: restore coin %s", coin.Outpoint)
		}
		if err := batch.Put(addrCoinKey(coin.Address, coin.Outpoint), []byte{}); err != nil {
			return Entry{}, errs.Wrap(errs.IO, err, "chaindb: restore addr index for %s", coin.Outpoint)
		}
	}

	for i := len(undo.NameUndo) - 1; i >= 0; i-- {
		fieldUndo := undo.NameUndo[i]
		ns, shouldDelete := namefsm.Undo(fieldUndo)
		if shouldDelete {
			if err := batch.Delete(nameKey(fieldUndo.NameHash)); err != nil {
				return Entry{}, errs.Wrap(errs.IO, err, "chaindb: delete name %s", fieldUndo.NameHash)
			}
			c.tree.Remove(fieldUndo.NameHash)
			continue
		}
		raw, err := json.Marshal(ns)
		if err != nil {
			return Entry{}, errs.Wrap(errs.Corrupt, err, "chaindb: encode reverted name %s", fieldUndo.NameHash)
		}
		if err := batch.Put(nameKey(fieldUndo.NameHash), raw); err != nil {
			return Entry{}, errs.Wrap(errs.IO, err, "chaindb: revert name %s", fieldUndo.NameHash)
		}
		c.tree.Insert(fieldUndo.NameHash, raw)
	}

	if undo.TreeCommitted {
		root, err := c.tree.Commit(batch)
		if err != nil {
			return Entry{}, errs.Wrap(errs.IO, err, "chaindb: revert tree commit for %s", tip.Hash)
		}
		if root != undo.PriorTreeRoot {
			return Entry{}, errs.New(errs.Corrupt, "chaindb: tree revert for %s produced root %s, want %s", tip.Hash, root, undo.PriorTreeRoot)
		}
	}

	for _, txHash := range undo.TxHashes {
		if err := batch.Delete(txLocKey(txHash)); err != nil {
			return Entry{}, errs.Wrap(errs.IO, err, "chaindb: delete tx location %s", txHash)
		}
		if c.txIndex {
			if err := batch.Delete(txBodyKey(txHash)); err != nil {
				return Entry{}, errs.Wrap(errs.IO, err, "chaindb: delete tx body %s", txHash)
			}
		}
	}
	if err := batch.Delete(blockTxsKey(tip.Hash)); err != nil {
		return Entry{}, errs.Wrap(errs.IO, err, "chaindb: delete block tx list for %s", tip.Hash)
	}

	if err := batch.Delete(heightKey(tip.Height)); err != nil {
		return Entry{}, errs.Wrap(errs.IO, err, "chaindb: delete height index %d", tip.Height)
	}
	if err := batch.Delete(undoKey(tip.Hash)); err != nil {
		return Entry{}, errs.Wrap(errs.IO, err, "chaindb: delete undo for %s", tip.Hash)
	}

	newTreeRoot := c.state.TreeRoot
	if undo.TreeCommitted {
		newTreeRoot = undo.PriorTreeRoot
	}
	newState := chainState{}
	if tip.Height > 0 {
		newState = chainState{TipHash: tip.PrevHash, Height: tip.Height - 1, HasTip: true, TreeRoot: newTreeRoot}
	}
	stateRaw, err := json.Marshal(newState)
	if err != nil {
		return Entry{}, errs.Wrap(errs.Corrupt, err, "chaindb: encode state")
	}
	if newState.HasTip {
		if err := batch.Put(keyTip, newState.TipHash[:]); err != nil {
			return Entry{}, errs.Wrap(errs.IO, err, "chaindb: put tip")
		}
	} else {
		if err := batch.Delete(keyTip); err != nil {
			return Entry{}, errs.Wrap(errs.IO, err, "chaindb: delete tip")
		}
	}
	if err := batch.Put(keyState, stateRaw); err != nil {
		return Entry{}, errs.Wrap(errs.IO, err, "chaindb: put state")
	}

	if err := batch.Commit(); err != nil {
		return Entry{}, errs.Wrap(errs.IO, err, "chaindb: commit disconnect of %s", tip.Hash)
	}

	c.state = newState
	c.bus.Publish(events.Event{Kind: events.Disconnect, Data: events.DisconnectData{Entry: tip}})
	log.Chain.Debug().Uint32("height", tip.Height).Str("hash", tip.Hash.String()).Msg("disconnected block")
	return tip, nil
}

// Reorg disconnects down to (but not including) ancestorHeight, then
// connects each entry in newBranch in order. newBranch must start at
// ancestorHeight+1 and its first entry's PrevHash must equal the ancestor's
// hash. On any failure partway through connecting newBranch, the chain is
// left at whatever tip the successful steps reached — the caller is
// responsible for retrying or giving up on the branch, matching the
// teacher's crash-recovery-by-rebuild posture in Chain.RebuildUTXOs.
func (c *ChainDB) Reorg(ancestorHeight uint32, newBranch []struct {
	Entry Entry
	Txs   []*tx.Transaction
}) error {
	tipBefore, err := c.GetTip()
	if err != nil {
		return err
	}

	for {
		tip, err := c.GetTip()
		if err != nil {
			return err
		}
		if tip.Height <= ancestorHeight {
			break
		}
		if _, err := c.Disconnect(); err != nil {
			return fmt.Errorf("reorg: disconnect from height %d: %w", tip.Height, err)
		}
	}

	for _, step := range newBranch {
		if err := c.Connect(step.Entry, step.Txs); err != nil {
			return fmt.Errorf("reorg: connect %s at height %d: %w", step.Entry.Hash, step.Entry.Height, err)
		}
	}

	tipAfter, err := c.GetTip()
	if err != nil {
		return err
	}
	c.bus.Publish(events.Event{Kind: events.Reorganize, Data: events.ReorganizeData{Tip: tipAfter, Competitor: tipBefore}})
	log.Chain.Info().Uint32("ancestor_height", ancestorHeight).Str("old_tip", tipBefore.Hash.String()).Str("new_tip", tipAfter.Hash.String()).Msg("reorganized chain")
	return nil
}

// CompactTree prunes the name tree's root history outside the retention
// window. Pruning must not discard the diff entries a still-reachable
// root depends on, so it rewinds the tree to the entry at least
// keepBlocks behind tip before calling Tree.Compact, then syncs back
// forward to the tip's own root, publishing TreeCompactStart/
// TreeCompactEnd around the whole operation. Returns errs.ChainTooShort
// if the chain has not yet connected keepBlocks blocks.
func (c *ChainDB) CompactTree(keepBlocks uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip, err := c.getEntryLocked(c.state.TipHash)
	if err != nil {
		return err
	}
	if tip.Height < keepBlocks {
		return errs.New(errs.ChainTooShort, "chaindb: chain height %d is shorter than the %d-block compaction retention window", tip.Height, keepBlocks)
	}
	rewindHeight := tip.Height - keepBlocks
	rewindEntry, err := c.getEntryByHeightLocked(rewindHeight)
	if err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: locate compaction rewind point at height %d", rewindHeight)
	}

	c.bus.Publish(events.Event{Kind: events.TreeCompactStart, Data: events.TreeCompactData{Root: c.tree.CommittedRoot(), Entry: tip}})

	if err := c.syncTreeLocked(rewindEntry.TreeRoot); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: rewind tree to height %d before compaction", rewindHeight)
	}

	batch := c.db.NewBatch()
	if err := c.tree.Compact(batch); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: compact tree")
	}
	if err := batch.Commit(); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: commit tree compaction")
	}

	if err := c.syncTreeLocked(tip.TreeRoot); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: resync tree to tip height %d after compaction", tip.Height)
	}

	c.bus.Publish(events.Event{Kind: events.TreeCompactEnd, Data: events.TreeCompactData{Root: c.tree.CommittedRoot(), Entry: tip}})
	return nil
}

// MaybeCompactOnInit implements the compact-tree-on-init/
// compact-tree-init-interval startup policy: if enabled and the chain has
// advanced at least intervalBlocks past lastCompactedHeight, it runs
// CompactTree(keepBlocks) and returns the height it ran at so the caller
// can persist it for the next startup. A chain too short to compact, or
// one that hasn't advanced far enough yet, is left untouched and
// lastCompactedHeight is returned unchanged.
func (c *ChainDB) MaybeCompactOnInit(enabled bool, intervalBlocks, lastCompactedHeight, keepBlocks uint32) (uint32, error) {
	if !enabled {
		return lastCompactedHeight, nil
	}
	tip, err := c.GetTip()
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return lastCompactedHeight, nil
		}
		return lastCompactedHeight, err
	}
	if tip.Height < lastCompactedHeight+intervalBlocks {
		return lastCompactedHeight, nil
	}
	if err := c.CompactTree(keepBlocks); err != nil {
		if errs.Is(err, errs.ChainTooShort) {
			return lastCompactedHeight, nil
		}
		return lastCompactedHeight, err
	}
	return tip.Height, nil
}

// ReconstructTree rebuilds the tree's full root history from archived
// per-height roots — an SPV-to-full-archive recovery path. Archival mode
// only; ordinary nodes never need this.
func (c *ChainDB) ReconstructTree(rootsByHeight map[uint32]types.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bus.Publish(events.Event{Kind: events.TreeReconstructStart})
	batch := c.db.NewBatch()
	if err := c.tree.Reconstruct(batch, rootsByHeight); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: reconstruct tree")
	}
	if err := batch.Commit(); err != nil {
		return errs.Wrap(errs.IO, err, "chaindb: commit tree reconstruction")
	}
	c.bus.Publish(events.Event{Kind: events.TreeReconstructEnd})
	return nil
}

// TreeRoot returns the name tree's current committed root.
func (c *ChainDB) TreeRoot() types.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.CommittedRoot()
}
