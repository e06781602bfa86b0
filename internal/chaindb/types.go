// Package chaindb implements the chain database: block/entry storage, the
// coin (UTXO) set, the authenticated name tree's orchestration at
// tree-interval boundaries, and the name-state table, behind connect,
// disconnect, and reorg operations. Coins carry a covenant instead of a
// plain script; every covenant output is additionally applied to
// internal/namefsm, and the accumulated name state is committed to
// internal/urkel at every tree-interval boundary rather than recomputed
// per block.
package chaindb

import (
	"github.com/hnsd-go/hnscore/internal/namefsm"
	"github.com/hnsd-go/hnscore/pkg/covenant"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// Coin is an unspent transaction output that additionally carries a
// covenant.
type Coin struct {
	Outpoint types.Outpoint    `json:"outpoint"`
	Value    uint64            `json:"value"`
	Address  types.Address     `json:"address"`
	Covenant covenant.Covenant `json:"covenant"`
	Height   uint32            `json:"height"`
	Coinbase bool              `json:"coinbase"`
}

// Entry is a block's chain-indexed metadata: enough to walk and compare
// branches without loading the full block body.
type Entry struct {
	Hash         types.Hash `json:"hash"`
	PrevHash     types.Hash `json:"prev_hash"`
	Height       uint32     `json:"height"`
	Time         uint64     `json:"time"`
	Bits         uint32     `json:"bits"`
	TreeRoot     types.Hash `json:"tree_root"`
	ReservedRoot types.Hash `json:"reserved_root"`
	Nonce        uint64     `json:"nonce"`
	// ChainWork is this entry's own work (derived from Bits) added to its
	// parent's cumulative ChainWork; the tip is the entry with the
	// greatest ChainWork, not necessarily the greatest Height.
	ChainWork uint64 `json:"chain_work"`
}

// blockUndo is everything disconnect needs to invert one connect call: the
// full prior value of every coin an input spent (so it can be restored),
// every coin the block created (so they can be deleted),
// and the name-state deltas namefsm.Apply produced for every covenant
// output in the block, in application order.
type blockUndo struct {
	BlockHash     types.Hash          `json:"block_hash"`
	SpentCoins    []Coin              `json:"spent_coins"`
	CreatedCoins  []Coin              `json:"created_coins"`
	TxHashes      []types.Hash        `json:"tx_hashes"`
	NameUndo      []namefsm.FieldUndo `json:"name_undo"`
	TreeCommitted bool                `json:"tree_committed"`
	PriorTreeRoot types.Hash          `json:"prior_tree_root"`
}
