// Package walletdb is a wallet's chain-indexed view of its own transaction
// and coin history: which outputs it can spend, which of its outputs have
// been spent, what each confirmed/unconfirmed transaction looked like, and
// which name auctions it has an outstanding bid or claim on. It is the
// wallet-side counterpart to internal/chaindb, generalized from the
// teacher's internal/wallet coin-selection and keystore primitives plus
// internal/chain.Chain's connect/disconnect/reorg posture, re-pointed at
// a single wallet's own outputs instead of the whole UTXO set.
package walletdb

import (
	"github.com/hnsd-go/hnscore/internal/namefsm"
	"github.com/hnsd-go/hnscore/pkg/covenant"
	"github.com/hnsd-go/hnscore/pkg/tx"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// Credit is one output paid to a watched address, as seen by this wallet.
// Height 0 means unconfirmed (still in the mempool per the wallet's view).
type Credit struct {
	Outpoint types.Outpoint    `json:"outpoint"`
	Value    uint64            `json:"value"`
	Address  types.Address     `json:"address"`
	Covenant covenant.Covenant `json:"covenant"`
	Height   uint32            `json:"height"`
	Spent    bool              `json:"spent"`
	SpentBy  types.Hash        `json:"spent_by,omitempty"`
}

// WTX is a wallet-tracked transaction: the transaction body plus the
// subset of its outputs that paid a watched address and the subset of its
// inputs that spent a credit this wallet already held.
type WTX struct {
	Hash      types.Hash        `json:"hash"`
	Raw       *tx.Transaction   `json:"raw"`
	BlockHash types.Hash        `json:"block_hash,omitempty"`
	Height    uint32            `json:"height"` // 0 = unconfirmed
	Time      int64             `json:"time"`
	Credits   []types.Outpoint  `json:"credits"`   // this tx's own outputs credited to us
	Debits    []types.Outpoint  `json:"debits"`    // our outpoints this tx spent
}

// BlockRecord indexes which of our transactions confirmed in a given
// block, so Disconnect can find and revert them without a full table scan.
type BlockRecord struct {
	Hash   types.Hash   `json:"hash"`
	Height uint32       `json:"height"`
	TxHash []types.Hash `json:"tx_hashes"`
}

// OpenClaim is this wallet's record of a name it currently has a live
// OPEN/BID/REVEAL outstanding on, used to enforce a one-open-per-name-
// per-wallet policy without waiting on a chain round-trip.
type OpenClaim struct {
	NameHash types.Hash     `json:"name_hash"`
	Outpoint types.Outpoint `json:"outpoint"`
	Height   uint32         `json:"height"`
}

// Re-exported so callers of walletdb don't also need to import namefsm
// for the bid-tracking and name-mirror record shapes it already defines.
type (
	BlindBid   = namefsm.BlindBid
	BidReveal  = namefsm.BidReveal
	BlindValue = namefsm.BlindValue
	NS         = namefsm.NS
	FieldUndo  = namefsm.FieldUndo
)
