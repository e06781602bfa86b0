// Package nodeclient defines the wallet-facing contract a node exposes:
// chain queries, rescan/filter control for SPV-style wallets, and
// transaction submission. internal/nodeclient/local.go implements it
// directly against internal/chaindb for an in-process wallet;
// internal/nodeclient/rpc.go implements it over internal/rpcclient's
// generic JSON-RPC client for a remote wallet.
package nodeclient

import (
	"context"

	"github.com/hnsd-go/hnscore/internal/chaindb"
	"github.com/hnsd-go/hnscore/internal/namefsm"
	"github.com/hnsd-go/hnscore/pkg/tx"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// BlockHeader is the subset of chaindb.Entry a wallet needs to verify a
// block's place in the chain without trusting the node's height claim.
type BlockHeader struct {
	Hash     types.Hash
	PrevHash types.Hash
	Height   uint32
	Time     int64
	TreeRoot types.Hash
}

// ScanResult is one matched block a rescan or interactive scan yields:
// the header plus every transaction that touched the wallet's filter.
type ScanResult struct {
	Header BlockHeader
	Txs    []*tx.Transaction
}

// FeeEstimate is a confirmation-target-to-rate mapping.
type FeeEstimate struct {
	Blocks      uint32
	RatePerByte uint64
}

// Client is the node-to-wallet contract. LocalClient passes ChainDB's
// *errs.Error values (internal/errs) through unchanged; RPCClient returns
// internal/rpcclient's transport errors and *rpcclient.RPCError, not
// *errs.Error.
type Client interface {
	GetTip(ctx context.Context) (BlockHeader, error)
	GetEntry(ctx context.Context, hash types.Hash) (BlockHeader, error)
	GetBlockHeader(ctx context.Context, height uint32) (BlockHeader, error)
	GetCoin(ctx context.Context, op types.Outpoint) (chaindb.Coin, bool, error)
	GetNameStatus(ctx context.Context, nameHash types.Hash) (namefsm.NS, bool, error)

	// Rescan replays every block from start to the current tip through fn,
	// filtered by the client's current Filter. Interactive scanning is
	// Rescan with a fn that reports progress and can return
	// context.Canceled to stop early.
	Rescan(ctx context.Context, start uint32, fn func(ScanResult) error) error

	SetFilter(addrs []types.Address)
	AddFilter(addr types.Address)
	ResetFilter()

	Send(ctx context.Context, t *tx.Transaction) error
	EstimateFee(ctx context.Context, blocks uint32) (FeeEstimate, error)
}
