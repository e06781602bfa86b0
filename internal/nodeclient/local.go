package nodeclient

import (
	"context"
	"sync"

	"github.com/hnsd-go/hnscore/internal/chaindb"
	"github.com/hnsd-go/hnscore/internal/errs"
	"github.com/hnsd-go/hnscore/internal/namefsm"
	"github.com/hnsd-go/hnscore/pkg/tx"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// LocalClient implements Client directly against a ChainDB running in the
// same process, for a wallet embedded in the node binary. Rescan requires
// the underlying ChainDB to have been opened with chaindb.WithTxIndex;
// without it there is no transaction body to replay.
type LocalClient struct {
	chain *chaindb.ChainDB

	mu     sync.RWMutex
	filter map[types.Address]bool
}

// NewLocalClient wraps chain for in-process wallet use. The filter starts
// empty, matching ResetFilter.
func NewLocalClient(chain *chaindb.ChainDB) *LocalClient {
	return &LocalClient{chain: chain, filter: make(map[types.Address]bool)}
}

func toBlockHeader(e chaindb.Entry) BlockHeader {
	return BlockHeader{
		Hash:     e.Hash,
		PrevHash: e.PrevHash,
		Height:   e.Height,
		Time:     int64(e.Time),
		TreeRoot: e.TreeRoot,
	}
}

func (l *LocalClient) GetTip(ctx context.Context) (BlockHeader, error) {
	e, err := l.chain.GetTip()
	if err != nil {
		return BlockHeader{}, err
	}
	return toBlockHeader(e), nil
}

func (l *LocalClient) GetEntry(ctx context.Context, hash types.Hash) (BlockHeader, error) {
	e, err := l.chain.GetEntry(hash)
	if err != nil {
		return BlockHeader{}, err
	}
	return toBlockHeader(e), nil
}

func (l *LocalClient) GetBlockHeader(ctx context.Context, height uint32) (BlockHeader, error) {
	e, err := l.chain.GetEntryByHeight(height)
	if err != nil {
		return BlockHeader{}, err
	}
	return toBlockHeader(e), nil
}

func (l *LocalClient) GetCoin(ctx context.Context, op types.Outpoint) (chaindb.Coin, bool, error) {
	return l.chain.GetCoin(op)
}

func (l *LocalClient) GetNameStatus(ctx context.Context, nameHash types.Hash) (namefsm.NS, bool, error) {
	return l.chain.GetNameStatus(nameHash)
}

// touchesFilter reports whether t credits or (by previous outpoint lookup)
// plausibly spends a filtered address. Input-side matching is best effort:
// a LocalClient has no historical input-address index, so it only matches
// inputs whose previous output is still in the live coin set.
func (l *LocalClient) touchesFilter(t *tx.Transaction) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.filter) == 0 {
		return true // no filter set means unfiltered, matching ResetFilter's effect
	}
	for _, out := range t.Outputs {
		if l.filter[out.Address] {
			return true
		}
	}
	for _, in := range t.Inputs {
		coin, ok, err := l.chain.GetCoin(in.PrevOut)
		if err == nil && ok && l.filter[coin.Address] {
			return true
		}
	}
	return false
}

func (l *LocalClient) Rescan(ctx context.Context, start uint32, fn func(ScanResult) error) error {
	tip, err := l.chain.GetTip()
	if err != nil {
		return err
	}
	for height := start; height <= tip.Height; height++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, err := l.chain.GetEntryByHeight(height)
		if err != nil {
			return err
		}
		hashes, err := l.chain.GetBlockTxHashes(entry.Hash)
		if errs.Is(err, errs.NotFound) {
			continue
		}
		if err != nil {
			return err
		}
		res := ScanResult{Header: toBlockHeader(entry)}
		for _, h := range hashes {
			t, ok, err := l.chain.GetTransaction(h)
			if err != nil {
				return err
			}
			if !ok {
				return errs.New(errs.Validation, "nodeclient: rescan requires a chaindb opened with WithTxIndex (missing body for %s)", h)
			}
			if l.touchesFilter(t) {
				res.Txs = append(res.Txs, t)
			}
		}
		if len(res.Txs) == 0 {
			continue
		}
		if err := fn(res); err != nil {
			return err
		}
	}
	return nil
}

func (l *LocalClient) SetFilter(addrs []types.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = make(map[types.Address]bool, len(addrs))
	for _, a := range addrs {
		l.filter[a] = true
	}
}

func (l *LocalClient) AddFilter(addr types.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter[addr] = true
}

func (l *LocalClient) ResetFilter() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = make(map[types.Address]bool)
}

// Send has no mempool to submit into from a bare ChainDB; an in-process
// node wires its own mempool in front of this, so LocalClient rejects it
// rather than silently dropping the transaction.
func (l *LocalClient) Send(ctx context.Context, t *tx.Transaction) error {
	return errs.New(errs.Validation, "nodeclient: LocalClient has no mempool; wire internal/mempool before accepting Send")
}

// EstimateFee has the same gap as Send: fee estimation reads recent mempool
// and block fee history, neither of which ChainDB tracks on its own.
func (l *LocalClient) EstimateFee(ctx context.Context, blocks uint32) (FeeEstimate, error) {
	return FeeEstimate{}, errs.New(errs.Validation, "nodeclient: LocalClient has no fee estimator wired")
}
