// Package miner assembles block templates from the chain tip and the
// mempool, and seals them with a consensus.Engine.
package miner

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/hnsd-go/hnscore/config"
	"github.com/hnsd-go/hnscore/internal/chaindb"
	"github.com/hnsd-go/hnscore/internal/consensus"
	"github.com/hnsd-go/hnscore/internal/log"
	"github.com/hnsd-go/hnscore/pkg/block"
	"github.com/hnsd-go/hnscore/pkg/covenant"
	"github.com/hnsd-go/hnscore/pkg/tx"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// ChainTip provides the chain state a block template is built on top of.
// *internal/chaindb.ChainDB satisfies this directly.
type ChainTip interface {
	GetTip() (chaindb.Entry, error)
	TreeRoot() types.Hash
}

// MempoolSelector selects transactions for block inclusion.
type MempoolSelector interface {
	SelectForBlock(limit int) []*tx.Transaction
	GetFee(txHash types.Hash) uint64
}

// SupplyFunc returns the current total HNS supply already in circulation.
type SupplyFunc func() uint64

// Miner assembles block templates on top of the chain tip.
type Miner struct {
	chain        ChainTip
	engine       consensus.Engine
	pool         MempoolSelector
	coinbaseAddr types.Address
	blockReward  uint64
	maxSupply    uint64 // 0 = unlimited
	supplyFn     SupplyFunc
	maxBlockTxs  int
}

// New creates a block producer targeting coinbaseAddr for the block reward
// plus fees. supplyFn and maxSupply may both be zero/nil to disable the
// supply cap check (useful for test nets with unbounded issuance).
func New(chain ChainTip, engine consensus.Engine, pool MempoolSelector,
	coinbaseAddr types.Address, blockReward, maxSupply uint64, supplyFn SupplyFunc) *Miner {
	return &Miner{
		chain:        chain,
		engine:       engine,
		pool:         pool,
		coinbaseAddr: coinbaseAddr,
		blockReward:  blockReward,
		maxSupply:    maxSupply,
		supplyFn:     supplyFn,
		maxBlockTxs:  config.MaxBlockTxs,
	}
}

// ProduceBlock builds, seals, and returns a new block using the current
// time. The block is not connected to the chain; call chaindb.Connect.
func (m *Miner) ProduceBlock() (*block.Block, error) {
	return m.produceBlock(context.Background(), uint64(time.Now().Unix()))
}

// ProduceBlockAt is like ProduceBlock but uses the given timestamp,
// bumped to at least tip.Time+1 to guarantee monotonicity.
func (m *Miner) ProduceBlockAt(timestamp uint64) (*block.Block, error) {
	return m.produceBlock(context.Background(), timestamp)
}

// ProduceBlockCtx builds and seals a block with cancellation support: when
// ctx is done, PoW sealing stops and returns an error.
func (m *Miner) ProduceBlockCtx(ctx context.Context) (*block.Block, error) {
	return m.produceBlock(ctx, uint64(time.Now().Unix()))
}

func (m *Miner) produceBlock(ctx context.Context, timestamp uint64) (*block.Block, error) {
	tip, err := m.chain.GetTip()
	if err != nil {
		return nil, fmt.Errorf("miner: get tip: %w", err)
	}
	if timestamp <= tip.Time {
		timestamp = tip.Time + 1
	}

	var selected []*tx.Transaction
	var totalFees uint64
	if m.pool != nil {
		selected = m.pool.SelectForBlock(m.maxBlockTxs - 1) // reserve a slot for coinbase
		for _, t := range selected {
			totalFees += m.pool.GetFee(t.Hash())
		}
	}

	reward := m.blockReward
	if m.maxSupply > 0 && m.supplyFn != nil {
		currentSupply := m.supplyFn()
		if currentSupply >= m.maxSupply {
			reward = 0
		} else if currentSupply+reward > m.maxSupply {
			reward = m.maxSupply - currentSupply
		}
	}

	// Canonical order: coinbase first, remaining transactions by hash ascending.
	sort.Slice(selected, func(i, j int) bool {
		hi, hj := selected[i].Hash(), selected[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	coinbase := BuildCoinbase(m.coinbaseAddr, reward+totalFees, uint64(tip.Height)+1)
	txs := make([]*tx.Transaction, 0, 1+len(selected))
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}
	merkle := block.ComputeMerkleRoot(txHashes)

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   tip.Hash,
		MerkleRoot: merkle,
		TreeRoot:   m.chain.TreeRoot(),
		Timestamp:  timestamp,
		Height:     uint64(tip.Height) + 1,
	}

	if err := m.engine.Prepare(header); err != nil {
		return nil, fmt.Errorf("prepare header: %w", err)
	}

	blk := block.NewBlock(header, txs)

	if pow, ok := m.engine.(*consensus.PoW); ok {
		if err := pow.SealWithCancel(ctx, blk); err != nil {
			return nil, fmt.Errorf("seal block: %w", err)
		}
	} else if err := m.engine.Seal(blk); err != nil {
		return nil, fmt.Errorf("seal block: %w", err)
	}

	log.Miner.Info().Uint64("height", header.Height).Str("hash", header.Hash().String()).Int("txs", len(txs)).Uint64("reward", reward+totalFees).Msg("produced block")
	return blk, nil
}

// BuildCoinbase creates a coinbase transaction paying reward to addr. The
// block height is stuffed into the zero-outpoint input's signature field so
// that coinbase transactions at different heights never collide on hash,
// mirroring BIP34.
func BuildCoinbase(addr types.Address, reward, height uint64) *tx.Transaction {
	heightBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(heightBytes, height)

	return &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut:   types.Outpoint{}, // zero outpoint marks coinbase
			Signature: heightBytes,
		}},
		Outputs: []tx.Output{{
			Value:    reward,
			Address:  addr,
			Covenant: covenant.Covenant{Type: covenant.None},
		}},
	}
}
