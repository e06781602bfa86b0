package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hnsd-go/hnscore/internal/namefsm"
	"github.com/hnsd-go/hnscore/pkg/chainhash"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Denomination constants.
// 1 coin = 10^6 base units (dollarydoos). All on-chain values are in base units.
const (
	Decimals  = 6
	Coin      = 1_000_000 // 10^6 base units per coin
	MilliCoin = 1_000     // 10^3
)

// CoinbaseMaturity is the number of blocks a coinbase output must wait
// before it can be spent. Prevents issues during reorgs.
const CoinbaseMaturity uint32 = 100

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize  = 2_000_000 // 2 MB max block size (header + all tx signing bytes)
	MaxBlockTxs   = 500       // Max transactions per block (including coinbase)
	MaxTxInputs   = 2500      // Max inputs per transaction
	MaxTxOutputs  = 2500      // Max outputs per transaction
	MaxScriptData = 65_536    // 64 KB max covenant item payload per output
)

// NetworkParams carries the name-auction timing constants consumed by
// internal/namefsm.FSM and internal/urkel's tree-interval orchestration.
// All nodes on a given network MUST agree on these values.
type NetworkParams struct {
	BiddingPeriod  uint32 `json:"bidding_period"`  // blocks an OPEN stays open for bids
	RevealPeriod   uint32 `json:"reveal_period"`   // blocks after bidding closes to reveal
	TreeInterval   uint32 `json:"tree_interval"`    // blocks between tree-root commitments
	TransferLockup uint32 `json:"transfer_lockup"` // blocks a pending TRANSFER must wait before FINALIZE
	RenewalWindow  uint32 `json:"renewal_window"`  // blocks before expiry a RENEW is accepted
	RevokeLockup   uint32 `json:"revoke_lockup"`   // blocks a REVOKEd name stays unspendable
	ClaimPeriod    uint32 `json:"claim_period"`    // blocks during which CLAIM covenants are valid

	// RetentionIntervals bounds how many past tree roots stay injectable
	// after a Compact, per internal/urkel.
	RetentionIntervals uint32 `json:"retention_intervals"`
}

// ToNameFSMParams converts to the internal/namefsm.Params shape.
func (p NetworkParams) ToNameFSMParams() namefsm.Params {
	return namefsm.Params{
		BiddingPeriod:  p.BiddingPeriod,
		RevealPeriod:   p.RevealPeriod,
		TreeInterval:   p.TreeInterval,
		TransferLockup: p.TransferLockup,
		RenewalWindow:  p.RenewalWindow,
		RevokeLockup:   p.RevokeLockup,
		ClaimPeriod:    p.ClaimPeriod,
	}
}

// Genesis holds the genesis block configuration and protocol rules.
// This is immutable after chain launch - changes require a hard fork.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`

	// Genesis block
	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	// Initial allocations (address -> balance in base units)
	Alloc map[string]uint64 `json:"alloc"`

	// Protocol rules
	Protocol ProtocolConfig `json:"protocol"`
}

// ForkSchedule defines block heights at which protocol upgrades activate.
// A zero value means the fork is not scheduled.
type ForkSchedule struct {
	// Future forks are added here as fields.
}

// IsActive returns true if a fork at forkHeight has activated at currentHeight.
// Returns false if forkHeight is 0 (not scheduled).
func (f *ForkSchedule) IsActive(forkHeight, currentHeight uint64) bool {
	return forkHeight > 0 && currentHeight >= forkHeight
}

// ProtocolConfig holds consensus-critical rules.
// All nodes MUST agree on these values.
type ProtocolConfig struct {
	Consensus ConsensusRules `json:"consensus"`
	Names     NetworkParams  `json:"names"`
	Forks     ForkSchedule   `json:"forks,omitempty"`
}

// ConsensusRules defines how blocks are produced and validated.
type ConsensusRules struct {
	BlockTime int `json:"block_time"` // target seconds between blocks

	InitialBits      uint32 `json:"initial_bits"`      // PoW starting target, compact form
	DifficultyAdjust int    `json:"difficulty_adjust"` // blocks between retargets

	BlockReward     uint64 `json:"block_reward"`               // base units per block before halving
	MaxSupply       uint64 `json:"max_supply"`                 // total coin cap in base units (0 = unlimited)
	HalvingInterval uint64 `json:"halving_interval,omitempty"` // blocks between reward halvings (0 = no halving)
	MinFeeRate      uint64 `json:"min_fee_rate"`               // minimum fee rate, base units per byte of SigningBytes
}

// =============================================================================
// Testnet Identity
//
// Derived from the well-known BIP-39 test mnemonic (DO NOT use on mainnet):
//
//	abandon abandon abandon abandon abandon abandon abandon abandon
//	abandon abandon abandon abandon abandon abandon abandon abandon
//	abandon abandon abandon abandon abandon abandon abandon art
//
// Derivation path: m/44'/5353'/0'/0/0 (no passphrase)
// =============================================================================

const (
	// TestnetMnemonic is the well-known seed phrase for testnet faucet funds.
	TestnetMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

	// TestnetAddress is the address (bech32, ts1...) derived from TestnetMnemonic.
	TestnetAddress = "ts1qdrn0h7jcyjn45sxp9t8rnp4k0dxz8xzvx0k4j3"
)

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "hnscore-mainnet-1",
		ChainName: "HNS Core Mainnet",
		Symbol:    "HNS",
		Timestamp: 1544121600, // 2018-12-06 18:40 UTC
		ExtraData: "HNS Core Genesis",
		Alloc:     map[string]uint64{},
		Protocol: ProtocolConfig{
			Consensus: ConsensusRules{
				BlockTime:        600, // 10 minute blocks
				InitialBits:      0x1c00ffff,
				DifficultyAdjust: 2016,
				BlockReward:      2000 * Coin,
				MaxSupply:        1_360_000_000 * Coin,
				HalvingInterval:  170_000,
				MinFeeRate:       100, // base units per byte
			},
			Names: NetworkParams{
				BiddingPeriod:      5 * 144,  // ~5 days of 10-minute blocks
				RevealPeriod:       10 * 144, // ~10 days
				TreeInterval:       36,
				TransferLockup:     10 * 144,
				RenewalWindow:      2 * 365 * 144,
				RevokeLockup:       10 * 144,
				ClaimPeriod:        2 * 365 * 144,
				RetentionIntervals: 8,
			},
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "hnscore-testnet-1"
	g.ChainName = "HNS Core Testnet"
	g.ExtraData = "HNS Core Testnet Genesis"

	// Shorter windows for faster iteration on testnet.
	g.Protocol.Names.BiddingPeriod = 36
	g.Protocol.Names.RevealPeriod = 36
	g.Protocol.Names.TreeInterval = 8
	g.Protocol.Names.TransferLockup = 48
	g.Protocol.Names.RevokeLockup = 48
	g.Protocol.Consensus.MinFeeRate = 10

	g.Alloc = map[string]uint64{
		TestnetAddress: 200_000 * Coin,
	}

	return g
}

// RegtestGenesis returns the regtest genesis configuration, tuned for fast
// local iteration: a tree interval of 5, per-block difficulty, and no
// minimum fee rate.
func RegtestGenesis() *Genesis {
	g := TestnetGenesis()
	g.ChainID = "hnscore-regtest-1"
	g.ChainName = "HNS Core Regtest"
	g.ExtraData = "HNS Core Regtest Genesis"

	g.Protocol.Consensus.BlockTime = 1
	g.Protocol.Consensus.DifficultyAdjust = 1
	g.Protocol.Consensus.MinFeeRate = 0

	g.Protocol.Names.BiddingPeriod = 5
	g.Protocol.Names.RevealPeriod = 5
	g.Protocol.Names.TreeInterval = 5
	g.Protocol.Names.TransferLockup = 5
	g.Protocol.Names.RenewalWindow = 50
	g.Protocol.Names.RevokeLockup = 5
	g.Protocol.Names.ClaimPeriod = 50
	g.Protocol.Names.RetentionIntervals = 4

	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	case Regtest:
		return RegtestGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}

	if g.Protocol.Consensus.BlockTime <= 0 {
		return fmt.Errorf("block_time must be positive")
	}
	if g.Protocol.Consensus.BlockReward == 0 {
		return fmt.Errorf("block_reward must be positive")
	}
	if g.Protocol.Consensus.InitialBits == 0 {
		return fmt.Errorf("initial_bits must be set")
	}

	if g.Protocol.Names.TreeInterval == 0 {
		return fmt.Errorf("names.tree_interval must be positive")
	}
	if g.Protocol.Names.BiddingPeriod == 0 {
		return fmt.Errorf("names.bidding_period must be positive")
	}
	if g.Protocol.Names.RevealPeriod == 0 {
		return fmt.Errorf("names.reveal_period must be positive")
	}
	if g.Protocol.Names.RetentionIntervals == 0 {
		return fmt.Errorf("names.retention_intervals must be positive")
	}

	// Validate alloc addresses and check total doesn't exceed max supply.
	var totalAlloc uint64
	for addrStr, v := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		totalAlloc += v
	}
	if g.Protocol.Consensus.MaxSupply > 0 && totalAlloc > g.Protocol.Consensus.MaxSupply {
		return fmt.Errorf("genesis allocations (%d) exceed max_supply (%d)",
			totalAlloc, g.Protocol.Consensus.MaxSupply)
	}

	return nil
}

// Hash returns the hash of the genesis configuration, used to identify the
// chain and detect genesis mismatches between peers.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return chainhash.Sum(data), nil
}
