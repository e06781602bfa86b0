// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: defined in genesis, immutable, must match across all nodes
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies which network a node or wallet is joined to.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Regtest NetworkType = "regtest"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration. These settings can vary
// between nodes without breaking consensus.
type Config struct {
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	RPC    RPCConfig
	Wallet WalletConfig
	Chain  ChainFlags
	Log    LogConfig
}

// RPCConfig holds the node's client-facing surface settings, consumed by
// internal/nodeclient's HTTP adapter.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"`
}

// WalletConfig holds wallet settings.
type WalletConfig struct {
	Enabled  bool   `conf:"wallet.enabled"`
	FilePath string `conf:"wallet.file"`
}

// ChainFlags are the operator flags recognized by ChainDB, WalletDB, and the
// migration framework: chain-migrate, wallet-migrate, prune, spv,
// compact-tree-on-init, compact-tree-init-interval.
type ChainFlags struct {
	// ChainMigrate authorizes chain migrations up to this ID. 0 means no
	// migration beyond what's already applied is authorized.
	ChainMigrate int64 `conf:"chain-migrate"`
	// WalletMigrate authorizes wallet migrations up to this ID.
	WalletMigrate int64 `conf:"wallet-migrate"`
	// Prune forbids migrations that need historical blocks not retained by
	// a pruned node and enables their skip rules.
	Prune bool `conf:"prune"`
	// SPV applies the same migration skip rules as Prune, for a node that
	// never held full blocks in the first place.
	SPV bool `conf:"spv"`
	// CompactTreeOnInit triggers tree compaction on boot once the chain is
	// long enough and CompactTreeInitInterval blocks have passed since the
	// last compaction.
	CompactTreeOnInit      bool   `conf:"compact-tree-on-init"`
	CompactTreeInitInterval uint32 `conf:"compact-tree-init-interval"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.hnscore
//	macOS:   ~/Library/Application Support/Hnscore
//	Windows: %APPDATA%\Hnscore
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hnscore"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Hnscore")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Hnscore")
		}
		return filepath.Join(home, "AppData", "Roaming", "Hnscore")
	default:
		return filepath.Join(home, ".hnscore")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// ChainDir returns the ChainDB directory (entries, coins, undo, name table).
func (c *Config) ChainDir() string {
	return filepath.Join(c.ChainDataDir(), "chain")
}

// TreeDir returns the authenticated name tree's directory.
func (c *Config) TreeDir() string {
	return filepath.Join(c.ChainDataDir(), "tree")
}

// BlocksDir returns the block storage directory.
func (c *Config) BlocksDir() string {
	return filepath.Join(c.ChainDataDir(), "blocks")
}

// WalletDir returns the wallet storage directory.
func (c *Config) WalletDir() string {
	return filepath.Join(c.ChainDataDir(), "wallet")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ChainDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "hnscore.conf")
}
