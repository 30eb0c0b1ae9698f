// Package config loads zgate configuration from defaults, a TOML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zgate/zgate/chainspec"
	"github.com/zgate/zgate/contract"
	"github.com/zgate/zgate/log"
)

// Configuration errors.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// DefaultRPCURL is the Sepolia endpoint used when none is configured.
const DefaultRPCURL = "https://rpc2.sepolia.org/"

// DefaultSigningKey is the first well-known development account key. It is
// only used by the sign command.
const DefaultSigningKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// Config holds everything needed to run the pipeline.
type Config struct {
	// RPCURL is the Ethereum JSON-RPC endpoint.
	RPCURL string `toml:"rpc_url"`

	// Chain names the chain spec (mainnet, sepolia, dev).
	Chain string `toml:"chain"`

	// Contract is the ERC-20 token queried for the signer's balance.
	Contract string `toml:"contract"`

	// Block pins the block to prove against; nil means latest. Block 0
	// pins genesis.
	Block *uint64 `toml:"block"`

	// ArtifactDir receives proof.txt, pub.txt and vk.txt.
	ArtifactDir string `toml:"artifact_dir"`

	// Archive optionally names a bolt database that keeps every run.
	Archive string `toml:"archive"`

	// ProveTimeout bounds proving; 0 means no bound.
	ProveTimeout time.Duration `toml:"prove_timeout"`

	// ProofCacheSize is the number of proof responses kept in memory.
	ProofCacheSize int `toml:"proof_cache_size"`

	// MetricsFile, when set, receives Prometheus metrics after each run.
	MetricsFile string `toml:"metrics_file"`

	// SigningKey is the hex private key used by the sign command.
	SigningKey string `toml:"signing_key"`

	Log LogConfig `toml:"log"`

	// ConfigFile is the path the config was loaded from, if any.
	ConfigFile string `toml:"-"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RPCURL:         DefaultRPCURL,
		Chain:          chainspec.Sepolia.Name,
		Contract:       contract.DefaultAddress.Hex(),
		ArtifactDir:    ".",
		ProofCacheSize: 1024,
		SigningKey:     DefaultSigningKey,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads configuration from a TOML file path with defaults
// applied to any unspecified fields. If path is empty, it returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		MergeDefaults(cfg)
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v in %s", ErrInvalidConfig, undecoded, path)
	}
	cfg.ConfigFile = path
	MergeDefaults(cfg)
	return cfg, nil
}

// MergeDefaults fills in any zero-valued fields of cfg with defaults.
func MergeDefaults(cfg *Config) {
	d := DefaultConfig()
	if cfg.RPCURL == "" {
		cfg.RPCURL = d.RPCURL
	}
	if cfg.Chain == "" {
		cfg.Chain = d.Chain
	}
	if cfg.Contract == "" {
		cfg.Contract = d.Contract
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = d.ArtifactDir
	}
	if cfg.ProofCacheSize == 0 {
		cfg.ProofCacheSize = d.ProofCacheSize
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = d.SigningKey
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}

// ApplyEnvironment overrides fields from the environment: RPC_URL,
// SIGNING_KEY and ZGATE_* for the rest.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("SIGNING_KEY"); v != "" {
		cfg.SigningKey = v
	}
	if v := os.Getenv("ZGATE_CHAIN"); v != "" {
		cfg.Chain = v
	}
	if v := os.Getenv("ZGATE_CONTRACT"); v != "" {
		cfg.Contract = v
	}
	if v := os.Getenv("ZGATE_BLOCK"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Block = &n
		}
	}
	if v := os.Getenv("ZGATE_ARTIFACT_DIR"); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv("ZGATE_PROVE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ProveTimeout = d
		}
	}
	if v := os.Getenv("ZGATE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if _, err := chainspec.Lookup(c.Chain); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("%w: contract %q is not an address", ErrInvalidConfig, c.Contract)
	}
	u, err := url.Parse(c.RPCURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: rpc url %q", ErrInvalidConfig, c.RPCURL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%w: unsupported rpc scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if c.ArtifactDir == "" {
		return fmt.Errorf("%w: artifact dir must not be empty", ErrInvalidConfig)
	}
	if c.ProveTimeout < 0 {
		return fmt.Errorf("%w: negative prove timeout %v", ErrInvalidConfig, c.ProveTimeout)
	}
	if c.ProofCacheSize < 0 {
		return fmt.Errorf("%w: negative proof cache size %d", ErrInvalidConfig, c.ProofCacheSize)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Spec returns the configured chain spec.
func (c *Config) Spec() (*chainspec.Spec, error) { return chainspec.Lookup(c.Chain) }

// ContractAddress returns the configured token address.
func (c *Config) ContractAddress() common.Address { return common.HexToAddress(c.Contract) }

// BlockNumber returns the pinned block, or nil for latest.
func (c *Config) BlockNumber() *uint64 {
	if c.Block == nil {
		return nil
	}
	n := *c.Block
	return &n
}
