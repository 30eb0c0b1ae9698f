// Package chainspec describes the networks a view call can be proven
// against. A Spec pins the chain id and the go-ethereum fork schedule used
// both to validate block headers and to configure the EVM.
package chainspec

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/hashicorp/go-multierror"

	"github.com/zgate/zgate/crypto"
)

// Chain spec errors.
var (
	ErrUnknownChain  = errors.New("chainspec: unknown chain")
	ErrInvalidHeader = errors.New("chainspec: header violates chain spec")
)

// Spec is the static configuration of a target network.
type Spec struct {
	// Name is the short network name ("mainnet", "sepolia", "dev").
	Name string

	// ChainID is the EIP-155 chain identifier.
	ChainID *big.Int

	// Config is the go-ethereum fork schedule for the network.
	Config *params.ChainConfig
}

var (
	// Mainnet is Ethereum mainnet.
	Mainnet = &Spec{Name: "mainnet", ChainID: params.MainnetChainConfig.ChainID, Config: params.MainnetChainConfig}

	// Sepolia is the Sepolia testnet, the network the default contract lives on.
	Sepolia = &Spec{Name: "sepolia", ChainID: params.SepoliaChainConfig.ChainID, Config: params.SepoliaChainConfig}

	// Dev activates every fork through Prague at genesis. It is used by
	// local development chains and tests.
	Dev = &Spec{Name: "dev", ChainID: big.NewInt(1337), Config: DevChainConfig(big.NewInt(1337))}
)

var registry = map[string]*Spec{
	Mainnet.Name: Mainnet,
	Sepolia.Name: Sepolia,
	Dev.Name:     Dev,
}

// Lookup returns the predefined spec with the given name.
func Lookup(name string) (*Spec, error) {
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChain, name)
	}
	return s, nil
}

// Names returns the sorted names of all predefined specs.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DevChainConfig returns a go-ethereum ChainConfig with all block-number
// forks at 0, the merge at genesis and every timestamp fork through Prague
// at time 0.
func DevChainConfig(chainID *big.Int) *params.ChainConfig {
	zero := big.NewInt(0)
	ts := uint64(0)
	return &params.ChainConfig{
		ChainID:                 new(big.Int).Set(chainID),
		HomesteadBlock:          zero,
		EIP150Block:             zero,
		EIP155Block:             zero,
		EIP158Block:             zero,
		ByzantiumBlock:          zero,
		ConstantinopleBlock:     zero,
		PetersburgBlock:         zero,
		IstanbulBlock:           zero,
		MuirGlacierBlock:        zero,
		BerlinBlock:             zero,
		LondonBlock:             zero,
		ArrowGlacierBlock:       zero,
		GrayGlacierBlock:        zero,
		MergeNetsplitBlock:      zero,
		TerminalTotalDifficulty: zero,
		ShanghaiTime:            &ts,
		CancunTime:              &ts,
		PragueTime:              &ts,
		BlobScheduleConfig: &params.BlobScheduleConfig{
			Cancun: params.DefaultCancunBlobConfig,
			Prague: params.DefaultPragueBlobConfig,
		},
	}
}

// Rules returns the EVM rules active for the given header.
func (s *Spec) Rules(h *types.Header) params.Rules {
	return s.Config.Rules(h.Number, s.isMerged(h), h.Time)
}

// isMerged reports whether the header was produced under proof-of-stake.
func (s *Spec) isMerged(h *types.Header) bool {
	return s.Config.TerminalTotalDifficulty != nil && h.Difficulty != nil && h.Difficulty.Sign() == 0
}

// ForkName returns the name of the latest fork active at the header.
func (s *Spec) ForkName(h *types.Header) string {
	c := s.Config
	switch {
	case c.IsPrague(h.Number, h.Time):
		return "prague"
	case c.IsCancun(h.Number, h.Time):
		return "cancun"
	case c.IsShanghai(h.Number, h.Time):
		return "shanghai"
	case s.isMerged(h):
		return "paris"
	case c.IsLondon(h.Number):
		return "london"
	case c.IsBerlin(h.Number):
		return "berlin"
	default:
		return "pre-berlin"
	}
}

// ValidateHeader checks that the header's optional fields match the fork
// schedule: each fork's fields are present once it is active and absent
// before. All violations are reported together.
func (s *Spec) ValidateHeader(h *types.Header) error {
	if h == nil {
		return fmt.Errorf("%w: nil header", ErrInvalidHeader)
	}
	if h.Number == nil || h.Number.Sign() < 0 {
		return fmt.Errorf("%w: missing block number", ErrInvalidHeader)
	}
	if h.Difficulty == nil {
		return fmt.Errorf("%w: missing difficulty", ErrInvalidHeader)
	}

	var result *multierror.Error
	check := func(active, present bool, field, fork string) {
		switch {
		case active && !present:
			result = multierror.Append(result, fmt.Errorf("%s missing after %s", field, fork))
		case !active && present:
			result = multierror.Append(result, fmt.Errorf("%s present before %s", field, fork))
		}
	}

	c := s.Config
	london := c.IsLondon(h.Number)
	shanghai := c.IsShanghai(h.Number, h.Time)
	cancun := c.IsCancun(h.Number, h.Time)
	prague := c.IsPrague(h.Number, h.Time)

	check(london, h.BaseFee != nil, "base fee", "london")
	check(shanghai, h.WithdrawalsHash != nil, "withdrawals hash", "shanghai")
	check(cancun, h.BlobGasUsed != nil, "blob gas used", "cancun")
	check(cancun, h.ExcessBlobGas != nil, "excess blob gas", "cancun")
	check(cancun, h.ParentBeaconRoot != nil, "parent beacon root", "cancun")
	check(prague, h.RequestsHash != nil, "requests hash", "prague")

	if shanghai && h.Difficulty.Sign() != 0 {
		result = multierror.Append(result, fmt.Errorf("non-zero difficulty %v after the merge", h.Difficulty))
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w (%s, block %v): %v", ErrInvalidHeader, s.Name, h.Number, err)
	}
	return nil
}

// Identity is a digest of the spec's name, chain id and fork schedule. It is
// mixed into the guest program identity so a proof names the network it
// was produced for.
func (s *Spec) Identity() common.Hash {
	forks := fmt.Sprintf("%s|%s|london=%v|ttd=%v|shanghai=%v|cancun=%v|prague=%v",
		s.Name, s.ChainID,
		s.Config.LondonBlock, s.Config.TerminalTotalDifficulty,
		timeString(s.Config.ShanghaiTime), timeString(s.Config.CancunTime), timeString(s.Config.PragueTime))
	return crypto.Keccak256Hash([]byte(forks))
}

func timeString(t *uint64) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprint(*t)
}
