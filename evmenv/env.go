package evmenv

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/zgate/zgate/chainspec"
)

// Commitment binds a computation to one block: its number and hash.
type Commitment struct {
	Number uint64
	Hash   common.Hash
}

// String implements fmt.Stringer.
func (c Commitment) String() string {
	return fmt.Sprintf("#%d (%s)", c.Number, c.Hash.Hex())
}

// HeaderCommitment derives the commitment of a header by hashing its fields.
func HeaderCommitment(h *types.Header) Commitment {
	return Commitment{Number: h.Number.Uint64(), Hash: h.Hash()}
}

// Env is a live, network-backed EVM environment pinned to one header.
// All state reads made through it are performed at that header's block.
// An Env is owned by a single pipeline run and is not safe for concurrent
// preflights.
type Env struct {
	backend    Backend
	spec       *chainspec.Spec
	header     *types.Header
	commitment Commitment
}

// Build fetches the header at number (latest when nil), checks it against
// the chain spec and returns an environment bound to its commitment. It
// performs network I/O and does not retry.
func Build(ctx context.Context, backend Backend, number *uint64, spec *chainspec.Spec) (*Env, error) {
	if backend == nil || spec == nil {
		return nil, fmt.Errorf("%w: nil backend or chain spec", ErrEnvironmentBuild)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", ErrEnvironmentBuild, err)
	}
	if chainID == nil || chainID.Cmp(spec.ChainID) != 0 {
		return nil, fmt.Errorf("%w: %w: node reports %v, spec %s expects %v",
			ErrEnvironmentBuild, ErrChainIDMismatch, chainID, spec.Name, spec.ChainID)
	}

	var num *big.Int
	if number != nil {
		num = new(big.Int).SetUint64(*number)
	}
	header, advertised, err := backend.HeaderByNumber(ctx, num)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrEnvironmentBuild, err)
	}
	if header == nil || header.Number == nil {
		return nil, fmt.Errorf("%w: empty header", ErrEnvironmentBuild)
	}
	if number != nil && header.Number.Uint64() != *number {
		return nil, fmt.Errorf("%w: requested block %d, node returned %v", ErrEnvironmentBuild, *number, header.Number)
	}
	if err := spec.ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvironmentBuild, err)
	}
	commitment := HeaderCommitment(header)
	if commitment.Hash != advertised {
		return nil, fmt.Errorf("%w: %w: computed %s, node advertised %s",
			ErrEnvironmentBuild, ErrHeaderHash, commitment.Hash, advertised)
	}
	return &Env{
		backend:    backend,
		spec:       spec,
		header:     header,
		commitment: commitment,
	}, nil
}

// Header returns a copy of the pinned header.
func (e *Env) Header() *types.Header { return types.CopyHeader(e.header) }

// Commitment returns the block commitment all reads are bound to.
func (e *Env) Commitment() Commitment { return e.commitment }

// Spec returns the chain spec the environment was validated against.
func (e *Env) Spec() *chainspec.Spec { return e.spec }

// blockNumber returns the pinned block number as a fresh big.Int.
func (e *Env) blockNumber() *big.Int { return new(big.Int).Set(e.header.Number) }
