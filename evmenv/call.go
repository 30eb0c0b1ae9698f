package evmenv

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip4844"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/zgate/zgate/chainspec"
)

// Call is a read-only contract call.
type Call struct {
	// Caller is msg.sender; the zero address unless set.
	Caller common.Address

	// To is the contract being called.
	To common.Address

	// Data is the ABI-encoded call data.
	Data []byte
}

// CallResult is the outcome of a successful call.
type CallResult struct {
	Return  []byte
	GasUsed uint64
}

// RevertError carries the revert payload of a reverted call.
type RevertError struct {
	Reason string
	Data   []byte
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%v: %s", ErrCallRevert, e.Reason)
	}
	return fmt.Sprintf("%v: 0x%x", ErrCallRevert, e.Data)
}

// Unwrap lets errors.Is match ErrCallRevert.
func (e *RevertError) Unwrap() error { return ErrCallRevert }

func newRevertError(data []byte) *RevertError {
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		reason = ""
	}
	return &RevertError{Reason: reason, Data: common.CopyBytes(data)}
}

// newBlockContext builds the EVM block context for the committed header.
// BLOCKHASH resolves only the parent; older hashes are not part of the
// commitment and read as zero.
func newBlockContext(h *types.Header, spec *chainspec.Spec) vm.BlockContext {
	number := h.Number.Uint64()
	getHash := func(n uint64) common.Hash {
		if number > 0 && n == number-1 {
			return h.ParentHash
		}
		return common.Hash{}
	}
	baseFee := new(big.Int)
	if h.BaseFee != nil {
		baseFee.Set(h.BaseFee)
	}
	ctx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     getHash,
		Coinbase:    h.Coinbase,
		GasLimit:    h.GasLimit,
		BlockNumber: new(big.Int).Set(h.Number),
		Time:        h.Time,
		Difficulty:  new(big.Int).Set(h.Difficulty),
		BaseFee:     baseFee,
		BlobBaseFee: new(big.Int),
	}
	if h.ExcessBlobGas != nil {
		ctx.BlobBaseFee = eip4844.CalcBlobFee(spec.Config, h)
	}
	if h.Difficulty.Sign() == 0 {
		random := h.MixDigest
		ctx.Random = &random
	}
	return ctx
}

// execute runs call as a static call on statedb at header h. When hooks is
// non-nil it receives the EVM tracing events.
func execute(statedb *state.StateDB, h *types.Header, spec *chainspec.Spec, call Call, hooks *tracing.Hooks) (*CallResult, error) {
	cfg := vm.Config{NoBaseFee: true}
	if hooks != nil {
		cfg.Tracer = hooks
	}
	evm := vm.NewEVM(newBlockContext(h, spec), statedb, spec.Config, cfg)
	evm.SetTxContext(core.NewEVMTxContext(&core.Message{
		From:     call.Caller,
		To:       &call.To,
		GasPrice: new(big.Int),
	}))

	rules := spec.Rules(h)
	to := call.To
	statedb.Prepare(rules, call.Caller, h.Coinbase, &to, vm.ActivePrecompiles(rules), nil)

	gas := h.GasLimit
	ret, leftOver, err := evm.StaticCall(call.Caller, call.To, call.Data, gas)

	// Reads that fell outside the witness leave a database error behind and
	// make every result after them meaningless.
	if dbErr := statedb.Error(); dbErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingWitness, dbErr)
	}
	if err != nil {
		if errors.Is(err, vm.ErrExecutionReverted) {
			return nil, newRevertError(ret)
		}
		return nil, fmt.Errorf("%w: %w: %v", ErrCallRevert, ErrCallFailed, err)
	}
	return &CallResult{Return: common.CopyBytes(ret), GasUsed: gas - leftOver}, nil
}
