// Package contract holds the ABI bindings for the contracts a view call is
// proven against.
package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zgate/zgate/evmenv"
)

// DefaultAddress is the Sepolia ERC-20 token gated by default.
var DefaultAddress = common.HexToAddress("0xaA8E23Fb1079EA71e0a56F48a2aA51851D8433D0")

// ErrUnexpectedResult is returned when a call returns data that does not
// decode as the method's outputs.
var ErrUnexpectedResult = errors.New("contract: unexpected call result")

const erc20JSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var erc20ABI = mustParse(erc20JSON)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ERC20 is a token contract at a fixed address.
type ERC20 struct {
	Address common.Address
}

// NewERC20 returns a binding for the token at addr.
func NewERC20(addr common.Address) *ERC20 {
	return &ERC20{Address: addr}
}

// BalanceOfCall returns the call balanceOf(account), sent from the zero
// address.
func (c *ERC20) BalanceOfCall(account common.Address) (evmenv.Call, error) {
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return evmenv.Call{}, err
	}
	return evmenv.Call{To: c.Address, Data: data}, nil
}

// UnpackBalance decodes the return data of balanceOf.
func (c *ERC20) UnpackBalance(ret []byte) (*big.Int, error) {
	out, err := erc20ABI.Unpack("balanceOf", ret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResult, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %d outputs", ErrUnexpectedResult, len(out))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedResult, out[0])
	}
	return balance, nil
}
