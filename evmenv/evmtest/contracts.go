package evmtest

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// BalancesSlot is the storage slot of the balances mapping in TokenCode.
const BalancesSlot = 0

// TokenCode is the runtime bytecode of a minimal ERC-20 that only implements
// balanceOf(address) over a mapping at BalancesSlot. Any other selector
// reverts with empty data.
var TokenCode = common.FromHex(
	"600035" + // PUSH1 0 CALLDATALOAD
		"60e01c" + // PUSH1 0xe0 SHR
		"6370a08231" + // PUSH4 balanceOf
		"14" + // EQ
		"601457" + // PUSH1 0x14 JUMPI
		"60006000fd" + // REVERT(0, 0)
		"5b" + // JUMPDEST
		"600435" + // PUSH1 4 CALLDATALOAD
		"600052" + // MSTORE(0, holder)
		"600060205260406000" + // MSTORE(0x20, slot) PUSH1 0x40 PUSH1 0
		"20" + // KECCAK256
		"54" + // SLOAD
		"600052" + // MSTORE(0, balance)
		"60206000f3", // RETURN(0, 0x20)
)

// BalanceSlot returns the storage slot holding holder's balance in
// TokenCode, following the Solidity mapping layout.
func BalanceSlot(holder common.Address) common.Hash {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(holder[:], 32),
		common.LeftPadBytes([]byte{BalancesSlot}, 32),
	)
}

// BalanceProbeCode returns runtime bytecode that returns BALANCE(target) as
// a single word. Calling it touches target without a prior hint.
func BalanceProbeCode(target common.Address) []byte {
	code := []byte{0x73} // PUSH20
	code = append(code, target[:]...)
	code = append(code, common.FromHex("31600052"+"60206000f3")...) // BALANCE MSTORE(0) RETURN(0, 0x20)
	return code
}

// TokenStorage returns the storage of a TokenCode account holding the given
// balances.
func TokenStorage(balances map[common.Address]common.Hash) map[common.Hash]common.Hash {
	s := make(map[common.Hash]common.Hash, len(balances))
	for holder, amount := range balances {
		s[BalanceSlot(holder)] = amount
	}
	return s
}

// BalanceOfData returns the call data of balanceOf(holder).
func BalanceOfData(holder common.Address) []byte {
	data := common.FromHex("70a08231")
	return append(data, common.LeftPadBytes(holder[:], 32)...)
}
