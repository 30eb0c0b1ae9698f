package evmenv

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
)

// accessSet is the set of accounts and storage slots touched by a call.
type accessSet map[common.Address]map[common.Hash]struct{}

// addAccount reports whether addr was not yet in the set.
func (s accessSet) addAccount(addr common.Address) bool {
	if _, ok := s[addr]; ok {
		return false
	}
	s[addr] = make(map[common.Hash]struct{})
	return true
}

// addSlot reports whether the slot was not yet in the set.
func (s accessSet) addSlot(addr common.Address, slot common.Hash) bool {
	added := s.addAccount(addr)
	if _, ok := s[addr][slot]; ok {
		return added
	}
	s[addr][slot] = struct{}{}
	return true
}

func (s accessSet) hasSlot(addr common.Address, slot common.Hash) bool {
	slots, ok := s[addr]
	if !ok {
		return false
	}
	_, ok = slots[slot]
	return ok
}

// merge adds every entry of o and reports whether anything was new.
func (s accessSet) merge(o accessSet) bool {
	grew := false
	for addr, slots := range o {
		if s.addAccount(addr) {
			grew = true
		}
		for slot := range slots {
			if s.addSlot(addr, slot) {
				grew = true
			}
		}
	}
	return grew
}

func (s accessSet) accounts() []common.Address {
	out := make([]common.Address, 0, len(s))
	for addr := range s {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (s accessSet) slots(addr common.Address) []common.Hash {
	out := make([]common.Hash, 0, len(s[addr]))
	for slot := range s[addr] {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// accessRecorder observes EVM execution through tracing hooks and collects
// every account and storage slot the execution reads.
type accessRecorder struct {
	touched accessSet
}

func newAccessRecorder() *accessRecorder {
	return &accessRecorder{touched: make(accessSet)}
}

func (r *accessRecorder) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter:  r.onEnter,
		OnOpcode: r.onOpcode,
	}
}

func (r *accessRecorder) onEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	r.touched.addAccount(to)
}

func (r *accessRecorder) onOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	stack := scope.StackData()
	if len(stack) == 0 {
		return
	}
	top := stack[len(stack)-1]
	switch vm.OpCode(op) {
	case vm.SLOAD, vm.SSTORE:
		r.touched.addSlot(scope.Address(), common.Hash(top.Bytes32()))
	case vm.BALANCE, vm.EXTCODESIZE, vm.EXTCODECOPY, vm.EXTCODEHASH, vm.SELFDESTRUCT:
		r.touched.addAccount(common.Address(top.Bytes20()))
	}
}
