package evmenv

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxPreflightRounds bounds the number of discovery rounds. Each round
// fetches the keys the previous execution touched and re-executes; a call
// whose access set keeps growing past this bound is rejected.
const MaxPreflightRounds = 16

// Preflight executes call against the live environment and returns its
// result together with the sealed input that reproduces it offline.
//
// Execution runs only on verified proof data: every round opens the state
// from the nodes fetched so far, records what the call touches and fetches
// whatever was missing. When a round touches nothing new the witness is
// complete and the result of that round is the live result.
func Preflight(ctx context.Context, env *Env, call Call) (*CallResult, *Input, error) {
	touched := make(accessSet)
	touched.addAccount(call.To)

	fetched := make(accessSet)
	witness := newWitnessBuilder()

	for round := 0; round < MaxPreflightRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrPreflightIO, err)
		}
		if err := env.fetch(ctx, touched, fetched, witness); err != nil {
			return nil, nil, err
		}
		input := witness.seal(env.header)
		st, err := input.Open(env.spec)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrPreflightIO, err)
		}
		rec := newAccessRecorder()
		res, execErr := execute(st.db, st.header, st.spec, call, rec.hooks())
		if touched.merge(rec.touched) {
			continue
		}
		if execErr != nil {
			if errors.Is(execErr, ErrMissingWitness) {
				return nil, nil, fmt.Errorf("%w: %w", ErrPreflightIO, execErr)
			}
			return nil, nil, execErr
		}
		return res, input, nil
	}
	return nil, nil, fmt.Errorf("%w: %w after %d rounds", ErrPreflightIO, ErrNotClosed, MaxPreflightRounds)
}

// fetch retrieves and verifies proofs for every key in touched that is not
// yet in fetched, adding the verified nodes and code to the witness.
func (e *Env) fetch(ctx context.Context, touched, fetched accessSet, witness *witnessBuilder) error {
	for _, addr := range touched.accounts() {
		_, known := fetched[addr]
		var missing []common.Hash
		for _, slot := range touched.slots(addr) {
			if !fetched.hasSlot(addr, slot) {
				missing = append(missing, slot)
			}
		}
		if known && len(missing) == 0 {
			continue
		}
		proof, err := e.backend.GetProof(ctx, addr, missing, e.blockNumber())
		if err != nil {
			return fmt.Errorf("%w: proof of %s: %v", ErrPreflightIO, addr, err)
		}
		if proof.Address != addr {
			return fmt.Errorf("%w: %w: requested %s, got %s", ErrPreflightIO, ErrInvalidProof, addr, proof.Address)
		}
		if err := checkSlotsAnswered(proof, missing); err != nil {
			return err
		}
		acc, err := verifyAccountProof(e.header.Root, proof)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPreflightIO, err)
		}
		witness.addNodes(proof.Nodes)
		for _, sp := range proof.Storage {
			witness.addNodes(sp.Nodes)
		}
		if !known && acc != nil {
			if codeHash := common.BytesToHash(acc.CodeHash); codeHash != types.EmptyCodeHash {
				code, err := e.backend.CodeAt(ctx, addr, e.blockNumber())
				if err != nil {
					return fmt.Errorf("%w: code of %s: %v", ErrPreflightIO, addr, err)
				}
				if crypto.Keccak256Hash(code) != codeHash {
					return fmt.Errorf("%w: %w: %s", ErrPreflightIO, ErrCodeHash, addr)
				}
				witness.addCode(code)
			}
		}
		fetched.addAccount(addr)
		for _, slot := range missing {
			fetched.addSlot(addr, slot)
		}
	}
	return nil
}

func checkSlotsAnswered(proof *AccountProof, slots []common.Hash) error {
	answered := make(map[common.Hash]struct{}, len(proof.Storage))
	for _, sp := range proof.Storage {
		answered[sp.Key] = struct{}{}
	}
	for _, slot := range slots {
		if _, ok := answered[slot]; !ok {
			return fmt.Errorf("%w: %w: no proof for slot %s of %s", ErrPreflightIO, ErrInvalidProof, slot, proof.Address)
		}
	}
	return nil
}
