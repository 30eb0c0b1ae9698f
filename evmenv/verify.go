package evmenv

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

// verifyAccountProof checks p against the state root and returns the proven
// account, or nil when the proof shows the account does not exist.
func verifyAccountProof(root common.Hash, p *AccountProof) (*types.StateAccount, error) {
	val, err := trie.VerifyProof(root, crypto.Keccak256(p.Address[:]), proofDB(p.Nodes))
	if err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", ErrInvalidProof, p.Address, err)
	}
	if len(val) == 0 {
		if p.Nonce != 0 || (p.Balance != nil && p.Balance.Sign() != 0) {
			return nil, fmt.Errorf("%w: account %s: claimed fields for absent account", ErrInvalidProof, p.Address)
		}
		if p.CodeHash != (common.Hash{}) && p.CodeHash != types.EmptyCodeHash {
			return nil, fmt.Errorf("%w: account %s: code hash for absent account", ErrInvalidProof, p.Address)
		}
		for _, sp := range p.Storage {
			if sp.Value != nil && sp.Value.Sign() != 0 {
				return nil, fmt.Errorf("%w: account %s: storage for absent account", ErrInvalidProof, p.Address)
			}
		}
		return nil, nil
	}
	acc, err := types.FullAccount(val)
	if err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", ErrInvalidProof, p.Address, err)
	}
	switch {
	case acc.Nonce != p.Nonce:
		return nil, fmt.Errorf("%w: account %s: nonce %d, proof %d", ErrInvalidProof, p.Address, p.Nonce, acc.Nonce)
	case p.Balance == nil || acc.Balance.ToBig().Cmp(p.Balance) != 0:
		return nil, fmt.Errorf("%w: account %s: balance mismatch", ErrInvalidProof, p.Address)
	case common.BytesToHash(acc.CodeHash) != p.CodeHash:
		return nil, fmt.Errorf("%w: account %s: code hash mismatch", ErrInvalidProof, p.Address)
	case acc.Root != p.StorageHash:
		return nil, fmt.Errorf("%w: account %s: storage hash mismatch", ErrInvalidProof, p.Address)
	}
	for i := range p.Storage {
		if err := verifyStorageProof(acc.Root, &p.Storage[i]); err != nil {
			return nil, fmt.Errorf("account %s: %w", p.Address, err)
		}
	}
	return acc, nil
}

// verifyStorageProof checks a single slot against a storage root.
func verifyStorageProof(root common.Hash, sp *StorageProof) error {
	claimed := sp.Value
	if claimed == nil {
		claimed = new(big.Int)
	}
	if root == types.EmptyRootHash {
		if claimed.Sign() != 0 {
			return fmt.Errorf("%w: slot %s: value in empty storage", ErrInvalidProof, sp.Key)
		}
		return nil
	}
	val, err := trie.VerifyProof(root, crypto.Keccak256(sp.Key[:]), proofDB(sp.Nodes))
	if err != nil {
		return fmt.Errorf("%w: slot %s: %v", ErrInvalidProof, sp.Key, err)
	}
	proven := new(big.Int)
	if len(val) > 0 {
		_, content, _, err := rlp.Split(val)
		if err != nil {
			return fmt.Errorf("%w: slot %s: %v", ErrInvalidProof, sp.Key, err)
		}
		proven.SetBytes(content)
	}
	if proven.Cmp(claimed) != 0 {
		return fmt.Errorf("%w: slot %s: value mismatch", ErrInvalidProof, sp.Key)
	}
	return nil
}

func proofDB(nodes [][]byte) *memorydb.Database {
	db := memorydb.New()
	for _, n := range nodes {
		db.Put(crypto.Keccak256(n), n)
	}
	return db
}
