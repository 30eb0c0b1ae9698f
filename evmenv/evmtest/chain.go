// Package evmtest provides an in-memory chain that serves real Merkle-Patricia
// proofs through the evmenv.Backend interface. Tests use it to preflight and
// re-execute calls without network access.
package evmtest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"

	"github.com/zgate/zgate/chainspec"
	"github.com/zgate/zgate/evmenv"
)

// BlockNumber is the number of the single block served by a Chain.
const BlockNumber = 100

// Account is the genesis description of one account.
type Account struct {
	Nonce   uint64
	Balance *uint256.Int
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// Chain is a one-block chain backed by real tries. It implements
// evmenv.Backend. Fault hooks may be set before use to simulate a
// misbehaving node.
type Chain struct {
	spec   *chainspec.Spec
	header *types.Header

	accounts map[common.Address]Account
	state    *trie.Trie
	storage  map[common.Address]*trie.Trie

	// ChainIDOverride, when set, is reported instead of the spec chain id.
	ChainIDOverride *big.Int
	// AdvertisedHash, when set, is reported instead of the header hash.
	AdvertisedHash *common.Hash
	// TamperProof, when set, may modify each proof before it is returned.
	TamperProof func(*evmenv.AccountProof)
	// ProofErr, when set, fails every proof request.
	ProofErr error

	mu         sync.Mutex
	proofCalls int
	codeCalls  int
}

var errUnknownBlock = errors.New("evmtest: unknown block")

// NewChain builds the state tries for accounts and a header for spec whose
// state root commits to them.
func NewChain(spec *chainspec.Spec, accounts map[common.Address]Account) (*Chain, error) {
	c := &Chain{
		spec:     spec,
		accounts: make(map[common.Address]Account, len(accounts)),
		state:    newTrie(),
		storage:  make(map[common.Address]*trie.Trie),
	}
	for addr, acc := range accounts {
		c.accounts[addr] = acc
		root := types.EmptyRootHash
		if len(acc.Storage) > 0 {
			st := newTrie()
			for slot, val := range acc.Storage {
				if val == (common.Hash{}) {
					continue
				}
				enc, err := rlp.EncodeToBytes(common.TrimLeftZeroes(val[:]))
				if err != nil {
					return nil, err
				}
				if err := st.Update(crypto.Keccak256(slot[:]), enc); err != nil {
					return nil, err
				}
			}
			c.storage[addr] = st
			root = st.Hash()
		}
		balance := acc.Balance
		if balance == nil {
			balance = new(uint256.Int)
		}
		enc, err := rlp.EncodeToBytes(&types.StateAccount{
			Nonce:    acc.Nonce,
			Balance:  balance,
			Root:     root,
			CodeHash: crypto.Keccak256(acc.Code),
		})
		if err != nil {
			return nil, err
		}
		if err := c.state.Update(crypto.Keccak256(addr[:]), enc); err != nil {
			return nil, fmt.Errorf("evmtest: account %s: %w", addr, err)
		}
	}
	c.header = NewHeader(c.state.Hash())
	if err := spec.ValidateHeader(c.header); err != nil {
		return nil, err
	}
	return c, nil
}

// NewHeader returns a post-Prague header with the given state root.
func NewHeader(root common.Hash) *types.Header {
	zero := uint64(0)
	beaconRoot := common.HexToHash("0xbeac")
	return &types.Header{
		ParentHash:       common.HexToHash("0x0100"),
		UncleHash:        types.EmptyUncleHash,
		Coinbase:         common.HexToAddress("0xc0ffee"),
		Root:             root,
		TxHash:           types.EmptyTxsHash,
		ReceiptHash:      types.EmptyReceiptsHash,
		Difficulty:       new(big.Int),
		Number:           big.NewInt(BlockNumber),
		GasLimit:         30_000_000,
		Time:             1_750_000_000,
		MixDigest:        common.HexToHash("0x5eed"),
		BaseFee:          big.NewInt(1_000_000_000),
		WithdrawalsHash:  &types.EmptyWithdrawalsHash,
		BlobGasUsed:      &zero,
		ExcessBlobGas:    &zero,
		ParentBeaconRoot: &beaconRoot,
		RequestsHash:     &types.EmptyRequestsHash,
	}
}

func newTrie() *trie.Trie {
	return trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
}

// Header returns a copy of the served header.
func (c *Chain) Header() *types.Header { return types.CopyHeader(c.header) }

// ProofCalls returns the number of GetProof requests served.
func (c *Chain) ProofCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proofCalls
}

// CodeCalls returns the number of CodeAt requests served.
func (c *Chain) CodeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codeCalls
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	if c.ChainIDOverride != nil {
		return new(big.Int).Set(c.ChainIDOverride), nil
	}
	return new(big.Int).Set(c.spec.ChainID), nil
}

func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, common.Hash, error) {
	if err := c.checkBlock(number); err != nil {
		return nil, common.Hash{}, err
	}
	hash := c.header.Hash()
	if c.AdvertisedHash != nil {
		hash = *c.AdvertisedHash
	}
	return types.CopyHeader(c.header), hash, nil
}

func (c *Chain) GetProof(ctx context.Context, account common.Address, slots []common.Hash, number *big.Int) (*evmenv.AccountProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.checkBlock(number); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.proofCalls++
	c.mu.Unlock()
	if c.ProofErr != nil {
		return nil, c.ProofErr
	}

	nodes, err := prove(c.state, account[:])
	if err != nil {
		return nil, err
	}
	acc, exists := c.accounts[account]
	p := &evmenv.AccountProof{
		Address:     account,
		Balance:     new(big.Int),
		CodeHash:    types.EmptyCodeHash,
		StorageHash: types.EmptyRootHash,
		Nodes:       nodes,
		Storage:     make([]evmenv.StorageProof, 0, len(slots)),
	}
	if exists {
		p.Nonce = acc.Nonce
		if acc.Balance != nil {
			p.Balance = acc.Balance.ToBig()
		}
		p.CodeHash = crypto.Keccak256Hash(acc.Code)
	}
	st := c.storage[account]
	if st != nil {
		p.StorageHash = st.Hash()
	}
	for _, slot := range slots {
		sp := evmenv.StorageProof{Key: slot, Value: new(big.Int)}
		if st != nil {
			if sp.Nodes, err = prove(st, slot[:]); err != nil {
				return nil, err
			}
			val := acc.Storage[slot]
			sp.Value.SetBytes(val[:])
		}
		p.Storage = append(p.Storage, sp)
	}
	if c.TamperProof != nil {
		c.TamperProof(p)
	}
	return p, nil
}

func (c *Chain) CodeAt(ctx context.Context, account common.Address, number *big.Int) ([]byte, error) {
	if err := c.checkBlock(number); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.codeCalls++
	c.mu.Unlock()
	return common.CopyBytes(c.accounts[account].Code), nil
}

func (c *Chain) checkBlock(number *big.Int) error {
	if number != nil && number.Cmp(c.header.Number) != 0 {
		return fmt.Errorf("%w: %v", errUnknownBlock, number)
	}
	return nil
}

// proofList collects proof nodes in root-to-leaf order.
type proofList [][]byte

func (l *proofList) Put(key []byte, value []byte) error {
	*l = append(*l, common.CopyBytes(value))
	return nil
}

func (l *proofList) Delete(key []byte) error {
	return errors.New("evmtest: delete on proof list")
}

func prove(t *trie.Trie, key []byte) ([][]byte, error) {
	var list proofList
	if err := t.Prove(crypto.Keccak256(key), &list); err != nil {
		return nil, err
	}
	return list, nil
}
