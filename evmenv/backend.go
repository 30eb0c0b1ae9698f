package evmenv

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the chain data source used while building and preflighting an
// environment. Implementations are expected to return chain-canonical data;
// every proof they return is nevertheless checked against the header.
type Backend interface {
	// ChainID returns the chain id reported by the node.
	ChainID(ctx context.Context) (*big.Int, error)

	// HeaderByNumber returns the header at number (latest when nil) together
	// with the block hash advertised by the node.
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, common.Hash, error)

	// GetProof returns the Merkle proof of an account and the given storage
	// slots at block number.
	GetProof(ctx context.Context, account common.Address, slots []common.Hash, number *big.Int) (*AccountProof, error)

	// CodeAt returns the contract code of an account at block number.
	CodeAt(ctx context.Context, account common.Address, number *big.Int) ([]byte, error)
}

// AccountProof is the eth_getProof response for one account.
type AccountProof struct {
	Address     common.Address
	Nonce       uint64
	Balance     *big.Int
	CodeHash    common.Hash
	StorageHash common.Hash

	// Nodes are the RLP-encoded state trie nodes from the root down to the
	// account leaf (or the point where the account's absence is proven).
	Nodes [][]byte

	Storage []StorageProof
}

// StorageProof is the proof of a single storage slot.
type StorageProof struct {
	Key   common.Hash
	Value *big.Int
	Nodes [][]byte
}

// rpcBackend implements Backend over JSON-RPC.
type rpcBackend struct {
	rpc  *rpc.Client
	eth  *ethclient.Client
	geth *gethclient.Client
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (Backend, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewRPCBackend(c), nil
}

// NewRPCBackend wraps an existing RPC client.
func NewRPCBackend(c *rpc.Client) Backend {
	return &rpcBackend{
		rpc:  c,
		eth:  ethclient.NewClient(c),
		geth: gethclient.New(c),
	}
}

func (b *rpcBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.eth.ChainID(ctx)
}

// rpcBlockHash captures the hash field the node reports alongside the header.
type rpcBlockHash struct {
	Hash common.Hash `json:"hash"`
}

func (b *rpcBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, common.Hash, error) {
	var raw json.RawMessage
	if err := b.rpc.CallContext(ctx, &raw, "eth_getBlockByNumber", blockArg(number), false); err != nil {
		return nil, common.Hash{}, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, common.Hash{}, ethereumNotFound(number)
	}
	var head types.Header
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, common.Hash{}, fmt.Errorf("decode header: %w", err)
	}
	var advertised rpcBlockHash
	if err := json.Unmarshal(raw, &advertised); err != nil {
		return nil, common.Hash{}, fmt.Errorf("decode block hash: %w", err)
	}
	return &head, advertised.Hash, nil
}

func (b *rpcBackend) GetProof(ctx context.Context, account common.Address, slots []common.Hash, number *big.Int) (*AccountProof, error) {
	keys := make([]string, len(slots))
	for i, s := range slots {
		keys[i] = s.Hex()
	}
	res, err := b.geth.GetProof(ctx, account, keys, number)
	if err != nil {
		return nil, err
	}
	nodes, err := decodeNodes(res.AccountProof)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", account, err)
	}
	out := &AccountProof{
		Address:     res.Address,
		Nonce:       res.Nonce,
		Balance:     res.Balance,
		CodeHash:    res.CodeHash,
		StorageHash: res.StorageHash,
		Nodes:       nodes,
		Storage:     make([]StorageProof, len(res.StorageProof)),
	}
	for i, sp := range res.StorageProof {
		snodes, err := decodeNodes(sp.Proof)
		if err != nil {
			return nil, fmt.Errorf("storage %s: %w", sp.Key, err)
		}
		// Nodes may echo keys without leading zeros.
		out.Storage[i] = StorageProof{
			Key:   common.HexToHash(sp.Key),
			Value: sp.Value,
			Nodes: snodes,
		}
	}
	return out, nil
}

func (b *rpcBackend) CodeAt(ctx context.Context, account common.Address, number *big.Int) ([]byte, error) {
	return b.eth.CodeAt(ctx, account, number)
}

func decodeNodes(hexNodes []string) ([][]byte, error) {
	nodes := make([][]byte, len(hexNodes))
	for i, h := range hexNodes {
		n, err := hexutil.Decode(h)
		if err != nil {
			return nil, fmt.Errorf("proof node %d: %w", i, err)
		}
		nodes[i] = n
	}
	return nodes, nil
}

func blockArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}

func ethereumNotFound(number *big.Int) error {
	return fmt.Errorf("block %s not found", blockArg(number))
}
