package evmenv_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/zgate/zgate/chainspec"
	"github.com/zgate/zgate/evmenv"
	"github.com/zgate/zgate/evmenv/evmtest"
)

var (
	token  = common.HexToAddress("0xaA8E23Fb1079EA71e0a56F48a2aA51851D8433D0")
	holder = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	other  = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func newTokenChain(t *testing.T, balances map[common.Address]common.Hash) *evmtest.Chain {
	t.Helper()
	chain, err := evmtest.NewChain(chainspec.Dev, map[common.Address]evmtest.Account{
		token: {Code: evmtest.TokenCode, Storage: evmtest.TokenStorage(balances)},
		other: {Nonce: 3, Balance: uint256.NewInt(5_000)},
	})
	require.NoError(t, err)
	return chain
}

func buildEnv(t *testing.T, backend evmenv.Backend) *evmenv.Env {
	t.Helper()
	env, err := evmenv.Build(context.Background(), backend, nil, chainspec.Dev)
	require.NoError(t, err)
	return env
}

func balanceCall(who common.Address) evmenv.Call {
	return evmenv.Call{To: token, Data: evmtest.BalanceOfData(who)}
}

func word(v int64) common.Hash { return common.BigToHash(big.NewInt(v)) }

func TestBuild(t *testing.T) {
	chain := newTokenChain(t, nil)
	env := buildEnv(t, chain)
	require.Equal(t, uint64(evmtest.BlockNumber), env.Commitment().Number)
	require.Equal(t, chain.Header().Hash(), env.Commitment().Hash)

	n := uint64(evmtest.BlockNumber)
	env, err := evmenv.Build(context.Background(), chain, &n, chainspec.Dev)
	require.NoError(t, err)
	require.Equal(t, n, env.Commitment().Number)
}

func TestBuildFailures(t *testing.T) {
	t.Run("chain id", func(t *testing.T) {
		chain := newTokenChain(t, nil)
		chain.ChainIDOverride = big.NewInt(11155111)
		_, err := evmenv.Build(context.Background(), chain, nil, chainspec.Dev)
		require.ErrorIs(t, err, evmenv.ErrEnvironmentBuild)
		require.ErrorIs(t, err, evmenv.ErrChainIDMismatch)
	})
	t.Run("advertised hash", func(t *testing.T) {
		chain := newTokenChain(t, nil)
		bogus := common.HexToHash("0xdead")
		chain.AdvertisedHash = &bogus
		_, err := evmenv.Build(context.Background(), chain, nil, chainspec.Dev)
		require.ErrorIs(t, err, evmenv.ErrEnvironmentBuild)
		require.ErrorIs(t, err, evmenv.ErrHeaderHash)
	})
	t.Run("unknown block", func(t *testing.T) {
		chain := newTokenChain(t, nil)
		n := uint64(7)
		_, err := evmenv.Build(context.Background(), chain, &n, chainspec.Dev)
		require.ErrorIs(t, err, evmenv.ErrEnvironmentBuild)
	})
	t.Run("wrong fork shape", func(t *testing.T) {
		chain := newTokenChain(t, nil)
		_, err := evmenv.Build(context.Background(), chain, nil, chainspec.Mainnet)
		require.ErrorIs(t, err, evmenv.ErrEnvironmentBuild)
	})
}

func TestPreflightBalanceOf(t *testing.T) {
	chain := newTokenChain(t, map[common.Address]common.Hash{holder: word(1_000)})
	env := buildEnv(t, chain)

	res, input, err := evmenv.Preflight(context.Background(), env, balanceCall(holder))
	require.NoError(t, err)
	require.Equal(t, word(1_000).Bytes(), res.Return)
	require.NotZero(t, res.GasUsed)
	require.Equal(t, env.Commitment(), input.Commitment())
	require.Len(t, input.Codes, 1)
	require.Equal(t, evmtest.TokenCode, input.Codes[0])
}

func TestPreflightUnknownHolder(t *testing.T) {
	chain := newTokenChain(t, map[common.Address]common.Hash{holder: word(1_000)})
	env := buildEnv(t, chain)

	res, _, err := evmenv.Preflight(context.Background(), env, balanceCall(other))
	require.NoError(t, err)
	require.Equal(t, common.Hash{}.Bytes(), res.Return)
}

func TestPreflightDeterministic(t *testing.T) {
	balances := map[common.Address]common.Hash{holder: word(42), other: word(7)}
	chain := newTokenChain(t, balances)

	_, first, err := evmenv.Preflight(context.Background(), buildEnv(t, chain), balanceCall(holder))
	require.NoError(t, err)
	_, second, err := evmenv.Preflight(context.Background(), buildEnv(t, chain), balanceCall(holder))
	require.NoError(t, err)

	a, err := first.Encode()
	require.NoError(t, err)
	b, err := second.Encode()
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestReexecuteMatchesLive(t *testing.T) {
	chain := newTokenChain(t, map[common.Address]common.Hash{holder: word(123_456), other: word(1)})
	env := buildEnv(t, chain)

	live, input, err := evmenv.Preflight(context.Background(), env, balanceCall(holder))
	require.NoError(t, err)

	enc, err := input.Encode()
	require.NoError(t, err)
	decoded, err := evmenv.DecodeInput(enc)
	require.NoError(t, err)

	st, err := decoded.Open(chainspec.Dev)
	require.NoError(t, err)
	require.Equal(t, env.Commitment(), st.Commitment())

	for i := 0; i < 2; i++ {
		replay, err := st.Call(balanceCall(holder))
		require.NoError(t, err)
		require.Equal(t, live.Return, replay.Return)
		require.Equal(t, live.GasUsed, replay.GasUsed)
	}
}

func TestPreflightDiscoversAccounts(t *testing.T) {
	probe := common.HexToAddress("0x9999")
	chain, err := evmtest.NewChain(chainspec.Dev, map[common.Address]evmtest.Account{
		probe: {Code: evmtest.BalanceProbeCode(other)},
		other: {Balance: uint256.NewInt(5_000)},
	})
	require.NoError(t, err)
	env := buildEnv(t, chain)

	res, input, err := evmenv.Preflight(context.Background(), env, evmenv.Call{To: probe})
	require.NoError(t, err)
	require.Equal(t, word(5_000).Bytes(), res.Return)

	st, err := input.Open(chainspec.Dev)
	require.NoError(t, err)
	replay, err := st.Call(evmenv.Call{To: probe})
	require.NoError(t, err)
	require.Equal(t, res.Return, replay.Return)
}

func TestPreflightRevert(t *testing.T) {
	chain := newTokenChain(t, nil)
	env := buildEnv(t, chain)

	_, _, err := evmenv.Preflight(context.Background(), env, evmenv.Call{To: token, Data: []byte{0xde, 0xad, 0xbe, 0xef}})
	require.ErrorIs(t, err, evmenv.ErrCallRevert)
	var revert *evmenv.RevertError
	require.True(t, errors.As(err, &revert))
	require.Empty(t, revert.Data)
}

func TestPreflightTamperedProof(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(*evmenv.AccountProof)
	}{
		{"balance", func(p *evmenv.AccountProof) { p.Balance = big.NewInt(1) }},
		{"nonce", func(p *evmenv.AccountProof) { p.Nonce++ }},
		{"node", func(p *evmenv.AccountProof) { p.Nodes[0] = append([]byte{}, p.Nodes[0][1:]...) }},
		{"storage value", func(p *evmenv.AccountProof) {
			for i := range p.Storage {
				p.Storage[i].Value = big.NewInt(999_999)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newTokenChain(t, map[common.Address]common.Hash{holder: word(10)})
			env := buildEnv(t, chain)
			calls := 0
			chain.TamperProof = func(p *evmenv.AccountProof) {
				calls++
				// The first response carries no slots; tamper the last one.
				if tt.name != "storage value" || len(p.Storage) > 0 {
					tt.tamper(p)
				}
			}
			_, _, err := evmenv.Preflight(context.Background(), env, balanceCall(holder))
			require.ErrorIs(t, err, evmenv.ErrPreflightIO)
			require.ErrorIs(t, err, evmenv.ErrInvalidProof)
			require.NotZero(t, calls)
		})
	}
}

func TestPreflightFetchError(t *testing.T) {
	chain := newTokenChain(t, nil)
	env := buildEnv(t, chain)
	chain.ProofErr = errors.New("connection reset")

	_, _, err := evmenv.Preflight(context.Background(), env, balanceCall(holder))
	require.ErrorIs(t, err, evmenv.ErrPreflightIO)
}

func TestPreflightCancelled(t *testing.T) {
	chain := newTokenChain(t, nil)
	env := buildEnv(t, chain)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := evmenv.Preflight(ctx, env, balanceCall(holder))
	require.ErrorIs(t, err, evmenv.ErrPreflightIO)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, chain.ProofCalls())
}

// divergentHolder returns an address whose balance slot lies in a different
// top-level subtree of the storage trie than holder's.
func divergentHolder(t *testing.T) common.Address {
	t.Helper()
	want := crypto.Keccak256(evmtest.BalanceSlot(holder).Bytes())[0] >> 4
	for i := int64(1); i < 1000; i++ {
		addr := common.BigToAddress(big.NewInt(i))
		if crypto.Keccak256(evmtest.BalanceSlot(addr).Bytes())[0]>>4 != want {
			return addr
		}
	}
	t.Fatal("no divergent holder")
	return common.Address{}
}

func TestOpenMissingWitness(t *testing.T) {
	stranger := divergentHolder(t)
	chain := newTokenChain(t, map[common.Address]common.Hash{holder: word(1), stranger: word(2)})
	env := buildEnv(t, chain)

	_, input, err := evmenv.Preflight(context.Background(), env, balanceCall(holder))
	require.NoError(t, err)
	st, err := input.Open(chainspec.Dev)
	require.NoError(t, err)

	_, err = st.Call(balanceCall(stranger))
	require.ErrorIs(t, err, evmenv.ErrMissingWitness)
}

func TestOpenRejectsForeignSpec(t *testing.T) {
	chain := newTokenChain(t, map[common.Address]common.Hash{holder: word(1)})
	_, input, err := evmenv.Preflight(context.Background(), buildEnv(t, chain), balanceCall(holder))
	require.NoError(t, err)

	_, err = input.Open(chainspec.Mainnet)
	require.ErrorIs(t, err, evmenv.ErrEnvironmentBuild)
}

func TestDecodeInputErrors(t *testing.T) {
	chain := newTokenChain(t, map[common.Address]common.Hash{holder: word(1)})
	_, input, err := evmenv.Preflight(context.Background(), buildEnv(t, chain), balanceCall(holder))
	require.NoError(t, err)
	enc, err := input.Encode()
	require.NoError(t, err)

	_, err = evmenv.DecodeInput(append(append([]byte{}, enc...), 0x80))
	require.ErrorIs(t, err, evmenv.ErrInputDecode)

	_, err = evmenv.DecodeInput([]byte{0xde, 0xad})
	require.ErrorIs(t, err, evmenv.ErrInputDecode)

	future, err := rlp.EncodeToBytes([]interface{}{uint64(2), input.Header, input.Nodes, input.Codes})
	require.NoError(t, err)
	_, err = evmenv.DecodeInput(future)
	require.ErrorIs(t, err, evmenv.ErrInputVersion)
}

func TestCachingBackend(t *testing.T) {
	chain := newTokenChain(t, map[common.Address]common.Hash{holder: word(9)})
	cached, err := evmenv.NewCachingBackend(chain, 0)
	require.NoError(t, err)

	env := buildEnv(t, cached)
	_, first, err := evmenv.Preflight(context.Background(), env, balanceCall(holder))
	require.NoError(t, err)
	proofCalls, codeCalls := chain.ProofCalls(), chain.CodeCalls()
	require.NotZero(t, cached.Len())

	_, second, err := evmenv.Preflight(context.Background(), buildEnv(t, cached), balanceCall(holder))
	require.NoError(t, err)
	require.Equal(t, proofCalls, chain.ProofCalls())
	require.Equal(t, codeCalls, chain.CodeCalls())

	a, _ := first.Encode()
	b, _ := second.Encode()
	require.Equal(t, a, b)
}
