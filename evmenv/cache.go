package evmenv

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"
)

// DefaultProofCacheSize is the number of proof responses retained by
// NewCachingBackend when no size is given.
const DefaultProofCacheSize = 1024

// proofKind distinguishes entries stored in the proof cache.
type proofKind uint8

const (
	kindAccount proofKind = iota
	kindCode
)

// cacheKey separates entries by block so proofs at different state roots
// never collide. Latest-block lookups are never cached.
type cacheKey struct {
	block   uint64
	address common.Address
	slots   string
	kind    proofKind
}

// CachingBackend memoizes proof and code responses of an inner Backend.
// Preflight re-requests the same accounts on every discovery round; the
// cache turns those into local lookups. Safe for concurrent use.
type CachingBackend struct {
	inner Backend
	cache *lru.Cache
}

// NewCachingBackend wraps inner with an LRU cache of the given size.
func NewCachingBackend(inner Backend, size int) (*CachingBackend, error) {
	if size <= 0 {
		size = DefaultProofCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachingBackend{inner: inner, cache: c}, nil
}

// Len returns the number of cached entries.
func (b *CachingBackend) Len() int { return b.cache.Len() }

func (b *CachingBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.inner.ChainID(ctx)
}

func (b *CachingBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, common.Hash, error) {
	return b.inner.HeaderByNumber(ctx, number)
}

func (b *CachingBackend) GetProof(ctx context.Context, account common.Address, slots []common.Hash, number *big.Int) (*AccountProof, error) {
	if number == nil {
		return b.inner.GetProof(ctx, account, slots, number)
	}
	key := cacheKey{block: number.Uint64(), address: account, slots: slotsKey(slots), kind: kindAccount}
	if v, ok := b.cache.Get(key); ok {
		return v.(*AccountProof), nil
	}
	p, err := b.inner.GetProof(ctx, account, slots, number)
	if err != nil {
		return nil, err
	}
	b.cache.Add(key, p)
	return p, nil
}

func (b *CachingBackend) CodeAt(ctx context.Context, account common.Address, number *big.Int) ([]byte, error) {
	if number == nil {
		return b.inner.CodeAt(ctx, account, number)
	}
	key := cacheKey{block: number.Uint64(), address: account, kind: kindCode}
	if v, ok := b.cache.Get(key); ok {
		return v.([]byte), nil
	}
	code, err := b.inner.CodeAt(ctx, account, number)
	if err != nil {
		return nil, err
	}
	b.cache.Add(key, code)
	return code, nil
}

func slotsKey(slots []common.Hash) string {
	var sb strings.Builder
	for _, s := range slots {
		sb.Write(s[:])
	}
	return sb.String()
}
