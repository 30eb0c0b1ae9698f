// Package crypto implements recoverable secp256k1 signatures over personal
// messages: parsing of compact signatures, EIP-191 message hashing and
// signer address recovery.
//
// Encodings accepted by ParseSignature:
//   - 65 bytes: R (32) || S (32) || V (1), V in {0, 1, 27, 28}
//   - 64 bytes: R (32) || S (32), parity supplied separately
//
// The recovery parity is never guessed. A 64-byte signature without an
// explicit parity is rejected.
package crypto

import (
	"errors"
	"fmt"
	"math/big"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// SignatureLength is the length of a compact signature with parity.
	SignatureLength = 65

	// CompactLength is the length of R || S without the parity byte.
	CompactLength = 64
)

// Signature errors.
var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrMissingParity      = fmt.Errorf("%w: 64-byte signature requires an explicit recovery parity", ErrMalformedSignature)
	ErrInvalidLength      = fmt.Errorf("%w: signature must be 64 or 65 bytes", ErrMalformedSignature)
	ErrInvalidParity      = fmt.Errorf("%w: recovery parity must be 0, 1, 27 or 28", ErrMalformedSignature)
	ErrInvalidR           = fmt.Errorf("%w: r must be in [1, n-1]", ErrMalformedSignature)
	ErrInvalidS           = fmt.Errorf("%w: s must be in [1, n-1]", ErrMalformedSignature)
)

var secp256k1N = gethcrypto.S256().Params().N

// Signature is a recoverable ECDSA signature over secp256k1. Parity selects
// which of the two candidate public keys sharing R's x coordinate signed.
type Signature struct {
	R      [32]byte
	S      [32]byte
	Parity byte
}

// ParseSignature decodes a 65-byte R || S || V signature. V may be the raw
// parity (0/1) or the legacy Ethereum encoding (27/28).
func ParseSignature(b []byte) (Signature, error) {
	switch len(b) {
	case SignatureLength:
	case CompactLength:
		return Signature{}, ErrMissingParity
	default:
		return Signature{}, ErrInvalidLength
	}
	parity, err := normalizeParity(b[64])
	if err != nil {
		return Signature{}, err
	}
	return newSignature(b[:64], parity)
}

// ParseSignatureWithParity decodes a 64-byte R || S signature and attaches
// the parity supplied by whoever produced it. A 65-byte input is accepted
// only when its V byte agrees with parity.
func ParseSignatureWithParity(b []byte, parity byte) (Signature, error) {
	p, err := normalizeParity(parity)
	if err != nil {
		return Signature{}, err
	}
	switch len(b) {
	case CompactLength:
	case SignatureLength:
		v, err := normalizeParity(b[64])
		if err != nil {
			return Signature{}, err
		}
		if v != p {
			return Signature{}, fmt.Errorf("%w: embedded parity %d disagrees with supplied parity %d", ErrMalformedSignature, v, p)
		}
	default:
		return Signature{}, ErrInvalidLength
	}
	return newSignature(b[:64], p)
}

func newSignature(rs []byte, parity byte) (Signature, error) {
	var sig Signature
	copy(sig.R[:], rs[:32])
	copy(sig.S[:], rs[32:64])
	sig.Parity = parity
	if err := sig.Validate(); err != nil {
		return Signature{}, err
	}
	return sig, nil
}

// normalizeParity maps legacy V values onto the raw recovery bit.
func normalizeParity(v byte) (byte, error) {
	switch v {
	case 0, 1:
		return v, nil
	case 27, 28:
		return v - 27, nil
	default:
		return 0, ErrInvalidParity
	}
}

// Validate checks that R and S are canonical scalars and the parity is a
// single bit. High-S values are accepted: personal message signatures are
// not subject to the EIP-2 malleability rule.
func (s Signature) Validate() error {
	if s.Parity > 1 {
		return ErrInvalidParity
	}
	r := new(big.Int).SetBytes(s.R[:])
	if r.Sign() <= 0 || r.Cmp(secp256k1N) >= 0 {
		return ErrInvalidR
	}
	sv := new(big.Int).SetBytes(s.S[:])
	if sv.Sign() <= 0 || sv.Cmp(secp256k1N) >= 0 {
		return ErrInvalidS
	}
	return nil
}

// Bytes encodes the signature as 65 bytes: R || S || parity (0/1).
func (s Signature) Bytes() []byte {
	buf := make([]byte, SignatureLength)
	copy(buf[:32], s.R[:])
	copy(buf[32:64], s.S[:])
	buf[64] = s.Parity
	return buf
}

// String returns the 0x-prefixed hex form of Bytes.
func (s Signature) String() string {
	return fmt.Sprintf("0x%x", s.Bytes())
}
