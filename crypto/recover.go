package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrRecoveryFailure is returned when a well-formed signature does not
// correspond to any point on the curve for the given message.
var ErrRecoveryFailure = errors.New("signature recovery failed")

// MessageHash returns the EIP-191 (version 0x45) hash signed by wallets for
// personal messages:
//
//	keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
func MessageHash(msg []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash(msg))
}

// Recover returns the address of the key that produced sig over the
// EIP-191 hash of msg. The result is deterministic for a given input.
func Recover(msg []byte, sig Signature) (common.Address, error) {
	if err := sig.Validate(); err != nil {
		return common.Address{}, err
	}
	pub, err := RecoverPublicKey(MessageHash(msg), sig)
	if err != nil {
		return common.Address{}, err
	}
	return gethcrypto.PubkeyToAddress(*pub), nil
}

// RecoverPublicKey recovers the signing public key from a 32-byte digest.
func RecoverPublicKey(hash common.Hash, sig Signature) (*ecdsa.PublicKey, error) {
	pub, err := gethcrypto.SigToPub(hash[:], sig.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecoveryFailure, err)
	}
	return pub, nil
}

// SignMessage signs the EIP-191 hash of msg. The returned signature carries
// the recovery parity produced by the signer.
func SignMessage(key *ecdsa.PrivateKey, msg []byte) (Signature, error) {
	hash := MessageHash(msg)
	raw, err := gethcrypto.Sign(hash[:], key)
	if err != nil {
		return Signature{}, err
	}
	return ParseSignature(raw)
}

// HexToKey parses a hex-encoded secp256k1 private key, with or without 0x.
func HexToKey(s string) (*ecdsa.PrivateKey, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return gethcrypto.HexToECDSA(s)
}

// KeyAddress returns the Ethereum address of a private key.
func KeyAddress(key *ecdsa.PrivateKey) common.Address {
	return gethcrypto.PubkeyToAddress(key.PublicKey)
}
