// Package guest holds the program proven inside the zkVM and the formats
// it exchanges with the host: the execution input written by the packager
// and the journal committed by the guest.
//
// The guest trusts nothing but its input. It re-derives the signer from the
// signature, rebuilds the EVM state from the sealed environment, re-runs
// balanceOf for the signer and commits the block it ran against.
package guest

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/zgate/zgate/crypto"
	"github.com/zgate/zgate/evmenv"
)

// InputVersion is the version tag of the execution input layout.
const InputVersion uint64 = 1

// Input errors.
var (
	ErrInputDecode  = errors.New("guest: malformed execution input")
	ErrInputVersion = errors.New("guest: unsupported execution input version")
)

// Input is everything the guest reads: the signature and message, the
// signer recovered by the host and the sealed environment.
type Input struct {
	Signature crypto.Signature
	Message   []byte
	Signer    common.Address
	Env       *evmenv.Input
}

// inputRLP fixes the field order of the encoding.
type inputRLP struct {
	Version   uint64
	Signature []byte
	Message   []byte
	Signer    common.Address
	Env       rlp.RawValue
}

// PackInput serializes in. Equal inputs pack to equal bytes.
func PackInput(in *Input) ([]byte, error) {
	if in == nil || in.Env == nil {
		return nil, fmt.Errorf("%w: missing sealed environment", ErrInputDecode)
	}
	env, err := in.Env.Encode()
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&inputRLP{
		Version:   InputVersion,
		Signature: in.Signature.Bytes(),
		Message:   in.Message,
		Signer:    in.Signer,
		Env:       env,
	})
}

// UnpackInput parses the output of PackInput. Unknown versions and trailing
// bytes are rejected.
func UnpackInput(b []byte) (*Input, error) {
	var dec inputRLP
	if err := rlp.DecodeBytes(b, &dec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputDecode, err)
	}
	if dec.Version != InputVersion {
		return nil, fmt.Errorf("%w: %d", ErrInputVersion, dec.Version)
	}
	sig, err := crypto.ParseSignature(dec.Signature)
	if err != nil {
		return nil, err
	}
	env, err := evmenv.DecodeInput(dec.Env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputDecode, err)
	}
	return &Input{
		Signature: sig,
		Message:   dec.Message,
		Signer:    dec.Signer,
		Env:       env,
	}, nil
}
