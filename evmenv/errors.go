// Package evmenv builds EVM environments bound to a block commitment,
// preflights read-only contract calls against live chain state and seals the
// touched state into a self-contained input that can be re-executed offline.
//
// The lifecycle has two phases. A live Env fetches headers, proofs and code
// through a Backend. Preflight records every account and storage slot the
// call touches, verifies the fetched proofs against the header state root
// and returns a sealed Input. Input.Open rebuilds a go-ethereum StateDB from
// the proof nodes alone; re-running the call there reproduces the live
// result without network access.
package evmenv

import "errors"

// Environment errors. Every error returned by this package wraps one of the
// first three so callers can classify failures with errors.Is.
var (
	ErrEnvironmentBuild = errors.New("environment build failed")
	ErrCallRevert       = errors.New("call reverted")
	ErrPreflightIO      = errors.New("preflight fetch failed")

	ErrChainIDMismatch = errors.New("chain id mismatch")
	ErrHeaderHash      = errors.New("header hash does not match header fields")
	ErrInvalidProof    = errors.New("invalid merkle proof")
	ErrCodeHash        = errors.New("code does not match code hash")
	ErrMissingWitness  = errors.New("state access outside sealed witness")
	ErrNotClosed       = errors.New("preflight did not converge")
	ErrInputVersion    = errors.New("unsupported sealed input version")
	ErrInputDecode     = errors.New("malformed sealed input")
	ErrCallFailed      = errors.New("call failed")
)
