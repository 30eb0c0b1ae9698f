package guest

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zgate/zgate/evmenv"
)

// JournalVersion is the version word of the journal schema.
const JournalVersion uint16 = 1

// ErrJournalDecode is returned when journal bytes do not match the schema.
var ErrJournalDecode = errors.New("guest: journal decode failed")

// Journal is the public output committed by the guest. It is ABI-encoded as
//
//	(uint16 version, uint64 blockNumber, bytes32 blockHash,
//	 bytes32 messageHash, address signer, address contract, bytes result)
type Journal struct {
	Version     uint16
	BlockNumber uint64
	BlockHash   common.Hash
	MessageHash common.Hash
	Signer      common.Address
	Contract    common.Address
	Result      []byte
}

var journalArgs = abi.Arguments{
	{Name: "version", Type: mustType("uint16")},
	{Name: "blockNumber", Type: mustType("uint64")},
	{Name: "blockHash", Type: mustType("bytes32")},
	{Name: "messageHash", Type: mustType("bytes32")},
	{Name: "signer", Type: mustType("address")},
	{Name: "contract", Type: mustType("address")},
	{Name: "result", Type: mustType("bytes")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Commitment returns the block the journal was produced against.
func (j *Journal) Commitment() evmenv.Commitment {
	return evmenv.Commitment{Number: j.BlockNumber, Hash: j.BlockHash}
}

// Encode returns the ABI encoding of the journal.
func (j *Journal) Encode() ([]byte, error) {
	return journalArgs.Pack(
		j.Version,
		j.BlockNumber,
		[32]byte(j.BlockHash),
		[32]byte(j.MessageHash),
		j.Signer,
		j.Contract,
		j.Result,
	)
}

// DecodeJournal parses journal bytes. Only the canonical encoding of a
// known version is accepted.
func DecodeJournal(b []byte) (*Journal, error) {
	vals, err := journalArgs.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalDecode, err)
	}
	if len(vals) != len(journalArgs) {
		return nil, fmt.Errorf("%w: %d fields", ErrJournalDecode, len(vals))
	}
	j := new(Journal)
	var ok [7]bool
	j.Version, ok[0] = vals[0].(uint16)
	j.BlockNumber, ok[1] = vals[1].(uint64)
	var blockHash, msgHash [32]byte
	blockHash, ok[2] = vals[2].([32]byte)
	msgHash, ok[3] = vals[3].([32]byte)
	j.Signer, ok[4] = vals[4].(common.Address)
	j.Contract, ok[5] = vals[5].(common.Address)
	j.Result, ok[6] = vals[6].([]byte)
	for i, good := range ok {
		if !good {
			return nil, fmt.Errorf("%w: field %s has type %T", ErrJournalDecode, journalArgs[i].Name, vals[i])
		}
	}
	j.BlockHash, j.MessageHash = blockHash, msgHash
	if j.Version != JournalVersion {
		return nil, fmt.Errorf("%w: version %d", ErrJournalDecode, j.Version)
	}
	canonical, err := j.Encode()
	if err != nil || !bytes.Equal(canonical, b) {
		return nil, fmt.Errorf("%w: non-canonical encoding", ErrJournalDecode)
	}
	return j, nil
}

// Balance decodes Result as a uint256 token balance.
func (j *Journal) Balance() (*big.Int, error) {
	if len(j.Result) != 32 {
		return nil, fmt.Errorf("%w: result is %d bytes, want 32", ErrJournalDecode, len(j.Result))
	}
	return new(big.Int).SetBytes(j.Result), nil
}
