package guest

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zgate/zgate/chainspec"
	"github.com/zgate/zgate/contract"
	"github.com/zgate/zgate/crypto"
	"github.com/zgate/zgate/zkvm"
)

// ProgramName names the balance-gate guest program.
const ProgramName = "zgate-balance-gate"

// ErrSignerMismatch is returned when the signer recovered inside the guest
// differs from the signer claimed by the host.
var ErrSignerMismatch = errors.New("guest: recovered signer does not match claimed signer")

// Run is the guest logic for the token at tokenAddr on the chain described
// by spec. It returns the encoded journal.
func Run(spec *chainspec.Spec, tokenAddr common.Address, input []byte) ([]byte, error) {
	in, err := UnpackInput(input)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.Recover(in.Message, in.Signature)
	if err != nil {
		return nil, err
	}
	if signer != in.Signer {
		return nil, fmt.Errorf("%w: recovered %s, claimed %s", ErrSignerMismatch, signer, in.Signer)
	}

	st, err := in.Env.Open(spec)
	if err != nil {
		return nil, err
	}
	token := contract.NewERC20(tokenAddr)
	call, err := token.BalanceOfCall(signer)
	if err != nil {
		return nil, err
	}
	res, err := st.Call(call)
	if err != nil {
		return nil, err
	}
	if _, err := token.UnpackBalance(res.Return); err != nil {
		return nil, err
	}

	c := st.Commitment()
	j := &Journal{
		Version:     JournalVersion,
		BlockNumber: c.Number,
		BlockHash:   c.Hash,
		MessageHash: crypto.MessageHash(in.Message),
		Signer:      signer,
		Contract:    tokenAddr,
		Result:      res.Return,
	}
	return j.Encode()
}

// Descriptor is the canonical description of the program bound to spec and
// tokenAddr. Its SHA-256 is the program's image id.
func Descriptor(spec *chainspec.Spec, tokenAddr common.Address) []byte {
	return []byte(fmt.Sprintf("%s\ninput=v%d\njournal=v%d\nchain=%s\ncontract=%s\n",
		ProgramName, InputVersion, JournalVersion, spec.Identity().Hex(), tokenAddr.Hex()))
}

// NewProgram returns the guest program for the token at tokenAddr on spec.
func NewProgram(spec *chainspec.Spec, tokenAddr common.Address) *zkvm.GuestProgram {
	return &zkvm.GuestProgram{
		Name:       ProgramName,
		Version:    uint32(JournalVersion),
		Descriptor: Descriptor(spec, tokenAddr),
		Entry: func(input []byte) ([]byte, error) {
			return Run(spec, tokenAddr, input)
		},
	}
}
