package evmenv

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/triedb"

	"github.com/zgate/zgate/chainspec"
)

// InputVersion is the encoding version of a sealed Input.
const InputVersion uint64 = 1

// Input is the sealed environment: the committed header together with every
// trie node and contract code needed to re-execute the preflighted call.
// Nodes and Codes are deduplicated and sorted so that equal witnesses encode
// to equal bytes.
type Input struct {
	Header *types.Header
	Nodes  [][]byte
	Codes  [][]byte
}

type inputRLP struct {
	Version uint64
	Header  *types.Header
	Nodes   [][]byte
	Codes   [][]byte
}

// Commitment returns the block commitment of the sealed header.
func (in *Input) Commitment() Commitment { return HeaderCommitment(in.Header) }

// Encode serializes the input.
func (in *Input) Encode() ([]byte, error) {
	if in.Header == nil {
		return nil, fmt.Errorf("%w: missing header", ErrInputDecode)
	}
	return rlp.EncodeToBytes(&inputRLP{
		Version: InputVersion,
		Header:  in.Header,
		Nodes:   in.Nodes,
		Codes:   in.Codes,
	})
}

// DecodeInput parses an encoded input. Trailing bytes are rejected.
func DecodeInput(b []byte) (*Input, error) {
	var dec inputRLP
	if err := rlp.DecodeBytes(b, &dec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputDecode, err)
	}
	if dec.Version != InputVersion {
		return nil, fmt.Errorf("%w: %d", ErrInputVersion, dec.Version)
	}
	if dec.Header == nil || dec.Header.Number == nil {
		return nil, fmt.Errorf("%w: missing header", ErrInputDecode)
	}
	return &Input{Header: dec.Header, Nodes: dec.Nodes, Codes: dec.Codes}, nil
}

// State is an offline EVM state rebuilt from a sealed Input. Any read that
// falls outside the witness fails the call with ErrMissingWitness.
type State struct {
	header *types.Header
	spec   *chainspec.Spec
	db     *state.StateDB
}

// Open validates the sealed header against spec and rebuilds the state it
// commits to. It performs no I/O.
func (in *Input) Open(spec *chainspec.Spec) (*State, error) {
	if in.Header == nil {
		return nil, fmt.Errorf("%w: missing header", ErrInputDecode)
	}
	if err := spec.ValidateHeader(in.Header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvironmentBuild, err)
	}
	db := rawdb.NewMemoryDatabase()
	for _, n := range in.Nodes {
		rawdb.WriteLegacyTrieNode(db, crypto.Keccak256Hash(n), n)
	}
	for _, c := range in.Codes {
		rawdb.WriteCode(db, crypto.Keccak256Hash(c), c)
	}
	tdb := triedb.NewDatabase(db, triedb.HashDefaults)
	statedb, err := state.New(in.Header.Root, state.NewDatabase(tdb, nil))
	if err != nil {
		return nil, fmt.Errorf("%w: state root %s: %v", ErrMissingWitness, in.Header.Root, err)
	}
	return &State{header: in.Header, spec: spec, db: statedb}, nil
}

// Commitment returns the block commitment the state was opened at.
func (s *State) Commitment() Commitment { return HeaderCommitment(s.header) }

// Call executes call against a copy of the state so repeated calls observe
// identical pre-state.
func (s *State) Call(call Call) (*CallResult, error) {
	return execute(s.db.Copy(), s.header, s.spec, call, nil)
}

// witnessBuilder accumulates verified proof nodes and code.
type witnessBuilder struct {
	nodes map[string]struct{}
	codes map[string]struct{}
}

func newWitnessBuilder() *witnessBuilder {
	return &witnessBuilder{
		nodes: make(map[string]struct{}),
		codes: make(map[string]struct{}),
	}
}

func (w *witnessBuilder) addNodes(nodes [][]byte) {
	for _, n := range nodes {
		w.nodes[string(n)] = struct{}{}
	}
}

func (w *witnessBuilder) addCode(code []byte) {
	if len(code) > 0 {
		w.codes[string(code)] = struct{}{}
	}
}

func (w *witnessBuilder) seal(header *types.Header) *Input {
	return &Input{
		Header: types.CopyHeader(header),
		Nodes:  sortedBytes(w.nodes),
		Codes:  sortedBytes(w.codes),
	}
}

func sortedBytes(set map[string]struct{}) [][]byte {
	out := make([][]byte, 0, len(set))
	for s := range set {
		out = append(out, []byte(s))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}
