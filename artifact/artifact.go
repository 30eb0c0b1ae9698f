// Package artifact persists proof receipts as the three hex text files read
// by external verifiers and loads them back:
//
//	proof.txt  0x-hex of the seal
//	pub.txt    0x-hex of the journal, framed with its 8-byte little-endian length
//	vk.txt     0x-hex of the image id, eight big-endian words
package artifact

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zgate/zgate/zkvm"
)

// Artifact file names.
const (
	ProofFile   = "proof.txt"
	JournalFile = "pub.txt"
	ImageIDFile = "vk.txt"
)

// Artifact errors.
var (
	ErrPersistenceIO = errors.New("artifact: persistence failed")
	ErrMalformed     = errors.New("artifact: malformed artifact")
)

// Sink receives named artifacts.
type Sink interface {
	Write(name string, data []byte) error
}

// Source returns previously written artifacts.
type Source interface {
	Read(name string) ([]byte, error)
}

// Artifacts is the decoded content of the three artifact files.
type Artifacts struct {
	Seal    []byte
	Journal []byte
	ImageID zkvm.ImageID
}

// FromReceipt returns the artifacts of r.
func FromReceipt(r *zkvm.Receipt) *Artifacts {
	return &Artifacts{Seal: r.Seal, Journal: r.Journal, ImageID: r.ImageID}
}

// Verify checks the seal against the journal and image id.
func (a *Artifacts) Verify() error {
	return zkvm.Verify(a.ImageID, a.Seal, a.Journal)
}

// Files returns the file contents in write order.
func (a *Artifacts) Files() []File {
	return []File{
		{Name: ProofFile, Data: []byte(FormatProof(a.Seal))},
		{Name: JournalFile, Data: []byte(FormatJournal(a.Journal))},
		{Name: ImageIDFile, Data: []byte(FormatImageID(a.ImageID))},
	}
}

// File is one named artifact.
type File struct {
	Name string
	Data []byte
}

// Persist writes the artifacts of r to sink. A failure leaves earlier files
// in place and is reported as ErrPersistenceIO.
func Persist(sink Sink, r *zkvm.Receipt) error {
	if r == nil {
		return fmt.Errorf("%w: nil receipt", ErrPersistenceIO)
	}
	for _, f := range FromReceipt(r).Files() {
		if err := sink.Write(f.Name, f.Data); err != nil {
			if errors.Is(err, ErrPersistenceIO) {
				return err
			}
			return fmt.Errorf("%w: %s: %v", ErrPersistenceIO, f.Name, err)
		}
	}
	return nil
}

// Load reads and parses the three artifacts from src.
func Load(src Source) (*Artifacts, error) {
	read := func(name string) (string, error) {
		b, err := src.Read(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrPersistenceIO, name, err)
		}
		return string(b), nil
	}
	proof, err := read(ProofFile)
	if err != nil {
		return nil, err
	}
	pub, err := read(JournalFile)
	if err != nil {
		return nil, err
	}
	vk, err := read(ImageIDFile)
	if err != nil {
		return nil, err
	}

	a := new(Artifacts)
	if a.Seal, err = ParseProof(proof); err != nil {
		return nil, err
	}
	if a.Journal, err = ParseJournal(pub); err != nil {
		return nil, err
	}
	if a.ImageID, err = ParseImageID(vk); err != nil {
		return nil, err
	}
	return a, nil
}

// FormatProof encodes a seal for proof.txt.
func FormatProof(seal []byte) string { return "0x" + hex.EncodeToString(seal) }

// FormatJournal encodes a journal for pub.txt.
func FormatJournal(journal []byte) string {
	framed := binary.LittleEndian.AppendUint64(make([]byte, 0, 8+len(journal)), uint64(len(journal)))
	return "0x" + hex.EncodeToString(append(framed, journal...))
}

// FormatImageID encodes an image id for vk.txt.
func FormatImageID(id zkvm.ImageID) string { return id.Hex() }

// ParseProof decodes the content of proof.txt.
func ParseProof(s string) ([]byte, error) {
	return decodeHex(ProofFile, s)
}

// ParseJournal decodes the content of pub.txt and strips its length frame.
func ParseJournal(s string) ([]byte, error) {
	b, err := decodeHex(JournalFile, s)
	if err != nil {
		return nil, err
	}
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: %s: missing length prefix", ErrMalformed, JournalFile)
	}
	n := binary.LittleEndian.Uint64(b[:8])
	if n != uint64(len(b)-8) {
		return nil, fmt.Errorf("%w: %s: length prefix %d, payload %d", ErrMalformed, JournalFile, n, len(b)-8)
	}
	return b[8:], nil
}

// ParseImageID decodes the content of vk.txt.
func ParseImageID(s string) (zkvm.ImageID, error) {
	b, err := decodeHex(ImageIDFile, s)
	if err != nil {
		return zkvm.ImageID{}, err
	}
	id, err := zkvm.ImageIDFromBytes(b)
	if err != nil {
		return zkvm.ImageID{}, fmt.Errorf("%w: %s: %v", ErrMalformed, ImageIDFile, err)
	}
	return id, nil
}

func decodeHex(name, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") {
		return nil, fmt.Errorf("%w: %s: missing 0x prefix", ErrMalformed, name)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	return b, nil
}
