// Package zkvm runs guest programs and produces receipts whose seal binds the
// program's image id to the journal it committed. The Prover interface is the
// proving-backend seam; LocalProver executes the guest in-process.
package zkvm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// ImageID identifies a guest program: the SHA-256 digest of its descriptor
// viewed as eight 32-bit words.
type ImageID [8]uint32

// ImageIDFromDigest splits a 32-byte digest into words, each read
// little-endian.
func ImageIDFromDigest(d [32]byte) ImageID {
	var id ImageID
	for i := range id {
		id[i] = binary.LittleEndian.Uint32(d[i*4:])
	}
	return id
}

// Digest returns the 32-byte digest the image id was derived from.
func (id ImageID) Digest() [32]byte {
	var d [32]byte
	for i, w := range id {
		binary.LittleEndian.PutUint32(d[i*4:], w)
	}
	return d
}

// Bytes returns the words in order, each encoded big-endian.
func (id ImageID) Bytes() []byte {
	b := make([]byte, 32)
	for i, w := range id {
		binary.BigEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// Hex returns the 0x-prefixed hex of Bytes.
func (id ImageID) Hex() string { return "0x" + hex.EncodeToString(id.Bytes()) }

func (id ImageID) String() string { return id.Hex() }

// ImageIDFromBytes is the inverse of ImageID.Bytes.
func ImageIDFromBytes(b []byte) (ImageID, error) {
	var id ImageID
	if len(b) != 32 {
		return id, fmt.Errorf("%w: image id length %d", ErrInvalidProof, len(b))
	}
	for i := range id {
		id[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return id, nil
}

// ParseImageID parses the output of ImageID.Hex.
func ParseImageID(s string) (ImageID, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return ImageID{}, fmt.Errorf("%w: image id: %v", ErrInvalidProof, err)
	}
	return ImageIDFromBytes(b)
}

// GuestProgram is a program the prover can execute. Its identity is fixed by
// Descriptor; Entry maps the serialized input to the journal.
type GuestProgram struct {
	// Name is a human-readable program name.
	Name string

	// Version identifies the journal and input formats the program speaks.
	Version uint32

	// Descriptor is the canonical description of everything that determines
	// the program's behaviour.
	Descriptor []byte

	// Entry runs the program.
	Entry func(input []byte) ([]byte, error)
}

// ImageID returns the program's image id.
func (p *GuestProgram) ImageID() ImageID {
	return ImageIDFromDigest(sha256.Sum256(p.Descriptor))
}

// Receipt is the result of proving: the journal committed by the guest and a
// seal attesting that the program with ImageID produced it.
type Receipt struct {
	Seal    []byte
	Journal []byte
	ImageID ImageID
}

// Verify checks the receipt's seal against its own image id and journal.
func (r *Receipt) Verify() error {
	return Verify(r.ImageID, r.Seal, r.Journal)
}

// Prover is a proving backend.
type Prover interface {
	// Name returns the name of the prover backend.
	Name() string

	// Prove executes program on input and returns a receipt. Prove blocks
	// until proving completes or ctx is done.
	Prove(ctx context.Context, program *GuestProgram, input []byte) (*Receipt, error)
}
