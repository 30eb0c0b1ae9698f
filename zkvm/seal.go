// seal.go implements the development seal produced by LocalProver. The seal
// follows the Groth16 layout (proof = [A, B, C] points) with every point
// derived by SHA-256 from the image id and the journal digest:
//
//	seal = version(4) || imageID(32) || sha256(journal)(32) || A(64) || B(128) || C(64)
//
// It proves nothing cryptographically; it binds a journal to a program
// identity so that artifacts can be checked end to end.
package zkvm

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// Seal errors.
var (
	ErrProvingBackend = errors.New("zkvm: proving backend error")
	ErrProverTimeout  = errors.New("zkvm: prover timed out")
	ErrGuestPanicked  = errors.New("zkvm: guest execution panicked")
	ErrInvalidProof   = errors.New("zkvm: invalid proof")
)

// SealVersion is the version tag of the seal layout.
const SealVersion uint32 = 1

const (
	pointASize = 64
	pointBSize = 128
	pointCSize = 64

	sealHeaderSize = 4 + 32 + 32

	// SealSize is the length of every seal.
	SealSize = sealHeaderSize + pointASize + pointBSize + pointCSize
)

// Seal builds the seal binding journal to the program with image id id.
func Seal(id ImageID, journal []byte) []byte {
	digest := id.Digest()
	journalDigest := sha256.Sum256(journal)

	a := computePointA(digest, journalDigest)
	b := computePointB(a, digest)
	c := computePointC(a, b)

	seal := make([]byte, 0, SealSize)
	seal = binary.BigEndian.AppendUint32(seal, SealVersion)
	seal = append(seal, digest[:]...)
	seal = append(seal, journalDigest[:]...)
	seal = append(seal, a[:]...)
	seal = append(seal, b[:]...)
	seal = append(seal, c[:]...)
	return seal
}

// Verify checks that seal attests to journal under image id id. Every byte
// of the seal is checked.
func Verify(id ImageID, seal, journal []byte) error {
	if len(seal) != SealSize {
		return fmt.Errorf("%w: seal length %d, want %d", ErrInvalidProof, len(seal), SealSize)
	}
	if v := binary.BigEndian.Uint32(seal[:4]); v != SealVersion {
		return fmt.Errorf("%w: seal version %d", ErrInvalidProof, v)
	}
	digest := id.Digest()
	if !bytes.Equal(seal[4:36], digest[:]) {
		return fmt.Errorf("%w: image id mismatch", ErrInvalidProof)
	}
	journalDigest := sha256.Sum256(journal)
	if !bytes.Equal(seal[36:sealHeaderSize], journalDigest[:]) {
		return fmt.Errorf("%w: journal digest mismatch", ErrInvalidProof)
	}
	if !bytes.Equal(seal, Seal(id, journal)) {
		return fmt.Errorf("%w: proof points mismatch", ErrInvalidProof)
	}
	return nil
}

// sealHash hashes parts under a domain label and a lane index, so no two
// lanes of any point can collide.
func sealHash(label string, lane uint32, parts ...[]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(label))
	h.Write(binary.BigEndian.AppendUint32(nil, lane))
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// computePointA commits to the statement: the program's image digest and
// the digest of the journal it produced. Changing either changes every
// later point.
func computePointA(imageDigest, journalDigest [32]byte) [pointASize]byte {
	var a [pointASize]byte
	for lane := 0; lane < pointASize/32; lane++ {
		h := sealHash("zgate/seal/a", uint32(lane), imageDigest[:], journalDigest[:])
		copy(a[lane*32:], h[:])
	}
	return a
}

// computePointB expands A under the image digest again, so a seal cannot
// be moved to another program by recomputing A alone.
func computePointB(pointA [pointASize]byte, imageDigest [32]byte) [pointBSize]byte {
	var b [pointBSize]byte
	for lane := 0; lane < pointBSize/32; lane++ {
		h := sealHash("zgate/seal/b", uint32(lane), pointA[:], imageDigest[:])
		copy(b[lane*32:], h[:])
	}
	return b
}

// computePointC closes over A and B. A seal whose points are not derived
// from one another fails on C.
func computePointC(pointA [pointASize]byte, pointB [pointBSize]byte) [pointCSize]byte {
	var c [pointCSize]byte
	for lane := 0; lane < pointCSize/32; lane++ {
		h := sealHash("zgate/seal/c", uint32(lane), pointA[:], pointB[:])
		copy(c[lane*32:], h[:])
	}
	return c
}
