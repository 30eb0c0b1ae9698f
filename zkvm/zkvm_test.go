package zkvm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"
)

func echoProgram(name string) *GuestProgram {
	return &GuestProgram{
		Name:       name,
		Version:    1,
		Descriptor: []byte("echo/" + name),
		Entry: func(input []byte) ([]byte, error) {
			return append([]byte("journal:"), input...), nil
		},
	}
}

func TestImageID_DigestRoundTrip(t *testing.T) {
	d := sha256.Sum256([]byte("program"))
	id := ImageIDFromDigest(d)
	if id.Digest() != d {
		t.Fatalf("Digest: got %x, want %x", id.Digest(), d)
	}
	parsed, err := ParseImageID(id.Hex())
	if err != nil {
		t.Fatalf("ParseImageID: %v", err)
	}
	if parsed != id {
		t.Errorf("ParseImageID: got %v, want %v", parsed, id)
	}
}

func TestImageID_BytesBigEndianWords(t *testing.T) {
	id := ImageID{0x01020304, 0, 0, 0, 0, 0, 0, 0xa0b0c0d0}
	b := id.Bytes()
	if !bytes.Equal(b[:4], []byte{1, 2, 3, 4}) {
		t.Errorf("first word: got %x", b[:4])
	}
	if !bytes.Equal(b[28:], []byte{0xa0, 0xb0, 0xc0, 0xd0}) {
		t.Errorf("last word: got %x", b[28:])
	}
	if _, err := ImageIDFromBytes(b[:31]); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("short image id: got %v", err)
	}
	if _, err := ParseImageID("0xzz"); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("bad hex: got %v", err)
	}
}

func TestGuestProgram_ImageIDDependsOnDescriptor(t *testing.T) {
	a, b := echoProgram("a"), echoProgram("b")
	if a.ImageID() == b.ImageID() {
		t.Fatal("distinct descriptors share an image id")
	}
	if a.ImageID() != echoProgram("a").ImageID() {
		t.Fatal("image id not deterministic")
	}
}

func TestLocalProver_ProveVerify(t *testing.T) {
	prog := echoProgram("a")
	r, err := NewLocalProver().Prove(context.Background(), prog, []byte("abcd"))
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if string(r.Journal) != "journal:abcd" {
		t.Errorf("journal: got %q", r.Journal)
	}
	if len(r.Seal) != SealSize || SealSize != 324 {
		t.Errorf("seal length: got %d, want 324", len(r.Seal))
	}
	if r.ImageID != prog.ImageID() {
		t.Errorf("image id: got %v, want %v", r.ImageID, prog.ImageID())
	}
	if err := r.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_EveryBitFlipFails(t *testing.T) {
	prog := echoProgram("a")
	r, err := NewLocalProver().Prove(context.Background(), prog, []byte("abcd"))
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	for i := 0; i < len(r.Seal)*8; i++ {
		seal := bytes.Clone(r.Seal)
		seal[i/8] ^= 1 << (i % 8)
		if err := Verify(r.ImageID, seal, r.Journal); !errors.Is(err, ErrInvalidProof) {
			t.Fatalf("bit %d: flipped seal accepted (err=%v)", i, err)
		}
	}
}

func TestVerify_Mismatches(t *testing.T) {
	r, err := NewLocalProver().Prove(context.Background(), echoProgram("a"), []byte("abcd"))
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if err := Verify(echoProgram("b").ImageID(), r.Seal, r.Journal); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("foreign image id: got %v", err)
	}
	if err := Verify(r.ImageID, r.Seal, []byte("journal:abce")); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("altered journal: got %v", err)
	}
	if err := Verify(r.ImageID, r.Seal[:SealSize-1], r.Journal); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("truncated seal: got %v", err)
	}
}

func TestSeal_PointsBindStatement(t *testing.T) {
	idA, idB := echoProgram("a").ImageID(), echoProgram("b").ImageID()
	journal := []byte("journal:abcd")
	base := Seal(idA, journal)

	regions := []struct {
		name       string
		start, end int
	}{
		{"A", sealHeaderSize, sealHeaderSize + pointASize},
		{"B", sealHeaderSize + pointASize, sealHeaderSize + pointASize + pointBSize},
		{"C", sealHeaderSize + pointASize + pointBSize, SealSize},
	}
	others := map[string][]byte{
		"image":   Seal(idB, journal),
		"journal": Seal(idA, []byte("journal:abce")),
	}
	for what, other := range others {
		for _, r := range regions {
			if bytes.Equal(base[r.start:r.end], other[r.start:r.end]) {
				t.Errorf("point %s does not depend on the %s", r.name, what)
			}
		}
	}

	// Relabelling the header for another program leaves points that no
	// longer match it.
	forged := bytes.Clone(base)
	digest := idB.Digest()
	copy(forged[4:36], digest[:])
	if err := Verify(idB, forged, journal); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("relabelled seal accepted (err=%v)", err)
	}

	// Each lane of a point is distinct.
	for _, r := range regions {
		for i := r.start; i+32 < r.end; i += 32 {
			if bytes.Equal(base[i:i+32], base[i+32:i+64]) {
				t.Errorf("point %s: lanes at %d and %d are equal", r.name, i, i+32)
			}
		}
	}
}

func TestLocalProver_GuestError(t *testing.T) {
	guestErr := errors.New("signer mismatch")
	prog := &GuestProgram{Name: "failing", Entry: func([]byte) ([]byte, error) { return nil, guestErr }}
	_, err := NewLocalProver().Prove(context.Background(), prog, nil)
	if !errors.Is(err, ErrProvingBackend) || !errors.Is(err, guestErr) {
		t.Fatalf("got %v, want ErrProvingBackend wrapping the guest error", err)
	}
}

func TestLocalProver_GuestPanic(t *testing.T) {
	prog := &GuestProgram{Name: "panicky", Entry: func([]byte) ([]byte, error) { panic("boom") }}
	_, err := NewLocalProver().Prove(context.Background(), prog, nil)
	if !errors.Is(err, ErrGuestPanicked) {
		t.Fatalf("got %v, want ErrGuestPanicked", err)
	}
}

func TestLocalProver_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	prog := &GuestProgram{Name: "slow", Entry: func([]byte) ([]byte, error) {
		<-release
		return nil, nil
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := NewLocalProver().Prove(ctx, prog, nil)
	if !errors.Is(err, ErrProverTimeout) || !errors.Is(err, ErrProvingBackend) {
		t.Fatalf("got %v, want ErrProverTimeout", err)
	}
}

func TestLocalProver_NilProgram(t *testing.T) {
	if _, err := NewLocalProver().Prove(context.Background(), nil, nil); !errors.Is(err, ErrProvingBackend) {
		t.Fatalf("got %v, want ErrProvingBackend", err)
	}
}
