package zkvm

import (
	"context"
	"errors"
	"fmt"
)

// LocalProver executes guest programs in-process and seals their journals
// with the development seal. It is safe for concurrent use.
type LocalProver struct{}

// NewLocalProver returns a LocalProver.
func NewLocalProver() *LocalProver { return &LocalProver{} }

// Name returns the prover backend name.
func (p *LocalProver) Name() string { return "local" }

type guestResult struct {
	journal []byte
	err     error
}

// Prove runs the program's entry on input. If ctx is done first, Prove
// returns without waiting for the guest; a deadline yields ErrProverTimeout.
func (p *LocalProver) Prove(ctx context.Context, program *GuestProgram, input []byte) (*Receipt, error) {
	if program == nil || program.Entry == nil {
		return nil, fmt.Errorf("%w: nil program", ErrProvingBackend)
	}

	done := make(chan guestResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- guestResult{err: fmt.Errorf("%w: %v", ErrGuestPanicked, r)}
			}
		}()
		journal, err := program.Entry(input)
		done <- guestResult{journal: journal, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrProvingBackend, ErrProverTimeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrProvingBackend, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: guest %s: %w", ErrProvingBackend, program.Name, res.err)
		}
		id := program.ImageID()
		return &Receipt{
			Seal:    Seal(id, res.journal),
			Journal: res.journal,
			ImageID: id,
		}, nil
	}
}
