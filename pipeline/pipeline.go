// Package pipeline drives one proof of a signed message: it recovers the
// signer, pins an EVM environment to a block, preflights balanceOf for the
// signer, packages the guest input, proves, checks the journal against the
// host's own results and persists the artifacts.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/zgate/zgate/artifact"
	"github.com/zgate/zgate/chainspec"
	"github.com/zgate/zgate/contract"
	"github.com/zgate/zgate/crypto"
	"github.com/zgate/zgate/evmenv"
	"github.com/zgate/zgate/guest"
	"github.com/zgate/zgate/log"
	"github.com/zgate/zgate/metrics"
	"github.com/zgate/zgate/zkvm"
)

// Stage names a pipeline step.
type Stage string

// Pipeline stages in execution order.
const (
	StageRecover     Stage = "recover"
	StageEnvironment Stage = "environment"
	StagePreflight   Stage = "preflight"
	StagePackage     Stage = "package"
	StageProve       Stage = "prove"
	StageJournal     Stage = "journal"
	StagePersist     Stage = "persist"
)

// ErrJournalMismatch is returned when the journal committed by the guest
// disagrees with what the host computed. Nothing is persisted in that case.
var ErrJournalMismatch = errors.New("pipeline: journal mismatch")

// StageError tags a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage err is tagged with, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Config wires the pipeline's collaborators.
type Config struct {
	Backend  evmenv.Backend
	Spec     *chainspec.Spec
	Contract common.Address
	Prover   zkvm.Prover
	Sink     artifact.Sink

	// Archive, when set, additionally keeps the artifacts of every run
	// under its run id.
	Archive *artifact.Archive

	// Logger defaults to log.Default().
	Logger *log.Logger

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Block pins the block to prove against; nil means latest.
	Block *uint64

	// ProveTimeout bounds proving; 0 means no bound.
	ProveTimeout time.Duration
}

// Request is one signed message to prove.
type Request struct {
	Message   []byte
	Signature crypto.Signature

	// RunID identifies the run in logs and the archive. A random id is
	// generated when empty.
	RunID string
}

// Result is the outcome of a successful run.
type Result struct {
	RunID      string
	Signer     common.Address
	Commitment evmenv.Commitment
	Balance    *big.Int
	Receipt    *zkvm.Receipt
	Journal    *guest.Journal
}

// Pipeline proves balance-gate statements for one chain and token. A
// Pipeline may run concurrently; each Run owns its environment.
type Pipeline struct {
	cfg     Config
	token   *contract.ERC20
	program *zkvm.GuestProgram
	log     *log.Logger
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Backend == nil:
		return nil, errors.New("pipeline: nil backend")
	case cfg.Spec == nil:
		return nil, errors.New("pipeline: nil chain spec")
	case cfg.Prover == nil:
		return nil, errors.New("pipeline: nil prover")
	case cfg.Sink == nil:
		return nil, errors.New("pipeline: nil artifact sink")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Pipeline{
		cfg:     cfg,
		token:   contract.NewERC20(cfg.Contract),
		program: guest.NewProgram(cfg.Spec, cfg.Contract),
		log:     cfg.Logger.Module("pipeline"),
	}, nil
}

// Program returns the guest program the pipeline proves.
func (p *Pipeline) Program() *zkvm.GuestProgram { return p.program }

// run carries the per-run state between stages.
type run struct {
	id      string
	log     *log.Logger
	req     Request
	signer  common.Address
	env     *evmenv.Env
	call    *evmenv.CallResult
	sealed  *evmenv.Input
	input   []byte
	receipt *zkvm.Receipt
	journal *guest.Journal
	balance *big.Int
}

// Run executes every stage for req. Cancellation of ctx is honoured
// between stages up to proving; once proving starts the run completes
// unless ProveTimeout expires.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{id: req.RunID, req: req}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.log = p.log.With("run", r.id)
	r.log.Info("Starting proof", "chain", p.cfg.Spec.Name, "contract", p.cfg.Contract, "message_len", len(req.Message))

	steps := []struct {
		stage       Stage
		cancellable bool
		fn          func(context.Context, *run) error
	}{
		{StageRecover, true, p.recoverSigner},
		{StageEnvironment, true, p.buildEnvironment},
		{StagePreflight, true, p.preflight},
		{StagePackage, true, p.pack},
		{StageProve, true, p.prove},
		{StageJournal, false, p.checkJournal},
		{StagePersist, false, p.persist},
	}
	var err error
	for _, s := range steps {
		if err = p.step(ctx, r, s.stage, s.cancellable, s.fn); err != nil {
			break
		}
	}
	p.cfg.Metrics.ObserveRun(err)
	if err != nil {
		return nil, err
	}
	r.log.Info("Proof complete", "signer", r.signer, "block", r.env.Commitment(), "balance", r.balance, "image_id", r.receipt.ImageID)
	return &Result{
		RunID:      r.id,
		Signer:     r.signer,
		Commitment: r.env.Commitment(),
		Balance:    r.balance,
		Receipt:    r.receipt,
		Journal:    r.journal,
	}, nil
}

func (p *Pipeline) step(ctx context.Context, r *run, stage Stage, cancellable bool, fn func(context.Context, *run) error) error {
	if cancellable {
		if err := ctx.Err(); err != nil {
			r.log.Warn("Run cancelled", "stage", stage, "err", err)
			return &StageError{Stage: stage, Err: err}
		}
	}
	done := p.cfg.Metrics.StartStage(string(stage))
	err := fn(ctx, r)
	done(err)
	if err != nil {
		if errors.Is(err, ErrJournalMismatch) {
			r.log.Error("Journal mismatch, discarding receipt", "err", err)
		} else {
			r.log.Warn("Stage failed", "stage", stage, "err", err)
		}
		return &StageError{Stage: stage, Err: err}
	}
	r.log.Debug("Stage complete", "stage", stage)
	return nil
}

func (p *Pipeline) recoverSigner(_ context.Context, r *run) error {
	signer, err := crypto.Recover(r.req.Message, r.req.Signature)
	if err != nil {
		return err
	}
	r.signer = signer
	r.log.Info("Recovered signer", "address", signer)
	return nil
}

func (p *Pipeline) buildEnvironment(ctx context.Context, r *run) error {
	env, err := evmenv.Build(ctx, p.cfg.Backend, p.cfg.Block, p.cfg.Spec)
	if err != nil {
		return err
	}
	r.env = env
	r.log.Info("Environment built", "block", env.Commitment())
	return nil
}

func (p *Pipeline) preflight(ctx context.Context, r *run) error {
	call, err := p.token.BalanceOfCall(r.signer)
	if err != nil {
		return err
	}
	res, sealed, err := evmenv.Preflight(ctx, r.env, call)
	if err != nil {
		return err
	}
	balance, err := p.token.UnpackBalance(res.Return)
	if err != nil {
		return fmt.Errorf("%w: %w", evmenv.ErrCallRevert, err)
	}
	r.call, r.sealed, r.balance = res, sealed, balance
	r.log.Info("Preflight complete", "balance", balance, "gas", res.GasUsed, "nodes", len(sealed.Nodes), "codes", len(sealed.Codes))
	return nil
}

func (p *Pipeline) pack(_ context.Context, r *run) error {
	input, err := guest.PackInput(&guest.Input{
		Signature: r.req.Signature,
		Message:   r.req.Message,
		Signer:    r.signer,
		Env:       r.sealed,
	})
	if err != nil {
		return err
	}
	r.input = input
	r.log.Debug("Packaged guest input", "bytes", len(input))
	return nil
}

func (p *Pipeline) prove(ctx context.Context, r *run) error {
	proveCtx := context.WithoutCancel(ctx)
	if p.cfg.ProveTimeout > 0 {
		var cancel context.CancelFunc
		proveCtx, cancel = context.WithTimeout(proveCtx, p.cfg.ProveTimeout)
		defer cancel()
	}
	r.log.Info("Proving", "prover", p.cfg.Prover.Name(), "image_id", p.program.ImageID())
	receipt, err := p.cfg.Prover.Prove(proveCtx, p.program, r.input)
	if err != nil {
		return err
	}
	if receipt == nil {
		return fmt.Errorf("%w: nil receipt", zkvm.ErrProvingBackend)
	}
	if receipt.ImageID != p.program.ImageID() {
		return fmt.Errorf("%w: receipt for image %s, want %s", zkvm.ErrProvingBackend, receipt.ImageID, p.program.ImageID())
	}
	if err := receipt.Verify(); err != nil {
		return fmt.Errorf("%w: %w", zkvm.ErrProvingBackend, err)
	}
	r.receipt = receipt
	return nil
}

func (p *Pipeline) checkJournal(_ context.Context, r *run) error {
	j, err := guest.DecodeJournal(r.receipt.Journal)
	if err != nil {
		return err
	}
	want := &guest.Journal{
		Version:     guest.JournalVersion,
		BlockNumber: r.env.Commitment().Number,
		BlockHash:   r.env.Commitment().Hash,
		MessageHash: crypto.MessageHash(r.req.Message),
		Signer:      r.signer,
		Contract:    p.cfg.Contract,
		Result:      r.call.Return,
	}
	if err := compareJournal(j, want); err != nil {
		return err
	}
	balance, err := j.Balance()
	if err != nil {
		return err
	}
	r.journal, r.balance = j, balance
	return nil
}

func compareJournal(got, want *guest.Journal) error {
	switch {
	case got.Commitment() != want.Commitment():
		return fmt.Errorf("%w: block %s, host %s", ErrJournalMismatch, got.Commitment(), want.Commitment())
	case got.MessageHash != want.MessageHash:
		return fmt.Errorf("%w: message hash %s, host %s", ErrJournalMismatch, got.MessageHash, want.MessageHash)
	case got.Signer != want.Signer:
		return fmt.Errorf("%w: signer %s, host %s", ErrJournalMismatch, got.Signer, want.Signer)
	case got.Contract != want.Contract:
		return fmt.Errorf("%w: contract %s, host %s", ErrJournalMismatch, got.Contract, want.Contract)
	case !bytes.Equal(got.Result, want.Result):
		return fmt.Errorf("%w: result 0x%x, host 0x%x", ErrJournalMismatch, got.Result, want.Result)
	}
	return nil
}

func (p *Pipeline) persist(_ context.Context, r *run) error {
	sink := p.cfg.Sink
	if p.cfg.Archive != nil {
		sink = artifact.MultiSink{sink, p.cfg.Archive.Run(r.id)}
	}
	if err := artifact.Persist(sink, r.receipt); err != nil {
		return err
	}
	r.log.Info("Artifacts persisted")
	return nil
}
