package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/zgate/zgate/artifact"
	"github.com/zgate/zgate/crypto"
	"github.com/zgate/zgate/evmenv"
	"github.com/zgate/zgate/guest"
	"github.com/zgate/zgate/log"
	"github.com/zgate/zgate/metrics"
	"github.com/zgate/zgate/pipeline"
	"github.com/zgate/zgate/zkvm"
)

const spinnerRefresh = 100 * time.Millisecond

func proveAction(c *cli.Context) error {
	if err := requireArgs(c, 2, "SIGNATURE MESSAGE"); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg, c.App.ErrWriter)
	if err != nil {
		return err
	}
	log.Info("Starting zgate", "version", version, "chain", cfg.Chain, "contract", cfg.Contract)
	sig, err := parseSignature(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	msg := []byte(c.Args().Get(1))
	spec, err := cfg.Spec()
	if err != nil {
		return err
	}

	backend, err := dialBackend(c.Context, cfg.RPCURL)
	if err != nil {
		return err
	}
	cached, err := evmenv.NewCachingBackend(backend, cfg.ProofCacheSize)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", artifact.ErrPersistenceIO, err)
	}
	var archive *artifact.Archive
	if cfg.Archive != "" {
		if archive, err = artifact.OpenArchive(cfg.Archive, nil); err != nil {
			return err
		}
		defer archive.Close()
	}

	m := metrics.New(nil)
	p, err := pipeline.New(pipeline.Config{
		Backend:      cached,
		Spec:         spec,
		Contract:     cfg.ContractAddress(),
		Prover:       zkvm.NewLocalProver(),
		Sink:         artifact.NewFileSink(cfg.ArtifactDir),
		Archive:      archive,
		Logger:       logger,
		Metrics:      m,
		Block:        cfg.BlockNumber(),
		ProveTimeout: cfg.ProveTimeout,
	})
	if err != nil {
		return err
	}

	var s *spinner.Spinner
	if c.Bool(progressFlag.Name) {
		s = spinner.New(spinner.CharSets[9], spinnerRefresh, spinner.WithWriter(c.App.ErrWriter))
		s.Suffix = "  proving balance of signer..."
		s.Start()
	}
	res, err := p.Run(c.Context, pipeline.Request{Message: msg, Signature: sig})
	if s != nil {
		s.Stop()
	}
	if cfg.MetricsFile != "" {
		if werr := m.WriteTextfile(cfg.MetricsFile); werr != nil {
			log.Warn("Failed to write metrics", "path", cfg.MetricsFile, "err", werr)
		}
	}
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Recovered address: %s\n", res.Signer)
	fmt.Fprintf(w, "Block:             %s\n", res.Commitment)
	fmt.Fprintf(w, "Balance:           %s\n", res.Balance)
	fmt.Fprintf(w, "Image ID:          %s\n", res.Receipt.ImageID)
	fmt.Fprintf(w, "Artifacts:         %s\n", cfg.ArtifactDir)
	return nil
}

// parseSignature decodes a hex signature, with or without 0x. A --parity
// flag supplies the recovery bit for 64-byte signatures.
func parseSignature(c *cli.Context, s string) (crypto.Signature, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return crypto.Signature{}, fmt.Errorf("%w: %v", crypto.ErrMalformedSignature, err)
	}
	if !c.IsSet(parityFlag.Name) {
		return crypto.ParseSignature(b)
	}
	parity := c.Uint(parityFlag.Name)
	if parity > 255 {
		return crypto.Signature{}, crypto.ErrInvalidParity
	}
	return crypto.ParseSignatureWithParity(b, byte(parity))
}

func verifyAction(c *cli.Context) error {
	if err := requireArgs(c, 0, ""); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if _, err := setupLogging(cfg, c.App.ErrWriter); err != nil {
		return err
	}
	spec, err := cfg.Spec()
	if err != nil {
		return err
	}
	dir := cfg.ArtifactDir
	if c.IsSet(dirFlag.Name) {
		dir = c.String(dirFlag.Name)
	}
	log.Debug("Loading artifacts", "dir", dir)

	a, err := artifact.Load(artifact.NewFileSink(dir))
	if err != nil {
		return err
	}
	program := guest.NewProgram(spec, cfg.ContractAddress())
	if a.ImageID != program.ImageID() {
		return fmt.Errorf("%w: vk.txt holds image %s, program is %s", zkvm.ErrInvalidProof, a.ImageID, program.ImageID())
	}
	if err := zkvm.Verify(program.ImageID(), a.Seal, a.Journal); err != nil {
		log.Error("Proof rejected", "dir", dir, "image_id", a.ImageID, "err", err)
		return err
	}
	j, err := guest.DecodeJournal(a.Journal)
	if err != nil {
		return err
	}
	balance, err := j.Balance()
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintln(w, "Proof OK")
	fmt.Fprintf(w, "Signer:   %s\n", j.Signer)
	fmt.Fprintf(w, "Contract: %s\n", j.Contract)
	fmt.Fprintf(w, "Block:    %s\n", j.Commitment())
	fmt.Fprintf(w, "Balance:  %s\n", balance)
	return nil
}

func signAction(c *cli.Context) error {
	if err := requireArgs(c, 1, "MESSAGE"); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	keyHex := cfg.SigningKey
	if c.IsSet(keyFlag.Name) {
		keyHex = c.String(keyFlag.Name)
	}
	key, err := crypto.HexToKey(keyHex)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	sig, err := crypto.SignMessage(key, []byte(c.Args().Get(0)))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hexutil.Encode(sig.Bytes()))
	return nil
}
