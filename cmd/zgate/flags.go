package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/zgate/zgate/config"
	"github.com/zgate/zgate/log"
)

// errUsage marks command line mistakes; run maps it to exit code 2.
var errUsage = errors.New("usage")

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	rpcURLFlag = &cli.StringFlag{
		Name:  "rpc-url",
		Usage: "Ethereum JSON-RPC endpoint",
	}
	chainFlag = &cli.StringFlag{
		Name:  "chain",
		Usage: "chain spec (mainnet, sepolia, dev)",
	}
	contractFlag = &cli.StringFlag{
		Name:  "contract",
		Usage: "ERC-20 token address",
	}
	blockFlag = &cli.Uint64Flag{
		Name:  "block",
		Usage: "block number to prove against (default: latest)",
	}
	artifactDirFlag = &cli.StringFlag{
		Name:  "artifact-dir",
		Usage: "directory receiving proof.txt, pub.txt and vk.txt",
	}
	archiveFlag = &cli.StringFlag{
		Name:  "archive",
		Usage: "bolt database keeping the artifacts of every run",
	}
	proveTimeoutFlag = &cli.DurationFlag{
		Name:  "prove-timeout",
		Usage: "upper bound on proving time (0 disables)",
	}
	metricsFileFlag = &cli.StringFlag{
		Name:  "metrics-file",
		Usage: "write Prometheus metrics to this file after each run",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "log level (debug, info, warn, error)",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "log format (text, json)",
	}
	progressFlag = &cli.BoolFlag{
		Name:  "progress",
		Usage: "show a spinner while the pipeline runs",
	}

	parityFlag = &cli.UintFlag{
		Name:  "parity",
		Usage: "recovery parity (0, 1, 27 or 28) for a 64-byte signature",
	}
	dirFlag = &cli.StringFlag{
		Name:  "dir",
		Usage: "directory holding the artifacts (default: artifact dir)",
	}
	keyFlag = &cli.StringFlag{
		Name:  "key",
		Usage: "hex private key to sign with (default: development key)",
	}
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		configFlag,
		rpcURLFlag,
		chainFlag,
		contractFlag,
		blockFlag,
		artifactDirFlag,
		archiveFlag,
		proveTimeoutFlag,
		metricsFileFlag,
		logLevelFlag,
		logFormatFlag,
		progressFlag,
	}
}

// loadConfig resolves the configuration: defaults, then the TOML file,
// then the environment, then flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	config.ApplyEnvironment(cfg)

	if c.IsSet(rpcURLFlag.Name) {
		cfg.RPCURL = c.String(rpcURLFlag.Name)
	}
	if c.IsSet(chainFlag.Name) {
		cfg.Chain = c.String(chainFlag.Name)
	}
	if c.IsSet(contractFlag.Name) {
		cfg.Contract = c.String(contractFlag.Name)
	}
	if c.IsSet(blockFlag.Name) {
		n := c.Uint64(blockFlag.Name)
		cfg.Block = &n
	}
	if c.IsSet(artifactDirFlag.Name) {
		cfg.ArtifactDir = c.String(artifactDirFlag.Name)
	}
	if c.IsSet(archiveFlag.Name) {
		cfg.Archive = c.String(archiveFlag.Name)
	}
	if c.IsSet(proveTimeoutFlag.Name) {
		cfg.ProveTimeout = c.Duration(proveTimeoutFlag.Name)
	}
	if c.IsSet(metricsFileFlag.Name) {
		cfg.MetricsFile = c.String(metricsFileFlag.Name)
	}
	if c.IsSet(logLevelFlag.Name) {
		cfg.Log.Level = c.String(logLevelFlag.Name)
	}
	if c.IsSet(logFormatFlag.Name) {
		cfg.Log.Format = c.String(logFormatFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the configured logger as the default for zgate and
// for go-ethereum.
func setupLogging(cfg *config.Config, w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	l, err := log.NewWithFormat(w, level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	log.SetDefault(l)
	log.InstallGeth(l)
	return l, nil
}

func requireArgs(c *cli.Context, n int, names string) error {
	if c.NArg() != n {
		return fmt.Errorf("%w: zgate %s %s", errUsage, c.Command.Name, names)
	}
	return nil
}
