// Command zgate proves that the signer of a message holds a balance of an
// ERC-20 token at a given block.
//
// Usage:
//
//	zgate [global flags] prove SIGNATURE MESSAGE [--parity N]
//	zgate [global flags] verify [--dir DIR]
//	zgate [global flags] sign MESSAGE [--key HEX]
//	zgate version
//
// Configuration is resolved from defaults, then --config (TOML), then the
// environment (RPC_URL, SIGNING_KEY, ZGATE_*), then flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/zgate/zgate/evmenv"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

// dialBackend opens the chain backend; tests replace it.
var dialBackend = evmenv.Dial

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(stdout, stderr)
	if err := app.RunContext(ctx, append([]string{app.Name}, args...)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:        "zgate",
		Usage:       "prove ERC-20 balances of message signers",
		Version:     version,
		HideVersion: true,
		Writer:      stdout,
		ErrWriter:   stderr,
		Flags:       globalFlags(),
		Commands: []*cli.Command{
			{
				Name:      "prove",
				Usage:     "recover the signer, prove its token balance and write the artifacts",
				ArgsUsage: "SIGNATURE MESSAGE",
				Flags:     []cli.Flag{parityFlag},
				Action:    proveAction,
			},
			{
				Name:   "verify",
				Usage:  "check proof.txt, pub.txt and vk.txt against the configured program",
				Flags:  []cli.Flag{dirFlag},
				Action: verifyAction,
			},
			{
				Name:      "sign",
				Usage:     "sign a message with a private key",
				ArgsUsage: "MESSAGE",
				Flags:     []cli.Flag{keyFlag},
				Action:    signAction,
			},
			{
				Name:  "version",
				Usage: "print version and exit",
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.Writer, "zgate %s (commit %s)\n", version, commit)
					return nil
				},
			},
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}
}
