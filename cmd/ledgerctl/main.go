// ledgerctl is a command-line periphery over the evidence-ledger core:
// commit a record, run a replay engine, or seed a demo chain into a store
// snapshot on disk.
//
// Dispatch style is grounded on core/cmd/helm/main.go's Run(args, stdout,
// stderr) int entrypoint: a flat switch over args[1], flag.FlagSet per
// subcommand, explicit exit codes, no cobra/viper.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Mindburn-Labs/evidenceledger/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, separated from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "commit":
		return runCommitCmd(args[2:], cfg, logger, stdout, stderr)
	case "replay":
		return runReplayCmd(args[2:], cfg, logger, stdout, stderr)
	case "seed":
		return runSeedCmd(args[2:], cfg, logger, stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "ledgerctl — evidence ledger command-line periphery")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  ledgerctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  commit   Submit a record through the commit gate (--kind, --hash, --record)")
	fmt.Fprintln(w, "  replay   Run a replay engine against a stored trace (--type, --trace)")
	fmt.Fprintln(w, "  seed     Write a demo auth->policy->evidence chain into a fresh store snapshot")
	fmt.Fprintln(w, "  help     Show this help")
}
