package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Mindburn-Labs/evidenceledger/pkg/canon"
	"github.com/Mindburn-Labs/evidenceledger/pkg/config"
	"github.com/Mindburn-Labs/evidenceledger/pkg/gate"
	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
	"github.com/Mindburn-Labs/evidenceledger/pkg/store"
)

func runCommitCmd(args []string, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("commit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		kind       string
		hash       string
		recordPath string
		jsonOut    bool
	)
	fs.StringVar(&kind, "kind", "", "record kind: auth_context, policy_decision, model_call, tool_call (REQUIRED)")
	fs.StringVar(&hash, "hash", "", "declared SHA-256 envelope hash (REQUIRED)")
	fs.StringVar(&recordPath, "record", "", "path to the record JSON file (REQUIRED)")
	fs.BoolVar(&jsonOut, "json", false, "emit the outcome as JSON")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if kind == "" || hash == "" || recordPath == "" {
		fmt.Fprintln(stderr, "Error: --kind, --hash, and --record are required")
		fs.Usage()
		return 2
	}

	data, err := os.ReadFile(recordPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading %s: %v\n", recordPath, err)
		return 2
	}

	decoded, err := canon.DecodeStrict(data)
	if err != nil {
		fmt.Fprintf(stderr, "Error decoding record: %v\n", err)
		return 2
	}
	rec, ok := decoded.(map[string]interface{})
	if !ok {
		fmt.Fprintln(stderr, "Error: record must be a JSON object")
		return 2
	}

	s, err := loadStore(cfg.StorePath)
	if err != nil {
		logger.Warn("starting from an empty store", "reason", err.Error())
		s = store.New()
	}

	g := gate.New(s)
	outcome := g.Commit(record.Kind(kind), hash, rec)

	if err := saveStore(cfg.StorePath, s); err != nil {
		fmt.Fprintf(stderr, "Error persisting store: %v\n", err)
		return 1
	}

	printOutcome(stdout, outcome, jsonOut)
	if !outcome.Accepted() {
		return 1
	}
	return 0
}

func printOutcome(w io.Writer, outcome gate.Outcome, jsonOut bool) {
	if jsonOut {
		result := map[string]interface{}{
			"classification": string(outcome.Classification),
			"hash":           outcome.Hash,
			"error_kind":     outcome.ErrorKind,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintf(w, "classification: %s\n", outcome.Classification)
	if outcome.Hash != "" {
		fmt.Fprintf(w, "hash:           %s\n", outcome.Hash)
	}
	if outcome.ErrorKind != "" {
		fmt.Fprintf(w, "error_kind:     %s\n", outcome.ErrorKind)
	}
}
