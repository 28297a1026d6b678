package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/Mindburn-Labs/evidenceledger/pkg/config"
	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
	"github.com/Mindburn-Labs/evidenceledger/pkg/replay"
)

func runReplayCmd(args []string, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		replayType       string
		traceID          string
		candidateTraceID string
		allowModelVar    bool
		allowToolVar     bool
		jsonOut          bool
	)
	fs.StringVar(&replayType, "type", string(record.ReplayInvariant), "invariant, forensic, or constrained")
	fs.StringVar(&traceID, "trace", "", "trace_id to replay (baseline trace_id for constrained) (REQUIRED)")
	fs.StringVar(&candidateTraceID, "candidate-trace", "", "candidate trace_id (REQUIRED for constrained)")
	fs.BoolVar(&allowModelVar, "allow-model-variance", false, "variance policy: allow model_call response variance")
	fs.BoolVar(&allowToolVar, "allow-tool-variance", false, "variance policy: allow tool_call response variance")
	fs.BoolVar(&jsonOut, "json", false, "emit the result as JSON")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if traceID == "" {
		fmt.Fprintln(stderr, "Error: --trace is required")
		fs.Usage()
		return 2
	}

	s, err := loadStore(cfg.StorePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading store: %v\n", err)
		return 2
	}

	var result replay.Result
	switch record.ReplayType(replayType) {
	case record.ReplayInvariant:
		result = replay.InvariantReplay(s, traceID)
	case record.ReplayForensic:
		result = replay.ForensicReplay(s, traceID)
	case record.ReplayConstrained:
		if candidateTraceID == "" {
			fmt.Fprintln(stderr, "Error: --candidate-trace is required for constrained replay")
			return 2
		}
		result = replay.ConstrainedReplay(s, traceID, candidateTraceID, replay.VariancePolicy{
			AllowModelCallVariance: allowModelVar,
			AllowToolCallVariance:  allowToolVar,
		})
	default:
		fmt.Fprintf(stderr, "Error: unknown replay type %q\n", replayType)
		return 2
	}

	hash, err := replay.NewEmitter(s).Emit(result)
	if err != nil {
		logger.Warn("failed to persist replay result", "error", err.Error())
	} else if err := saveStore(cfg.StorePath, s); err != nil {
		logger.Warn("failed to persist store after replay", "error", err.Error())
	}

	printReplayResult(stdout, result, hash, jsonOut)
	if result.Outcome != record.ReplayPass {
		return 1
	}
	return 0
}

func printReplayResult(w io.Writer, result replay.Result, resultHash string, jsonOut bool) {
	if jsonOut {
		out := map[string]interface{}{
			"replay_type":  string(result.ReplayType),
			"target_trace": result.TargetTraceID,
			"outcome":      string(result.Outcome),
			"failure_kind": result.FailureKind,
			"result_hash":  resultHash,
			"details":      result.Details,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintf(w, "replay_type:  %s\n", result.ReplayType)
	fmt.Fprintf(w, "target_trace: %s\n", result.TargetTraceID)
	fmt.Fprintf(w, "outcome:      %s\n", result.Outcome)
	if result.FailureKind != "" {
		fmt.Fprintf(w, "failure_kind: %s\n", result.FailureKind)
	}
	if resultHash != "" {
		fmt.Fprintf(w, "result_hash:  %s\n", resultHash)
	}
}
