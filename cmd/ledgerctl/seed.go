package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/evidenceledger/pkg/canon"
	"github.com/Mindburn-Labs/evidenceledger/pkg/config"
	"github.com/Mindburn-Labs/evidenceledger/pkg/gate"
	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
	"github.com/Mindburn-Labs/evidenceledger/pkg/store"
)

// runSeedCmd writes a demo auth_context -> policy_decision(allow) ->
// tool_call chain into a fresh store snapshot, for local experimentation
// with the replay commands. trace_id and span_id are random per spec.md's
// "non-zero hex" pattern — google/uuid.New() hyphens are stripped to get a
// 32-hex-digit string, the same length as a trace_id; span_id takes the
// first 16 hex digits of a fresh UUID.
func runSeedCmd(args []string, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var jsonOut bool
	fs.BoolVar(&jsonOut, "json", false, "emit the seeded trace_id as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	traceID := hexID(32)
	s := store.New()
	g := gate.New(s)

	auth := record.AuthContext{
		SpecVersion:  record.SpecVersion,
		CanonVersion: record.CanonVersion,
		RecordType:   string(record.KindAuthContext),
		Trace:        record.Trace{TraceID: traceID, SpanID: hexID(16), SpanKind: "root"},
		Producer:     record.Producer{Layer: "identity", Component: "ledgerctl-seed"},
		TsMs:         1700000000000,
		Actor:        record.Actor{ActorKind: "human", ActorID: "demo-user"},
		Credential: record.Credential{
			CredentialKind:      "demo",
			Issuer:              "ledgerctl",
			PresentedHashSHA256: strings.Repeat("a", 64),
			VerifiedAtMs:        1700000000000,
			ExpiresAtMs:         1700003600000,
		},
		Grants: record.StringSet{"invoke:tools": true},
	}
	authHash, authRec, err := hashRecord(auth)
	if err != nil {
		fmt.Fprintf(stderr, "seed: encoding auth_context: %v\n", err)
		return 1
	}
	if out := g.Commit(record.KindAuthContext, authHash, authRec); !out.Accepted() {
		fmt.Fprintf(stderr, "seed: auth_context rejected: %s\n", out.ErrorKind)
		return 1
	}

	policy := record.PolicyDecision{
		SpecVersion:               record.SpecVersion,
		CanonVersion:              record.CanonVersion,
		RecordType:                string(record.KindPolicyDecision),
		Trace:                     record.Trace{TraceID: traceID, SpanID: hexID(16), SpanKind: "policy"},
		Producer:                  record.Producer{Layer: "pdp", Component: "ledgerctl-seed"},
		TsMs:                      1700000000100,
		AuthContextEnvelopeSHA256: authHash,
		Policy:                    record.PolicyRef{PolicyID: "demo-access", PolicyVersion: "1", PolicySHA256: strings.Repeat("b", 64)},
		Request:                   record.Request{Action: "invoke", Resource: "tools/demo"},
		Decision: record.Decision{
			Result:      record.DecisionAllow,
			ReasonCodes: record.StringSet{"demo_seed": true},
			Obligations: record.StringSet{},
		},
	}
	policyHash, policyRec, err := hashRecord(policy)
	if err != nil {
		fmt.Fprintf(stderr, "seed: encoding policy_decision: %v\n", err)
		return 1
	}
	if out := g.Commit(record.KindPolicyDecision, policyHash, policyRec); !out.Accepted() {
		fmt.Fprintf(stderr, "seed: policy_decision rejected: %s\n", out.ErrorKind)
		return 1
	}

	tool := record.ToolCall{
		SpecVersion:                  record.SpecVersion,
		CanonVersion:                 record.CanonVersion,
		RecordType:                   string(record.KindToolCall),
		Trace:                        record.Trace{TraceID: traceID, SpanID: hexID(16), SpanKind: "tool"},
		Producer:                     record.Producer{Layer: "runtime", Component: "ledgerctl-seed"},
		StartedAtMs:                  1700000000200,
		EndedAtMs:                    1700000000300,
		AuthContextEnvelopeSHA256:    authHash,
		PolicyDecisionEnvelopeSHA256: policyHash,
		Tool:                         record.ToolIdentity{ToolName: "demo-tool"},
		Request:                      record.ContentRef{ContentType: "application/json", SHA256: strings.Repeat("c", 64), SizeBytes: 16},
		Response:                     record.ContentRef{ContentType: "application/json", SHA256: strings.Repeat("d", 64), SizeBytes: 32},
		Outcome:                      record.Outcome{Status: "ok"},
	}
	toolHash, toolRec, err := hashRecord(tool)
	if err != nil {
		fmt.Fprintf(stderr, "seed: encoding tool_call: %v\n", err)
		return 1
	}
	if out := g.Commit(record.KindToolCall, toolHash, toolRec); !out.Accepted() {
		fmt.Fprintf(stderr, "seed: tool_call rejected: %s\n", out.ErrorKind)
		return 1
	}

	if err := saveStore(cfg.StorePath, s); err != nil {
		fmt.Fprintf(stderr, "Error persisting seeded store: %v\n", err)
		return 1
	}
	logger.Info("seeded demo chain", "trace_id", traceID, "store_path", cfg.StorePath)

	if jsonOut {
		data, _ := json.MarshalIndent(map[string]string{"trace_id": traceID}, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "seeded demo chain, trace_id: %s\n", traceID)
	}
	return 0
}

// hashRecord round-trips a typed record struct through the canon codec,
// returning both its envelope hash and the generic map form the commit
// gate expects.
func hashRecord(typed interface{}) (hash string, generic map[string]interface{}, err error) {
	g, err := canon.ToGeneric(typed)
	if err != nil {
		return "", nil, err
	}
	generic, ok := g.(map[string]interface{})
	if !ok {
		return "", nil, fmt.Errorf("record did not decode to a JSON object")
	}
	hash, err = canon.Hash(generic)
	if err != nil {
		return "", nil, err
	}
	return hash, generic, nil
}

func hexID(n int) string {
	out := strings.ReplaceAll(uuid.NewString(), "-", "")
	for len(out) < n {
		out += strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return out[:n]
}
