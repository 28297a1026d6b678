// Package replay implements the three replay engines — invariant,
// forensic, constrained — and the replay result emitter.
//
// Grounded on core/pkg/replay/engine.go's Engine.StartReplay: a sequential
// walk over an ordered evidence trail that short-circuits on first
// divergence and emits a single terminal result describing what failed and
// where, rather than accumulating partial state across a failure.
package replay

import (
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/evidenceledger/pkg/canon"
	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
	"github.com/Mindburn-Labs/evidenceledger/pkg/schema"
	"github.com/Mindburn-Labs/evidenceledger/pkg/store"
	"github.com/Mindburn-Labs/evidenceledger/pkg/taxonomy"
	"github.com/Mindburn-Labs/evidenceledger/pkg/trace"
)

// Result mirrors record.ReplayResult but without the GeneratedAtMs
// stamping, which the emitter applies at store time — the engines
// themselves are pure functions of the store and never touch a clock,
// following spec.md §5's "replay executes as if single-threaded, purely
// computational" model.
type Result struct {
	ReplayType         record.ReplayType
	TargetTraceID      string
	InputEnvelopeHashes []string
	Outcome            record.ReplayOutcome
	FailureClass       string
	FailureKind        string
	Details            map[string]interface{}
}

func pass(replayType record.ReplayType, traceID string, hashes []string, details map[string]interface{}) Result {
	return Result{
		ReplayType:          replayType,
		TargetTraceID:       traceID,
		InputEnvelopeHashes: hashes,
		Outcome:             record.ReplayPass,
		Details:             details,
	}
}

func fail(replayType record.ReplayType, traceID string, hashes []string, class taxonomy.Classification, kind, diagnostic string) Result {
	return Result{
		ReplayType:          replayType,
		TargetTraceID:       traceID,
		InputEnvelopeHashes: hashes,
		Outcome:             record.ReplayFail,
		FailureClass:        string(class),
		FailureKind:         kind,
		Details:             map[string]interface{}{"diagnostic": diagnostic},
	}
}

// InvariantReplay verifies a trace's accepted chain without execution:
// every record's schema re-validates, its canonical bytes recompute to its
// stored key, its trace_id matches, and prerequisite/authorization
// relationships still hold.
func InvariantReplay(s *store.Store, traceID string) Result {
	chain := trace.Resolve(s, traceID, trace.Options{})
	if chain == nil {
		return fail(record.ReplayInvariant, traceID, nil, taxonomy.REPLAY_CHAIN_NOT_FOUND, taxonomy.ErrKindReplayChainNotFound, "no accepted chain for trace_id")
	}

	hashes := make([]string, 0, len(chain))
	for _, e := range chain {
		hashes = append(hashes, e.Hash)
	}

	byHash := make(map[string]trace.Entry, len(chain))
	for _, e := range chain {
		byHash[e.Hash] = e
	}

	for _, e := range chain {
		if _, v := schema.Validate(e.Record); v != nil {
			return fail(record.ReplayInvariant, traceID, hashes, taxonomy.SCHEMA_REJECT, v.Kind,
				fmt.Sprintf("record %s failed re-validation: %s", e.Hash, v.Message))
		}

		canonicalJSON, err := canon.Canonicalize(e.Record)
		if err != nil {
			return fail(record.ReplayInvariant, traceID, hashes, taxonomy.SCHEMA_REJECT, taxonomy.ErrKindCanonicalizationFailed,
				fmt.Sprintf("record %s failed to recanonicalize: %v", e.Hash, err))
		}
		if got := canon.HashBytes(canonicalJSON); got != e.Hash {
			return fail(record.ReplayInvariant, traceID, hashes, taxonomy.HASH_MISMATCH, taxonomy.ErrKindHashMismatchEnvelope,
				fmt.Sprintf("record %s recomputes to %s", e.Hash, got))
		}

		if recTraceID(e.Record) != traceID {
			return fail(record.ReplayInvariant, traceID, hashes, taxonomy.TRACE_VIOLATION, taxonomy.ErrKindTraceViolationMismatch,
				fmt.Sprintf("record %s has trace_id %q, expected %q", e.Hash, recTraceID(e.Record), traceID))
		}

		switch e.Kind {
		case record.KindPolicyDecision:
			authHash, _ := e.Record["auth_context_envelope_sha256"].(string)
			auth, ok := byHash[authHash]
			if !ok || recTraceID(auth.Record) != traceID {
				return fail(record.ReplayInvariant, traceID, hashes, taxonomy.MISSING_PREREQ, taxonomy.ErrKindMissingPrereqAuthContext,
					fmt.Sprintf("policy_decision %s references auth_context %s outside the chain", e.Hash, authHash))
			}

		case record.KindModelCall, record.KindToolCall:
			authHash, _ := e.Record["auth_context_envelope_sha256"].(string)
			policyHash, _ := e.Record["policy_decision_envelope_sha256"].(string)
			auth, ok := byHash[authHash]
			if !ok || recTraceID(auth.Record) != traceID {
				return fail(record.ReplayInvariant, traceID, hashes, taxonomy.MISSING_PREREQ, taxonomy.ErrKindMissingPrereqAuthContext,
					fmt.Sprintf("%s %s references auth_context %s outside the chain", e.Kind, e.Hash, authHash))
			}
			policy, ok := byHash[policyHash]
			if !ok || recTraceID(policy.Record) != traceID {
				return fail(record.ReplayInvariant, traceID, hashes, taxonomy.MISSING_PREREQ, taxonomy.ErrKindMissingPrereqPolicyDecision,
					fmt.Sprintf("%s %s references policy_decision %s outside the chain", e.Kind, e.Hash, policyHash))
			}
			decision, _ := policy.Record["decision"].(map[string]interface{})
			result, _ := decision["result"].(string)
			if result != record.DecisionAllow {
				return fail(record.ReplayInvariant, traceID, hashes, taxonomy.UNAUTHORIZED_EXECUTION, taxonomy.ErrKindUnauthorizedPolicyDenied,
					fmt.Sprintf("%s %s authorized by a non-allow policy decision", e.Kind, e.Hash))
			}
		}
	}

	return pass(record.ReplayInvariant, traceID, hashes, nil)
}

// ForensicReplay performs bit-exact re-verification: beyond every invariant
// check, the canonical bytes recomputed during replay must equal the bytes
// stored with the original artifact.
//
// This implements the "local recompute" strategy spec.md §4.8 offers as an
// alternative to "re-ingest through a fresh gate" — chosen because it
// avoids constructing a second store and gate per forensic run, and because
// the two strategies are specified to be equivalent; local recompute is
// also exactly what invariant replay already does at the hash-comparison
// step, so forensic replay is invariant replay plus one more comparison
// against the artifact's own stored canonical bytes.
func ForensicReplay(s *store.Store, traceID string) Result {
	invariant := InvariantReplay(s, traceID)
	if invariant.Outcome == record.ReplayFail {
		return withType(invariant, record.ReplayForensic)
	}

	chain := trace.Resolve(s, traceID, trace.Options{})
	hashes := invariant.InputEnvelopeHashes

	for _, e := range chain {
		stored, err := s.GetAccepted(e.Hash)
		if err != nil {
			return fail(record.ReplayForensic, traceID, hashes, taxonomy.HASH_MISMATCH, taxonomy.ErrKindReplayCanonicalJSONMismatch,
				fmt.Sprintf("record %s missing from accepted namespace during forensic recompute", e.Hash))
		}

		recomputed, err := canon.Canonicalize(e.Record)
		if err != nil {
			return fail(record.ReplayForensic, traceID, hashes, taxonomy.SCHEMA_REJECT, taxonomy.ErrKindCanonicalizationFailed,
				fmt.Sprintf("record %s failed to recanonicalize", e.Hash))
		}
		if string(recomputed) != string(stored.CanonicalJSON) {
			return fail(record.ReplayForensic, traceID, hashes, taxonomy.HASH_MISMATCH, taxonomy.ErrKindReplayCanonicalJSONMismatch,
				fmt.Sprintf("record %s's recomputed canonical bytes differ from the stored bytes", e.Hash))
		}
	}

	return pass(record.ReplayForensic, traceID, hashes, nil)
}

func withType(r Result, t record.ReplayType) Result {
	r.ReplayType = t
	return r
}

func recTraceID(rec map[string]interface{}) string {
	t, ok := rec["trace"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := t["trace_id"].(string)
	return id
}

// --- Constrained replay -----------------------------------------------

// VariancePolicy governs which evidence kinds may have a differing
// response reference between baseline and candidate.
type VariancePolicy struct {
	AllowModelCallVariance bool
	AllowToolCallVariance  bool
}

func (p VariancePolicy) allows(kind record.Kind) bool {
	switch kind {
	case record.KindModelCall:
		return p.AllowModelCallVariance
	case record.KindToolCall:
		return p.AllowToolCallVariance
	default:
		return false
	}
}

// policySignature is the order-independent projection of a policy decision
// used for both policy-path equivalence and evidence identity.
type policySignature struct {
	PolicyID      string
	PolicyVersion string
	PolicySHA256  string
	Action        string
	Resource      string
	Result        string
	ReasonCodes   string // sorted, comma-joined
	Obligations   string // sorted, comma-joined
}

func (s policySignature) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		s.PolicyID, s.PolicyVersion, s.PolicySHA256, s.Action, s.Resource, s.Result, s.ReasonCodes, s.Obligations)
}

func signatureOf(rec map[string]interface{}) policySignature {
	policy, _ := rec["policy"].(map[string]interface{})
	req, _ := rec["request"].(map[string]interface{})
	decision, _ := rec["decision"].(map[string]interface{})

	policyID, _ := policy["policy_id"].(string)
	policyVersion, _ := policy["policy_version"].(string)
	policySHA, _ := policy["policy_sha256"].(string)
	action, _ := req["action"].(string)
	resource, _ := req["resource"].(string)
	result, _ := decision["result"].(string)

	return policySignature{
		PolicyID:      policyID,
		PolicyVersion: policyVersion,
		PolicySHA256:  policySHA,
		Action:        action,
		Resource:      resource,
		Result:        result,
		ReasonCodes:   sortedSetKeys(decision["reason_codes"]),
		Obligations:   sortedSetKeys(decision["obligations"]),
	}
}

func sortedSetKeys(v interface{}) string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}

// evidenceIdentity is the cross-trace comparable identity of a model_call
// or tool_call, per spec.md §4.9: (kind, tool/model identifier, request
// reference, policy-decision signature of its referenced policy).
type evidenceIdentity struct {
	Kind          record.Kind
	Identifier    string
	RequestSHA256 string
	PolicySig     string
}

func (id evidenceIdentity) key() string {
	return fmt.Sprintf("%s|%s|%s|%s", id.Kind, id.Identifier, id.RequestSHA256, id.PolicySig)
}

func evidenceIdentityOf(e trace.Entry, byHash map[string]trace.Entry) evidenceIdentity {
	req, _ := e.Record["request"].(map[string]interface{})
	requestSHA, _ := req["sha256"].(string)

	var identifier string
	switch e.Kind {
	case record.KindModelCall:
		model, _ := e.Record["model"].(map[string]interface{})
		identifier, _ = model["model_id"].(string)
	case record.KindToolCall:
		tool, _ := e.Record["tool"].(map[string]interface{})
		identifier, _ = tool["tool_name"].(string)
	}

	var policySig string
	policyHash, _ := e.Record["policy_decision_envelope_sha256"].(string)
	if policy, ok := byHash[policyHash]; ok {
		policySig = signatureOf(policy.Record).String()
	}

	return evidenceIdentity{Kind: e.Kind, Identifier: identifier, RequestSHA256: requestSHA, PolicySig: policySig}
}

// ConstrainedReplay compares a baseline trace and a candidate trace under
// an explicit variance policy.
func ConstrainedReplay(s *store.Store, baselineTraceID, candidateTraceID string, policy VariancePolicy) Result {
	baselineInv := InvariantReplay(s, baselineTraceID)
	if baselineInv.Outcome == record.ReplayFail {
		return withTarget(withType(baselineInv, record.ReplayConstrained), baselineTraceID, candidateTraceID)
	}
	candidateInv := InvariantReplay(s, candidateTraceID)
	if candidateInv.Outcome == record.ReplayFail {
		return withTarget(withType(candidateInv, record.ReplayConstrained), baselineTraceID, candidateTraceID)
	}

	allHashes := append(append([]string{}, baselineInv.InputEnvelopeHashes...), candidateInv.InputEnvelopeHashes...)

	baselineChain := trace.Resolve(s, baselineTraceID, trace.Options{})
	candidateChain := trace.Resolve(s, candidateTraceID, trace.Options{})
	baselineByHash := indexByHash(baselineChain)
	candidateByHash := indexByHash(candidateChain)

	baselineSigs := policySignatureMultiset(baselineChain)
	candidateSigs := policySignatureMultiset(candidateChain)
	if !multisetsEqual(baselineSigs, candidateSigs) {
		return failConstrained(baselineTraceID, candidateTraceID, allHashes, taxonomy.REPLAY_POLICY_PATH_MISMATCH, taxonomy.ErrKindReplayPolicyPathMismatch,
			"baseline and candidate policy-decision signatures differ as multisets")
	}

	baselineIdents := evidenceIdentityMultiset(baselineChain, baselineByHash)
	candidateIdents := evidenceIdentityMultiset(candidateChain, candidateByHash)
	if !identitySetsEqual(baselineIdents, candidateIdents) {
		return failConstrained(baselineTraceID, candidateTraceID, allHashes, taxonomy.REPLAY_POLICY_PATH_MISMATCH, taxonomy.ErrKindReplayPolicyPathMismatch,
			"baseline and candidate evidence identities differ as multisets")
	}

	allowedDifferences := make([]string, 0)
	baselineByIdentity := groupByIdentity(baselineChain, baselineByHash)
	candidateByIdentity := groupByIdentity(candidateChain, candidateByHash)

	for key, baseEntry := range baselineByIdentity {
		candEntry, ok := candidateByIdentity[key]
		if !ok {
			continue // already caught by the identity-multiset check above
		}
		baseResp, _ := baseEntry.Record["response"].(map[string]interface{})
		candResp, _ := candEntry.Record["response"].(map[string]interface{})
		baseSHA, _ := baseResp["sha256"].(string)
		candSHA, _ := candResp["sha256"].(string)

		if baseSHA == candSHA {
			continue
		}
		if !policy.allows(baseEntry.Kind) {
			return failConstrained(baselineTraceID, candidateTraceID, allHashes, taxonomy.REPLAY_VARIANCE_VIOLATION, taxonomy.ErrKindReplayVarianceNotApproved,
				fmt.Sprintf("%s response differs (%s vs %s) without policy approval", baseEntry.Kind, baseEntry.Hash, candEntry.Hash))
		}
		allowedDifferences = append(allowedDifferences, fmt.Sprintf("%s:%s->%s", baseEntry.Kind, baseEntry.Hash, candEntry.Hash))
	}
	sort.Strings(allowedDifferences)

	return Result{
		ReplayType:          record.ReplayConstrained,
		TargetTraceID:       baselineTraceID + "|" + candidateTraceID,
		InputEnvelopeHashes: allHashes,
		Outcome:             record.ReplayPass,
		Details: map[string]interface{}{
			"baseline_trace_id":   baselineTraceID,
			"candidate_trace_id":  candidateTraceID,
			"allowed_differences": allowedDifferences,
		},
	}
}

func withTarget(r Result, baselineTraceID, candidateTraceID string) Result {
	r.TargetTraceID = baselineTraceID + "|" + candidateTraceID
	return r
}

func failConstrained(baselineTraceID, candidateTraceID string, hashes []string, class taxonomy.Classification, kind, diagnostic string) Result {
	r := fail(record.ReplayConstrained, baselineTraceID+"|"+candidateTraceID, hashes, class, kind, diagnostic)
	return r
}

func indexByHash(chain []trace.Entry) map[string]trace.Entry {
	m := make(map[string]trace.Entry, len(chain))
	for _, e := range chain {
		m[e.Hash] = e
	}
	return m
}

func policySignatureMultiset(chain []trace.Entry) []string {
	out := make([]string, 0)
	for _, e := range chain {
		if e.Kind == record.KindPolicyDecision {
			out = append(out, signatureOf(e.Record).String())
		}
	}
	sort.Strings(out)
	return out
}

func multisetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func evidenceIdentityMultiset(chain []trace.Entry, byHash map[string]trace.Entry) []string {
	out := make([]string, 0)
	for _, e := range chain {
		if e.Kind == record.KindModelCall || e.Kind == record.KindToolCall {
			out = append(out, evidenceIdentityOf(e, byHash).key())
		}
	}
	sort.Strings(out)
	return out
}

func identitySetsEqual(a, b []string) bool {
	return multisetsEqual(a, b)
}

func groupByIdentity(chain []trace.Entry, byHash map[string]trace.Entry) map[string]trace.Entry {
	out := make(map[string]trace.Entry)
	for _, e := range chain {
		if e.Kind == record.KindModelCall || e.Kind == record.KindToolCall {
			out[evidenceIdentityOf(e, byHash).key()] = e
		}
	}
	return out
}
