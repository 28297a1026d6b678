package replay_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/evidenceledger/pkg/canon"
	"github.com/Mindburn-Labs/evidenceledger/pkg/gate"
	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
	"github.com/Mindburn-Labs/evidenceledger/pkg/replay"
	"github.com/Mindburn-Labs/evidenceledger/pkg/store"
	"github.com/Mindburn-Labs/evidenceledger/pkg/taxonomy"
)

func hexOf(r byte) string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = r
	}
	return string(b)
}

func authContext(traceID, spanID string) map[string]interface{} {
	return map[string]interface{}{
		"spec_version":  record.SpecVersion,
		"canon_version": record.CanonVersion,
		"record_type":   string(record.KindAuthContext),
		"trace":         map[string]interface{}{"trace_id": traceID, "span_id": spanID, "span_kind": "root"},
		"producer":      map[string]interface{}{"layer": "identity", "component": "sso-bridge"},
		"ts_ms":         int64(1000),
		"actor":         map[string]interface{}{"actor_kind": "human", "actor_id": "user-1"},
		"credential": map[string]interface{}{
			"credential_kind": "oidc", "issuer": "https://idp.example.com",
			"presented_hash_sha256": hexOf('a'), "verified_at_ms": int64(900), "expires_at_ms": int64(5000),
		},
		"grants": map[string]interface{}{"invoke:tools": true},
	}
}

func policyDecisionAllow(traceID, spanID, authHash string) map[string]interface{} {
	return map[string]interface{}{
		"spec_version":                 record.SpecVersion,
		"canon_version":                record.CanonVersion,
		"record_type":                  string(record.KindPolicyDecision),
		"trace":                        map[string]interface{}{"trace_id": traceID, "span_id": spanID, "span_kind": "policy"},
		"producer":                     map[string]interface{}{"layer": "pdp", "component": "opa-bridge"},
		"ts_ms":                        int64(1100),
		"auth_context_envelope_sha256": authHash,
		"policy": map[string]interface{}{
			"policy_id": "model-access", "policy_version": "1", "policy_sha256": hexOf('b'),
		},
		"request": map[string]interface{}{"action": "invoke", "resource": "models/claude"},
		"decision": map[string]interface{}{
			"result": record.DecisionAllow, "reason_codes": map[string]interface{}{"matched": true}, "obligations": map[string]interface{}{},
		},
	}
}

func modelCall(traceID, spanID, authHash, policyHash, responseSHA string) map[string]interface{} {
	return map[string]interface{}{
		"spec_version":                    record.SpecVersion,
		"canon_version":                   record.CanonVersion,
		"record_type":                     string(record.KindModelCall),
		"trace":                           map[string]interface{}{"trace_id": traceID, "span_id": spanID, "span_kind": "model"},
		"producer":                        map[string]interface{}{"layer": "runtime", "component": "model-gateway"},
		"started_at_ms":                   int64(1200),
		"ended_at_ms":                     int64(1300),
		"auth_context_envelope_sha256":    authHash,
		"policy_decision_envelope_sha256": policyHash,
		"model":                           map[string]interface{}{"provider": "anthropic", "model_id": "claude-3"},
		"request":                         map[string]interface{}{"content_type": "application/json", "sha256": hexOf('c'), "size_bytes": int64(16)},
		"response":                        map[string]interface{}{"content_type": "application/json", "sha256": responseSHA, "size_bytes": int64(32)},
		"outcome":                         map[string]interface{}{"status": "ok"},
	}
}

func acceptChain(t *testing.T, s *store.Store, traceID string, responseSHA string) {
	t.Helper()
	g := gate.New(s)

	auth := authContext(traceID, "00f067aa0ba902b7")
	authHash, err := canon.Hash(auth)
	require.NoError(t, err)
	require.True(t, g.Commit(record.KindAuthContext, authHash, auth).Accepted())

	policy := policyDecisionAllow(traceID, "11f067aa0ba902b7", authHash)
	policyHash, err := canon.Hash(policy)
	require.NoError(t, err)
	require.True(t, g.Commit(record.KindPolicyDecision, policyHash, policy).Accepted())

	model := modelCall(traceID, "22f067aa0ba902b7", authHash, policyHash, responseSHA)
	modelHash, err := canon.Hash(model)
	require.NoError(t, err)
	out := g.Commit(record.KindModelCall, modelHash, model)
	require.True(t, out.Accepted(), "expected accept, got %+v", out)
}

func TestInvariantReplay_Pass(t *testing.T) {
	s := store.New()
	acceptChain(t, s, "4bf92f3577b34da6a3ce929d0e0e4736", hexOf('d'))

	result := replay.InvariantReplay(s, "4bf92f3577b34da6a3ce929d0e0e4736")
	assert.Equal(t, record.ReplayPass, result.Outcome)
	assert.Len(t, result.InputEnvelopeHashes, 3)
}

func TestInvariantReplay_ChainNotFound(t *testing.T) {
	s := store.New()
	result := replay.InvariantReplay(s, "nonexistent")
	assert.Equal(t, record.ReplayFail, result.Outcome)
	assert.Equal(t, taxonomy.ErrKindReplayChainNotFound, result.FailureKind)
}

func TestForensicReplay_PassWhenInvariantPasses(t *testing.T) {
	s := store.New()
	acceptChain(t, s, "4bf92f3577b34da6a3ce929d0e0e4736", hexOf('d'))

	result := replay.ForensicReplay(s, "4bf92f3577b34da6a3ce929d0e0e4736")
	assert.Equal(t, record.ReplayPass, result.Outcome)
}

func TestForensicReplay_DetectsStoredByteTamper(t *testing.T) {
	s := store.New()
	traceID := "4bf92f3577b34da6a3ce929d0e0e4736"
	acceptChain(t, s, traceID, hexOf('d'))

	chain := replayResolve(t, s, traceID)
	a, err := s.GetAccepted(chain[0])
	require.NoError(t, err)
	a.CanonicalJSON = append(append([]byte{}, a.CanonicalJSON...), ' ')

	result := replay.ForensicReplay(s, traceID)
	assert.Equal(t, record.ReplayFail, result.Outcome)
	assert.Equal(t, taxonomy.ErrKindReplayCanonicalJSONMismatch, result.FailureKind)
}

func replayResolve(t *testing.T, s *store.Store, traceID string) []string {
	t.Helper()
	result := replay.InvariantReplay(s, traceID)
	require.Equal(t, record.ReplayPass, result.Outcome)
	return result.InputEnvelopeHashes
}

// TestConstrainedReplay_S6 mirrors spec scenario S6: accept a full
// auth->allow->model_call chain as baseline, produce a candidate trace
// differing only in trace/span identifiers and the model_call response
// reference, and confirm constrained replay passes under a policy that
// allows model_call variance, listing exactly one allowed difference.
func TestConstrainedReplay_S6(t *testing.T) {
	s := store.New()
	baselineTrace := "4bf92f3577b34da6a3ce929d0e0e4736"
	candidateTrace := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab"

	acceptChain(t, s, baselineTrace, hexOf('d'))
	acceptChain(t, s, candidateTrace, hexOf('e'))

	result := replay.ConstrainedReplay(s, baselineTrace, candidateTrace, replay.VariancePolicy{AllowModelCallVariance: true})
	require.Equal(t, record.ReplayPass, result.Outcome)

	allowed, ok := result.Details["allowed_differences"].([]string)
	require.True(t, ok)
	assert.Len(t, allowed, 1)
}

func TestConstrainedReplay_VarianceNotApprovedFails(t *testing.T) {
	s := store.New()
	baselineTrace := "4bf92f3577b34da6a3ce929d0e0e4736"
	candidateTrace := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab"

	acceptChain(t, s, baselineTrace, hexOf('d'))
	acceptChain(t, s, candidateTrace, hexOf('e'))

	result := replay.ConstrainedReplay(s, baselineTrace, candidateTrace, replay.VariancePolicy{})
	assert.Equal(t, record.ReplayFail, result.Outcome)
	assert.Equal(t, taxonomy.ErrKindReplayVarianceNotApproved, result.FailureKind)
}

func TestConstrainedReplay_BaselineMissingFails(t *testing.T) {
	s := store.New()
	candidateTrace := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab"
	acceptChain(t, s, candidateTrace, hexOf('e'))

	result := replay.ConstrainedReplay(s, "missing", candidateTrace, replay.VariancePolicy{})
	assert.Equal(t, record.ReplayFail, result.Outcome)
	assert.Equal(t, taxonomy.ErrKindReplayChainNotFound, result.FailureKind)
}

func TestEmitter_StoresReplayResult(t *testing.T) {
	s := store.New()
	acceptChain(t, s, "4bf92f3577b34da6a3ce929d0e0e4736", hexOf('d'))

	result := replay.InvariantReplay(s, "4bf92f3577b34da6a3ce929d0e0e4736")
	fixedClock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	em := replay.NewEmitter(s).WithClock(fixedClock)

	hash, err := em.Emit(result)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	artifact, err := s.GetReplayResult(hash)
	require.NoError(t, err)
	assert.Equal(t, record.ReplayPass, artifact.Result.Result)
	assert.Equal(t, fixedClock().UnixMilli(), artifact.Result.GeneratedAtMs)
}

func TestEmitter_IsIdempotent(t *testing.T) {
	s := store.New()
	acceptChain(t, s, "4bf92f3577b34da6a3ce929d0e0e4736", hexOf('d'))

	result := replay.InvariantReplay(s, "4bf92f3577b34da6a3ce929d0e0e4736")
	fixedClock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	em := replay.NewEmitter(s).WithClock(fixedClock)

	h1, err := em.Emit(result)
	require.NoError(t, err)
	h2, err := em.Emit(result)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, s.Stats().ReplayCount)
}
