package gate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/evidenceledger/pkg/canon"
	"github.com/Mindburn-Labs/evidenceledger/pkg/gate"
	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
	"github.com/Mindburn-Labs/evidenceledger/pkg/store"
	"github.com/Mindburn-Labs/evidenceledger/pkg/taxonomy"
)

func hexOf(r byte) string {
	s := make([]byte, 64)
	for i := range s {
		s[i] = r
	}
	return string(s)
}

func authContext(traceID string) map[string]interface{} {
	return map[string]interface{}{
		"spec_version":  record.SpecVersion,
		"canon_version": record.CanonVersion,
		"record_type":   string(record.KindAuthContext),
		"trace": map[string]interface{}{
			"trace_id":  traceID,
			"span_id":   "00f067aa0ba902b7",
			"span_kind": "root",
		},
		"producer": map[string]interface{}{"layer": "identity", "component": "sso-bridge"},
		"ts_ms":    int64(1769817600000),
		"actor":    map[string]interface{}{"actor_kind": "human", "actor_id": "user-1"},
		"credential": map[string]interface{}{
			"credential_kind":       "oidc",
			"issuer":                "https://idp.example.com",
			"presented_hash_sha256": hexOf('a'),
			"verified_at_ms":        int64(1769817500000),
			"expires_at_ms":         int64(1769821200000),
		},
		"grants": map[string]interface{}{"read:reports": true},
	}
}

func policyDecision(traceID, authHash, result string) map[string]interface{} {
	return map[string]interface{}{
		"spec_version":                 record.SpecVersion,
		"canon_version":                record.CanonVersion,
		"record_type":                  string(record.KindPolicyDecision),
		"trace":                        map[string]interface{}{"trace_id": traceID, "span_id": "11f067aa0ba902b7", "span_kind": "policy"},
		"producer":                     map[string]interface{}{"layer": "pdp", "component": "opa-bridge"},
		"ts_ms":                        int64(1769817600100),
		"auth_context_envelope_sha256": authHash,
		"policy": map[string]interface{}{
			"policy_id": "report-access", "policy_version": "1", "policy_sha256": hexOf('b'),
		},
		"request": map[string]interface{}{"action": "invoke", "resource": "tools/search"},
		"decision": map[string]interface{}{
			"result": result, "reason_codes": map[string]interface{}{"matched": true}, "obligations": map[string]interface{}{},
		},
	}
}

func toolCall(traceID, authHash, policyHash string) map[string]interface{} {
	return map[string]interface{}{
		"spec_version":                    record.SpecVersion,
		"canon_version":                   record.CanonVersion,
		"record_type":                     string(record.KindToolCall),
		"trace":                           map[string]interface{}{"trace_id": traceID, "span_id": "22f067aa0ba902b7", "span_kind": "tool"},
		"producer":                        map[string]interface{}{"layer": "runtime", "component": "tool-gateway"},
		"started_at_ms":                   int64(1769817600200),
		"ended_at_ms":                     int64(1769817600300),
		"auth_context_envelope_sha256":    authHash,
		"policy_decision_envelope_sha256": policyHash,
		"tool":                            map[string]interface{}{"tool_name": "search"},
		"request":                         map[string]interface{}{"content_type": "application/json", "sha256": hexOf('c'), "size_bytes": int64(32)},
		"response":                        map[string]interface{}{"content_type": "application/json", "sha256": hexOf('d'), "size_bytes": int64(64)},
		"outcome":                         map[string]interface{}{"status": "ok"},
	}
}

func hashOf(t *testing.T, rec map[string]interface{}) string {
	t.Helper()
	h, err := canon.Hash(rec)
	require.NoError(t, err)
	return h
}

func TestCommit_S1_AuthContextAccept(t *testing.T) {
	s := store.New()
	g := gate.New(s)

	rec := authContext("4bf92f3577b34da6a3ce929d0e0e4736")
	out := g.Commit(record.KindAuthContext, hashOf(t, rec), rec)

	assert.Equal(t, taxonomy.ACCEPT, out.Classification)
	assert.Equal(t, 1, s.Stats().AcceptedCount)
	assert.Equal(t, 0, s.Stats().RejectedCount)
}

func TestCommit_S2_PolicyDecisionMissingPrereq(t *testing.T) {
	s := store.New()
	g := gate.New(s)

	rec := policyDecision("4bf92f3577b34da6a3ce929d0e0e4736", hexOf('1'), record.DecisionAllow)
	out := g.Commit(record.KindPolicyDecision, hashOf(t, rec), rec)

	assert.Equal(t, taxonomy.MISSING_PREREQ, out.Classification)
	assert.Equal(t, taxonomy.ErrKindMissingPrereqAuthContext, out.ErrorKind)
	assert.Equal(t, 1, s.Stats().RejectedCount)
}

func TestCommit_S3_UnauthorizedExecution(t *testing.T) {
	s := store.New()
	g := gate.New(s)

	traceID := "4bf92f3577b34da6a3ce929d0e0e4736"
	auth := authContext(traceID)
	authHash := hashOf(t, auth)
	require.True(t, g.Commit(record.KindAuthContext, authHash, auth).Accepted())

	policy := policyDecision(traceID, authHash, record.DecisionDeny)
	policyHash := hashOf(t, policy)
	require.True(t, g.Commit(record.KindPolicyDecision, policyHash, policy).Accepted())

	tool := toolCall(traceID, authHash, policyHash)
	out := g.Commit(record.KindToolCall, hashOf(t, tool), tool)

	assert.Equal(t, taxonomy.UNAUTHORIZED_EXECUTION, out.Classification)
	assert.Equal(t, taxonomy.ErrKindUnauthorizedPolicyDenied, out.ErrorKind)
}

func TestCommit_S4_HashMismatch(t *testing.T) {
	s := store.New()
	g := gate.New(s)

	traceID := "4bf92f3577b34da6a3ce929d0e0e4736"
	auth := authContext(traceID)
	authHash := hashOf(t, auth)
	require.True(t, g.Commit(record.KindAuthContext, authHash, auth).Accepted())

	policy := policyDecision(traceID, authHash, record.DecisionAllow)
	policyHash := hashOf(t, policy)
	require.True(t, g.Commit(record.KindPolicyDecision, policyHash, policy).Accepted())

	tool := toolCall(traceID, authHash, policyHash)
	declaredHash := hexOf('0')
	out := g.Commit(record.KindToolCall, declaredHash, tool)

	assert.Equal(t, taxonomy.HASH_MISMATCH, out.Classification)
	assert.Equal(t, taxonomy.ErrKindHashMismatchEnvelope, out.ErrorKind)
	assert.NotEqual(t, declaredHash, out.Hash)

	_, err := s.GetRejected(out.Hash)
	assert.NoError(t, err)
}

func TestCommit_S5_TraceViolation(t *testing.T) {
	s := store.New()
	g := gate.New(s)

	traceID := "4bf92f3577b34da6a3ce929d0e0e4736"
	auth := authContext(traceID)
	authHash := hashOf(t, auth)
	require.True(t, g.Commit(record.KindAuthContext, authHash, auth).Accepted())

	policy := policyDecision(traceID, authHash, record.DecisionAllow)
	policyHash := hashOf(t, policy)
	require.True(t, g.Commit(record.KindPolicyDecision, policyHash, policy).Accepted())

	tool := toolCall("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", authHash, policyHash)
	out := g.Commit(record.KindToolCall, hashOf(t, tool), tool)

	assert.Equal(t, taxonomy.TRACE_VIOLATION, out.Classification)
	assert.Equal(t, taxonomy.ErrKindTraceViolationMismatch, out.ErrorKind)
}

func TestCommit_RecordTypeForbidden(t *testing.T) {
	s := store.New()
	g := gate.New(s)

	out := g.Commit(record.Kind("not_a_kind"), hexOf('0'), map[string]interface{}{})
	assert.Equal(t, taxonomy.RECORD_TYPE_FORBIDDEN, out.Classification)
	assert.Equal(t, taxonomy.ErrKindRecordTypeForbidden, out.ErrorKind)
	assert.Equal(t, 0, s.Stats().RejectedCount)
	assert.Equal(t, 0, s.Stats().AcceptedCount)
}

func TestCommit_SchemaRejectNotPersisted(t *testing.T) {
	s := store.New()
	g := gate.New(s)

	rec := authContext("4bf92f3577b34da6a3ce929d0e0e4736")
	delete(rec, "actor")
	out := g.Commit(record.KindAuthContext, hexOf('0'), rec)

	assert.Equal(t, taxonomy.SCHEMA_REJECT, out.Classification)
	assert.Equal(t, 0, s.Stats().RejectedCount)
	assert.Equal(t, 0, s.Stats().AcceptedCount)
}

func TestCommit_PayloadKindDisagreement(t *testing.T) {
	s := store.New()
	g := gate.New(s)

	rec := authContext("4bf92f3577b34da6a3ce929d0e0e4736")
	out := g.Commit(record.KindPolicyDecision, hexOf('0'), rec)

	assert.Equal(t, taxonomy.SCHEMA_REJECT, out.Classification)
	assert.Equal(t, taxonomy.ErrKindSchemaRecordTypeAgreement, out.ErrorKind)
}

func TestStats_TracksSubmissions(t *testing.T) {
	s := store.New()
	g := gate.New(s)

	rec := authContext("4bf92f3577b34da6a3ce929d0e0e4736")
	g.Commit(record.KindAuthContext, hashOf(t, rec), rec)
	g.Commit(record.Kind("bogus"), hexOf('0'), map[string]interface{}{})

	stats := g.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.ByClass[taxonomy.ACCEPT])
	assert.Equal(t, int64(1), stats.ByClass[taxonomy.RECORD_TYPE_FORBIDDEN])
}
