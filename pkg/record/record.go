// Package record defines the closed set of five evidence-ledger record
// kinds as a tagged union, modeled with Go structs rather than a single
// open record type — this removes the "field present on the wrong kind"
// class of bug that an untyped record tree invites.
package record

// Kind is the closed set of record kinds the commit gate accepts.
type Kind string

const (
	KindAuthContext    Kind = "auth_context"
	KindPolicyDecision Kind = "policy_decision"
	KindModelCall      Kind = "model_call"
	KindToolCall       Kind = "tool_call"
)

// Kinds enumerates the closed set, in the fixed order used for trace-index
// ordering (spec.md §4.6): auth_context < policy_decision < model/tool.
var Kinds = []Kind{KindAuthContext, KindPolicyDecision, KindModelCall, KindToolCall}

// Valid reports whether k is one of the four envelope record kinds the
// commit gate accepts (a replay result is not a Kind and is never valid).
func (k Kind) Valid() bool {
	switch k {
	case KindAuthContext, KindPolicyDecision, KindModelCall, KindToolCall:
		return true
	default:
		return false
	}
}

// OrderClass returns this kind's position in trace-index ordering:
// auth_context(0) < policy_decision(1) < model_call/tool_call(2).
func (k Kind) OrderClass() int {
	switch k {
	case KindAuthContext:
		return 0
	case KindPolicyDecision:
		return 1
	default:
		return 2
	}
}

// Fixed constants for this canon revision. A record whose spec_version or
// canon_version disagrees fails schema validation.
const (
	SpecVersion  = "1.0.0"
	CanonVersion = "1"
)

// Decision results.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// StringSet is the wire discipline for every string-set field: an object
// mapping keys to the literal boolean true, so canonical form never
// depends on insertion or iteration order.
type StringSet map[string]bool

// Keys returns the set's members, order undefined — callers that need a
// deterministic order (e.g. constrained replay's signature comparison)
// must sort the result themselves.
func (s StringSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}

// Trace identifies the position of a record within a causal chain. Every
// record kind carries one; child spans carry a ParentSpanID.
type Trace struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	SpanKind     string `json:"span_kind"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// Producer identifies the system component that emitted a record.
type Producer struct {
	Layer     string `json:"layer"`
	Component string `json:"component"`
}

// ContentRef is a content-addressed reference used for any payload field
// too large to inline directly into a record.
type ContentRef struct {
	ContentType string `json:"content_type"`
	SHA256      string `json:"sha256"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Actor identifies the authenticated principal an auth_context describes.
type Actor struct {
	ActorKind string `json:"actor_kind"`
	ActorID   string `json:"actor_id"`
}

// Credential describes how an actor's identity was established.
type Credential struct {
	CredentialKind      string `json:"credential_kind"`
	Issuer              string `json:"issuer"`
	PresentedHashSHA256 string `json:"presented_hash_sha256"`
	VerifiedAtMs        int64  `json:"verified_at_ms"`
	ExpiresAtMs         int64  `json:"expires_at_ms"`
}

// AuthContext is the chain root: evidence of an authenticated principal,
// its credential, and the grants it was issued. It has no prerequisite.
type AuthContext struct {
	SpecVersion  string   `json:"spec_version"`
	CanonVersion string   `json:"canon_version"`
	RecordType   string   `json:"record_type"`
	Trace        Trace    `json:"trace"`
	Producer     Producer `json:"producer"`

	TsMs       int64      `json:"ts_ms"`
	Actor      Actor      `json:"actor"`
	Credential Credential `json:"credential"`
	Grants     StringSet  `json:"grants"`
}

// PolicyRef identifies the policy that produced a decision.
type PolicyRef struct {
	PolicyID      string `json:"policy_id"`
	PolicyVersion string `json:"policy_version"`
	PolicySHA256  string `json:"policy_sha256"`
}

// Request describes the action a policy decision or evidence record
// pertains to.
type Request struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

// Decision is the allow/deny verdict a policy_decision record carries.
type Decision struct {
	Result      string    `json:"result"`
	ReasonCodes StringSet `json:"reason_codes"`
	Obligations StringSet `json:"obligations"`
}

// PolicyDecision evidences an allow/deny verdict for a request, bound to
// the auth_context it was evaluated against.
type PolicyDecision struct {
	SpecVersion  string   `json:"spec_version"`
	CanonVersion string   `json:"canon_version"`
	RecordType   string   `json:"record_type"`
	Trace        Trace    `json:"trace"`
	Producer     Producer `json:"producer"`

	TsMs                      int64     `json:"ts_ms"`
	AuthContextEnvelopeSHA256 string    `json:"auth_context_envelope_sha256"`
	Policy                    PolicyRef `json:"policy"`
	Request                   Request   `json:"request"`
	Decision                  Decision  `json:"decision"`
}

// ModelIdentity identifies the specific model a model_call invoked.
type ModelIdentity struct {
	Provider     string `json:"provider"`
	ModelID      string `json:"model_id"`
	ModelVersion string `json:"model_version,omitempty"`
}

// ToolIdentity identifies the specific tool a tool_call invoked.
type ToolIdentity struct {
	ToolName    string `json:"tool_name"`
	ToolVersion string `json:"tool_version,omitempty"`
}

// Usage records model-invocation token accounting. Only meaningful for
// model_call records.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Outcome is the terminal status of an evidence record's execution.
type Outcome struct {
	Status string `json:"status"`
}

// ModelCall evidences a single model invocation, bound to both the
// auth_context and the policy_decision that authorized it.
type ModelCall struct {
	SpecVersion  string   `json:"spec_version"`
	CanonVersion string   `json:"canon_version"`
	RecordType   string   `json:"record_type"`
	Trace        Trace    `json:"trace"`
	Producer     Producer `json:"producer"`

	StartedAtMs                  int64         `json:"started_at_ms"`
	EndedAtMs                    int64         `json:"ended_at_ms"`
	AuthContextEnvelopeSHA256    string        `json:"auth_context_envelope_sha256"`
	PolicyDecisionEnvelopeSHA256 string        `json:"policy_decision_envelope_sha256"`
	Model                        ModelIdentity `json:"model"`
	Request                      ContentRef    `json:"request"`
	Response                     ContentRef    `json:"response"`
	Outcome                      Outcome       `json:"outcome"`
	Usage                        *Usage        `json:"usage,omitempty"`
}

// ToolCall evidences a single tool invocation, bound to both the
// auth_context and the policy_decision that authorized it.
type ToolCall struct {
	SpecVersion  string   `json:"spec_version"`
	CanonVersion string   `json:"canon_version"`
	RecordType   string   `json:"record_type"`
	Trace        Trace    `json:"trace"`
	Producer     Producer `json:"producer"`

	StartedAtMs                  int64        `json:"started_at_ms"`
	EndedAtMs                    int64        `json:"ended_at_ms"`
	AuthContextEnvelopeSHA256    string       `json:"auth_context_envelope_sha256"`
	PolicyDecisionEnvelopeSHA256 string       `json:"policy_decision_envelope_sha256"`
	Tool                         ToolIdentity `json:"tool"`
	Request                      ContentRef   `json:"request"`
	Response                     ContentRef   `json:"response"`
	Outcome                      Outcome      `json:"outcome"`
}

// ReplayType is the closed set of replay engines.
type ReplayType string

const (
	ReplayInvariant   ReplayType = "invariant"
	ReplayForensic    ReplayType = "forensic"
	ReplayConstrained ReplayType = "constrained"
)

// ReplayOutcome is the pass/fail verdict of a replay run.
type ReplayOutcome string

const (
	ReplayPass ReplayOutcome = "pass"
	ReplayFail ReplayOutcome = "fail"
)

// ReplayResult is the outcome of a replay run. It is not an envelope
// record: it has no record_type, is never submitted through the commit
// gate, and is stored in a separate content-addressed namespace.
//
// GeneratedAtMs resolves spec.md §9's open question in favor of an integer
// epoch-millis timestamp — consistent with every other timestamp in this
// canon revision and with the codec's integer-only numeric restriction.
type ReplayResult struct {
	ReplayType          ReplayType             `json:"replay_type"`
	TargetTraceID        string                 `json:"target_trace_id"`
	InputEnvelopeHashes  []string               `json:"input_envelope_hashes"`
	Result               ReplayOutcome          `json:"result"`
	FailureClass         string                 `json:"failure_class,omitempty"`
	FailureKind          string                 `json:"failure_kind,omitempty"`
	GeneratedAtMs        int64                  `json:"generated_at_ms"`
	Details              map[string]interface{} `json:"details,omitempty"`
}
