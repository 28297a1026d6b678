// Package schema provides closed-world structural validation for the four
// envelope record kinds (replay results are not envelope records and have
// no schema here).
//
// Schemas are embedded as compile-time assets and compiled once at package
// init, the way core/pkg/firewall/firewall.go compiles per-tool parameter
// schemas with github.com/santhosh-tekuri/jsonschema/v5: the core depends
// only on a validate(record) -> Result<Kind, SchemaError> capability, never
// on schema syntax or a schema compiler directly.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
	"github.com/Mindburn-Labs/evidenceledger/pkg/taxonomy"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[record.Kind]string{
	record.KindAuthContext:    "auth_context.schema.json",
	record.KindPolicyDecision: "policy_decision.schema.json",
	record.KindModelCall:      "model_call.schema.json",
	record.KindToolCall:       "tool_call.schema.json",
}

var compiled map[record.Kind]*jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	urls := make(map[record.Kind]string, len(schemaFiles))
	for kind, file := range schemaFiles {
		data, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			panic(fmt.Sprintf("schema: failed to read embedded asset %s: %v", file, err))
		}
		url := "https://evidenceledger.local/schemas/" + file
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("schema: failed to load resource %s: %v", file, err))
		}
		urls[kind] = url
	}

	compiled = make(map[record.Kind]*jsonschema.Schema, len(urls))
	for kind, url := range urls {
		s, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("schema: failed to compile %s: %v", url, err))
		}
		compiled[kind] = s
	}
}

// Violation is a single, stable schema-validation failure. Kind is part of
// the external contract: test vectors assert against the exact string.
type Violation struct {
	Kind    string
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

// Validate performs closed-world structural validation of a decoded record
// (as produced by canon.DecodeStrict or canon.ToGeneric) against the
// kind-specific schema its own record_type selects.
//
// Cross-references (prerequisite existence, trace continuity,
// authorization) are NOT validated here — that is the commit gate's job,
// a distinct phase that requires store access this package deliberately
// does not have.
func Validate(raw map[string]interface{}) (record.Kind, *Violation) {
	rtRaw, ok := raw["record_type"]
	if !ok {
		return "", &Violation{Kind: taxonomy.SchemaRequiredKind("record_type"), Message: "record_type is required"}
	}
	rt, ok := rtRaw.(string)
	if !ok {
		return "", &Violation{Kind: taxonomy.ErrKindSchemaType, Message: "record_type must be a string"}
	}
	kind := record.Kind(rt)
	if !kind.Valid() {
		return "", &Violation{Kind: taxonomy.ErrKindSchemaEnum, Message: fmt.Sprintf("record_type %q is not one of the closed set", rt)}
	}

	if v := validateManual(kind, raw); v != nil {
		return kind, v
	}

	// The compiled schema is the closed-world source of truth: if our
	// deterministic manual checks above found nothing but the schema
	// still rejects the record, something outside the manual table's
	// coverage is wrong. Report it via the library's own first cause,
	// categorized by keyword.
	if compiled[kind] != nil {
		if err := compiled[kind].Validate(raw); err != nil {
			return kind, translateLibraryError(err)
		}
	}

	return kind, nil
}

// ValidateKind validates raw against a specific expected kind, used by the
// commit gate's schema-validation and payload-kind-agreement steps (its
// steps 2 and 3): raw is first validated against the schema
// its own record_type selects, and only a schema-valid record is then
// required to have a record_type equal to the declared kind.
func ValidateKind(declared record.Kind, raw map[string]interface{}) *Violation {
	if _, v := Validate(raw); v != nil {
		return v
	}
	rtRaw, _ := raw["record_type"].(string)
	if record.Kind(rtRaw) != declared {
		return &Violation{
			Kind:    taxonomy.ErrKindSchemaRecordTypeAgreement,
			Message: fmt.Sprintf("declared kind %q disagrees with record_type %q", declared, rtRaw),
		}
	}
	return nil
}

// --- manual deterministic checks -------------------------------------------
//
// jsonschema/v5's error tree doesn't expose a stable "first violation in
// declaration order" ordering across keywords, so the checks spec.md names
// explicitly (required, trace_context, pattern, enum, type,
// additional_properties) are run here first, in schema-declaration order,
// against the same closed-world field tables the embedded schemas encode.
// The compiled schemas remain the authoritative pass/fail gate; this table
// exists to make the reported error-kind deterministic and exact.

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
var traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)
var spanIDPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)
var tokenPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-:.]{0,127}$`)
var resourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-:./]{0,255}$`)

var allZero32 = "00000000000000000000000000000000"[:32]
var allZero16 = "0000000000000000"[:16]

type fieldEntry struct {
	path     []string
	required bool
}

func requiredFields(kind record.Kind) []fieldEntry {
	common := []fieldEntry{
		{[]string{"spec_version"}, true},
		{[]string{"canon_version"}, true},
		{[]string{"record_type"}, true},
		{[]string{"trace"}, true},
		{[]string{"trace", "trace_id"}, true},
		{[]string{"trace", "span_id"}, true},
		{[]string{"trace", "span_kind"}, true},
		{[]string{"producer"}, true},
		{[]string{"producer", "layer"}, true},
		{[]string{"producer", "component"}, true},
	}
	switch kind {
	case record.KindAuthContext:
		return append(common,
			fieldEntry{[]string{"ts_ms"}, true},
			fieldEntry{[]string{"actor"}, true},
			fieldEntry{[]string{"actor", "actor_kind"}, true},
			fieldEntry{[]string{"actor", "actor_id"}, true},
			fieldEntry{[]string{"credential"}, true},
			fieldEntry{[]string{"credential", "credential_kind"}, true},
			fieldEntry{[]string{"credential", "issuer"}, true},
			fieldEntry{[]string{"credential", "presented_hash_sha256"}, true},
			fieldEntry{[]string{"credential", "verified_at_ms"}, true},
			fieldEntry{[]string{"credential", "expires_at_ms"}, true},
			fieldEntry{[]string{"grants"}, true},
		)
	case record.KindPolicyDecision:
		return append(common,
			fieldEntry{[]string{"ts_ms"}, true},
			fieldEntry{[]string{"auth_context_envelope_sha256"}, true},
			fieldEntry{[]string{"policy"}, true},
			fieldEntry{[]string{"policy", "policy_id"}, true},
			fieldEntry{[]string{"policy", "policy_version"}, true},
			fieldEntry{[]string{"policy", "policy_sha256"}, true},
			fieldEntry{[]string{"request"}, true},
			fieldEntry{[]string{"request", "action"}, true},
			fieldEntry{[]string{"request", "resource"}, true},
			fieldEntry{[]string{"decision"}, true},
			fieldEntry{[]string{"decision", "result"}, true},
			fieldEntry{[]string{"decision", "reason_codes"}, true},
			fieldEntry{[]string{"decision", "obligations"}, true},
		)
	case record.KindModelCall, record.KindToolCall:
		idField := "model"
		idSubfield := "model_id"
		if kind == record.KindToolCall {
			idField = "tool"
			idSubfield = "tool_name"
		}
		return append(common,
			fieldEntry{[]string{"started_at_ms"}, true},
			fieldEntry{[]string{"ended_at_ms"}, true},
			fieldEntry{[]string{"auth_context_envelope_sha256"}, true},
			fieldEntry{[]string{"policy_decision_envelope_sha256"}, true},
			fieldEntry{[]string{idField}, true},
			fieldEntry{[]string{idField, idSubfield}, true},
			fieldEntry{[]string{"request"}, true},
			fieldEntry{[]string{"request", "content_type"}, true},
			fieldEntry{[]string{"request", "sha256"}, true},
			fieldEntry{[]string{"request", "size_bytes"}, true},
			fieldEntry{[]string{"response"}, true},
			fieldEntry{[]string{"response", "content_type"}, true},
			fieldEntry{[]string{"response", "sha256"}, true},
			fieldEntry{[]string{"response", "size_bytes"}, true},
			fieldEntry{[]string{"outcome"}, true},
			fieldEntry{[]string{"outcome", "status"}, true},
		)
	}
	return common
}

func validateManual(kind record.Kind, raw map[string]interface{}) *Violation {
	for _, f := range requiredFields(kind) {
		if _, ok := lookup(raw, f.path); !ok {
			return requiredViolation(f.path)
		}
	}

	if v, ok := raw["spec_version"].(string); ok && v != record.SpecVersion {
		return &Violation{Kind: taxonomy.ErrKindSchemaEnum, Message: "spec_version mismatch"}
	}
	if v, ok := raw["canon_version"].(string); ok && v != record.CanonVersion {
		return &Violation{Kind: taxonomy.ErrKindSchemaEnum, Message: "canon_version mismatch"}
	}

	if v := validateTracePatterns(raw); v != nil {
		return v
	}
	if v := validateTimestamps(kind, raw); v != nil {
		return v
	}
	if v := validateHashFields(kind, raw); v != nil {
		return v
	}
	if v := validateTokenFields(kind, raw); v != nil {
		return v
	}
	if v := validateEnumFields(kind, raw); v != nil {
		return v
	}
	if v := validateStringSets(kind, raw); v != nil {
		return v
	}
	if v := validateAdditionalProperties(kind, raw); v != nil {
		return v
	}
	return nil
}

func requiredViolation(path []string) *Violation {
	if len(path) == 2 && path[0] == "trace" && path[1] == "trace_id" {
		return &Violation{Kind: taxonomy.ErrKindSchemaTraceMissingTraceID, Message: "trace.trace_id is required"}
	}
	field := path[len(path)-1]
	return &Violation{Kind: taxonomy.SchemaRequiredKind(field), Message: fmt.Sprintf("%s is required", joinPath(path))}
}

func joinPath(path []string) string {
	out := path[0]
	for _, p := range path[1:] {
		out += "." + p
	}
	return out
}

func lookup(raw map[string]interface{}, path []string) (interface{}, bool) {
	cur := interface{}(raw)
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok || v == nil {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func validateTracePatterns(raw map[string]interface{}) *Violation {
	traceID, _ := lookup(raw, []string{"trace", "trace_id"})
	if s, ok := traceID.(string); ok {
		if !traceIDPattern.MatchString(s) || s == allZero32 {
			return &Violation{Kind: taxonomy.ErrKindSchemaPattern, Message: "trace.trace_id must be 32 lowercase hex chars, non-zero"}
		}
	}
	spanID, _ := lookup(raw, []string{"trace", "span_id"})
	if s, ok := spanID.(string); ok {
		if !spanIDPattern.MatchString(s) || s == allZero16 {
			return &Violation{Kind: taxonomy.ErrKindSchemaPattern, Message: "trace.span_id must be 16 lowercase hex chars, non-zero"}
		}
	}
	if parent, ok := lookup(raw, []string{"trace", "parent_span_id"}); ok {
		if s, ok := parent.(string); ok && !spanIDPattern.MatchString(s) {
			return &Violation{Kind: taxonomy.ErrKindSchemaPattern, Message: "trace.parent_span_id must be 16 lowercase hex chars"}
		}
	}
	return nil
}

func validateTimestamps(kind record.Kind, raw map[string]interface{}) *Violation {
	var fields [][]string
	switch kind {
	case record.KindAuthContext:
		fields = [][]string{{"ts_ms"}, {"credential", "verified_at_ms"}, {"credential", "expires_at_ms"}}
	case record.KindPolicyDecision:
		fields = [][]string{{"ts_ms"}}
	case record.KindModelCall, record.KindToolCall:
		fields = [][]string{{"started_at_ms"}, {"ended_at_ms"}}
	}
	for _, path := range fields {
		v, ok := lookup(raw, path)
		if !ok {
			continue
		}
		if !isNonNegativeInteger(v) {
			return &Violation{Kind: taxonomy.ErrKindSchemaType, Message: fmt.Sprintf("%s must be a non-negative integer", joinPath(path))}
		}
	}
	return nil
}

// isNonNegativeInteger accepts the numeric shapes canon.DecodeStrict /
// canon.ToGeneric may produce (json.Number, float64, int64, int) and
// rejects floats and negatives per spec.md §3 ("floats and negatives are
// schema violations").
func isNonNegativeInteger(v interface{}) bool {
	switch t := v.(type) {
	case float64:
		return t >= 0 && t == float64(int64(t))
	case int64:
		return t >= 0
	case int:
		return t >= 0
	case json.Number:
		n, err := t.Int64()
		return err == nil && n >= 0
	default:
		return false
	}
}

func validateHashFields(kind record.Kind, raw map[string]interface{}) *Violation {
	var fields [][]string
	switch kind {
	case record.KindAuthContext:
		fields = [][]string{{"credential", "presented_hash_sha256"}}
	case record.KindPolicyDecision:
		fields = [][]string{{"auth_context_envelope_sha256"}, {"policy", "policy_sha256"}}
	case record.KindModelCall, record.KindToolCall:
		fields = [][]string{
			{"auth_context_envelope_sha256"}, {"policy_decision_envelope_sha256"},
			{"request", "sha256"}, {"response", "sha256"},
		}
	}
	for _, path := range fields {
		v, ok := lookup(raw, path)
		if !ok {
			continue
		}
		if s, ok := v.(string); !ok || !hashPattern.MatchString(s) {
			return &Violation{Kind: taxonomy.ErrKindSchemaPattern, Message: fmt.Sprintf("%s must be 64 lowercase hex chars", joinPath(path))}
		}
	}
	return nil
}

func validateTokenFields(kind record.Kind, raw map[string]interface{}) *Violation {
	var tokenFields, resourceFields [][]string
	switch kind {
	case record.KindPolicyDecision:
		tokenFields = [][]string{{"policy", "policy_id"}, {"policy", "policy_version"}, {"request", "action"}}
		resourceFields = [][]string{{"request", "resource"}}
	case record.KindModelCall:
		tokenFields = [][]string{{"model", "model_id"}, {"model", "provider"}}
	case record.KindToolCall:
		tokenFields = [][]string{{"tool", "tool_name"}}
	}
	for _, path := range tokenFields {
		v, ok := lookup(raw, path)
		if !ok {
			continue
		}
		if s, ok := v.(string); !ok || !tokenPattern.MatchString(s) {
			return &Violation{Kind: taxonomy.ErrKindSchemaPattern, Message: fmt.Sprintf("%s does not match the token pattern", joinPath(path))}
		}
	}
	for _, path := range resourceFields {
		v, ok := lookup(raw, path)
		if !ok {
			continue
		}
		if s, ok := v.(string); !ok || !resourcePattern.MatchString(s) {
			return &Violation{Kind: taxonomy.ErrKindSchemaPattern, Message: fmt.Sprintf("%s does not match the resource pattern", joinPath(path))}
		}
	}
	return nil
}

func validateEnumFields(kind record.Kind, raw map[string]interface{}) *Violation {
	if kind == record.KindPolicyDecision {
		v, _ := lookup(raw, []string{"decision", "result"})
		if s, ok := v.(string); ok && s != record.DecisionAllow && s != record.DecisionDeny {
			return &Violation{Kind: taxonomy.ErrKindSchemaEnum, Message: "decision.result must be allow or deny"}
		}
	}
	return nil
}

func validateStringSets(kind record.Kind, raw map[string]interface{}) *Violation {
	var paths [][]string
	switch kind {
	case record.KindAuthContext:
		paths = [][]string{{"grants"}}
	case record.KindPolicyDecision:
		paths = [][]string{{"decision", "reason_codes"}, {"decision", "obligations"}}
	}
	for _, path := range paths {
		v, ok := lookup(raw, path)
		if !ok {
			continue
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			return &Violation{Kind: taxonomy.ErrKindSchemaType, Message: fmt.Sprintf("%s must be an object", joinPath(path))}
		}
		for k, val := range m {
			b, ok := val.(bool)
			if !ok || !b {
				return &Violation{Kind: taxonomy.ErrKindSchemaType, Message: fmt.Sprintf("%s.%s must map to the literal boolean true", joinPath(path), k)}
			}
		}
	}
	return nil
}

// allowedKeys returns the closed set of top-level and nested-object keys
// permitted for kind, mirroring the embedded schema's
// additionalProperties:false discipline.
func allowedKeys(kind record.Kind) map[string]map[string]bool {
	base := map[string]map[string]bool{
		"$": {"spec_version": true, "canon_version": true, "record_type": true, "trace": true, "producer": true},
		"trace":    {"trace_id": true, "span_id": true, "span_kind": true, "parent_span_id": true},
		"producer": {"layer": true, "component": true},
	}
	switch kind {
	case record.KindAuthContext:
		base["$"]["ts_ms"] = true
		base["$"]["actor"] = true
		base["$"]["credential"] = true
		base["$"]["grants"] = true
		base["actor"] = map[string]bool{"actor_kind": true, "actor_id": true}
		base["credential"] = map[string]bool{"credential_kind": true, "issuer": true, "presented_hash_sha256": true, "verified_at_ms": true, "expires_at_ms": true}
	case record.KindPolicyDecision:
		for _, k := range []string{"ts_ms", "auth_context_envelope_sha256", "policy", "request", "decision"} {
			base["$"][k] = true
		}
		base["policy"] = map[string]bool{"policy_id": true, "policy_version": true, "policy_sha256": true}
		base["request"] = map[string]bool{"action": true, "resource": true}
		base["decision"] = map[string]bool{"result": true, "reason_codes": true, "obligations": true}
	case record.KindModelCall, record.KindToolCall:
		for _, k := range []string{"started_at_ms", "ended_at_ms", "auth_context_envelope_sha256", "policy_decision_envelope_sha256", "request", "response", "outcome"} {
			base["$"][k] = true
		}
		base["request"] = map[string]bool{"content_type": true, "sha256": true, "size_bytes": true}
		base["response"] = map[string]bool{"content_type": true, "sha256": true, "size_bytes": true}
		base["outcome"] = map[string]bool{"status": true}
		if kind == record.KindModelCall {
			base["$"]["model"] = true
			base["$"]["usage"] = true
			base["model"] = map[string]bool{"provider": true, "model_id": true, "model_version": true}
			base["usage"] = map[string]bool{"prompt_tokens": true, "completion_tokens": true, "total_tokens": true}
		} else {
			base["$"]["tool"] = true
			base["tool"] = map[string]bool{"tool_name": true, "tool_version": true}
		}
	}
	return base
}

func validateAdditionalProperties(kind record.Kind, raw map[string]interface{}) *Violation {
	allowed := allowedKeys(kind)
	objectFields := map[string]bool{"grants": true, "reason_codes": true, "obligations": true}

	type frame struct {
		scope string
		obj   map[string]interface{}
	}
	frames := []frame{{"$", raw}}
	for len(frames) > 0 {
		f := frames[0]
		frames = frames[1:]

		allowedSet, known := allowed[f.scope]
		if !known {
			continue
		}
		keys := make([]string, 0, len(f.obj))
		for k := range f.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !allowedSet[k] {
				return &Violation{Kind: taxonomy.ErrKindSchemaAdditionalProperties, Message: fmt.Sprintf("%s.%s is not a permitted field", f.scope, k)}
			}
			if objectFields[k] {
				continue // open string-set objects, not nested schema scopes
			}
			if nested, ok := f.obj[k].(map[string]interface{}); ok {
				if _, hasScope := allowed[k]; hasScope {
					frames = append(frames, frame{k, nested})
				}
			}
		}
	}
	return nil
}

func translateLibraryError(err error) *Violation {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &Violation{Kind: taxonomy.ErrKindSchemaType, Message: err.Error()}
	}
	leaf := firstLeafCause(ve)
	return &Violation{Kind: keywordToKind(leaf.KeywordLocation), Message: leaf.Message}
}

func firstLeafCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return ve
	}
	return firstLeafCause(ve.Causes[0])
}

func keywordToKind(keywordLocation string) string {
	switch {
	case contains(keywordLocation, "/additionalProperties"):
		return taxonomy.ErrKindSchemaAdditionalProperties
	case contains(keywordLocation, "/required"):
		return taxonomy.SchemaRequiredKind("unknown")
	case contains(keywordLocation, "/pattern"):
		return taxonomy.ErrKindSchemaPattern
	case contains(keywordLocation, "/enum") || contains(keywordLocation, "/const"):
		return taxonomy.ErrKindSchemaEnum
	default:
		return taxonomy.ErrKindSchemaType
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
