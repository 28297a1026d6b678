// Package gate implements the Commit Gate: the single write aperture onto
// the artifact store. Every record enters the ledger through Commit, which
// runs a fixed, numbered sequence of fail-closed checks — grounded on
// core/pkg/envelope/gate.go's EnvelopeGate.CheckEffect, the same numbered
// early-return style, mutex-guarded counters, and clock injection for
// deterministic testing, generalized from effect-budget enforcement to
// record-kind commit classification.
package gate

import (
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/evidenceledger/pkg/canon"
	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
	"github.com/Mindburn-Labs/evidenceledger/pkg/schema"
	"github.com/Mindburn-Labs/evidenceledger/pkg/store"
	"github.com/Mindburn-Labs/evidenceledger/pkg/taxonomy"
)

// Outcome is the result of a single Commit call: the classification, the
// computed hash (when defined), the canonical bytes (when defined), and the
// stable error-kind string (empty on ACCEPT).
type Outcome struct {
	Classification taxonomy.Classification
	Hash           string
	CanonicalJSON  []byte
	ErrorKind      string
}

// Accepted reports whether this outcome represents a successful commit.
func (o Outcome) Accepted() bool {
	return o.Classification.Accepted()
}

// Gate is the commit gate. The zero value is not usable; construct with
// New.
type Gate struct {
	mu sync.Mutex

	store *store.Store
	clock func() time.Time

	// Running counters, the gate's equivalent of EnvelopeGate's
	// toolCallCount/costAccumulated — observability only, never
	// consulted by the commit sequence itself.
	submitted int64
	byClass   map[taxonomy.Classification]int64
}

// New returns a Gate writing to s.
func New(s *store.Store) *Gate {
	return &Gate{
		store:   s,
		clock:   time.Now,
		byClass: make(map[taxonomy.Classification]int64),
	}
}

// WithClock overrides the gate's clock. Neither Commit nor Stats reads the
// clock: Stats carries counters only, with no timestamp or elapsed time.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Commit runs the fixed ten-step sequence and mutates the store
// accordingly. The sequence never reorders: each step either falls through
// or returns a terminal Outcome.
func (g *Gate) Commit(kind record.Kind, declaredHash string, rec map[string]interface{}) Outcome {
	outcome := g.commit(kind, declaredHash, rec)

	g.mu.Lock()
	g.submitted++
	g.byClass[outcome.Classification]++
	g.mu.Unlock()

	return outcome
}

func (g *Gate) commit(kind record.Kind, declaredHash string, rec map[string]interface{}) Outcome {
	// 1. Record-kind check.
	if !kind.Valid() {
		return Outcome{
			Classification: taxonomy.RECORD_TYPE_FORBIDDEN,
			ErrorKind:      taxonomy.ErrKindRecordTypeForbidden,
		}
	}

	// 2 & 3. Schema validation, then payload-kind agreement.
	if v := schema.ValidateKind(kind, rec); v != nil {
		return Outcome{
			Classification: taxonomy.SCHEMA_REJECT,
			ErrorKind:      v.Kind,
		}
	}

	// 4. Canonicalize.
	canonicalJSON, err := canon.Canonicalize(rec)
	if err != nil {
		return Outcome{
			Classification: taxonomy.SCHEMA_REJECT,
			ErrorKind:      taxonomy.ErrKindCanonicalizationFailed,
		}
	}

	// 5. Hash.
	computedHash := canon.HashBytes(canonicalJSON)

	// 6. Hash comparison.
	if declaredHash != computedHash {
		outcome := Outcome{
			Classification: taxonomy.HASH_MISMATCH,
			Hash:           computedHash,
			CanonicalJSON:  canonicalJSON,
			ErrorKind:      taxonomy.ErrKindHashMismatchEnvelope,
		}
		g.persistRejected(kind, outcome, rec)
		return outcome
	}

	// 7. Prerequisite resolution.
	prereqs, errKind := g.resolvePrereqs(kind, rec)
	if errKind != "" {
		outcome := Outcome{
			Classification: taxonomy.MISSING_PREREQ,
			Hash:           computedHash,
			CanonicalJSON:  canonicalJSON,
			ErrorKind:      errKind,
		}
		g.persistRejected(kind, outcome, rec)
		return outcome
	}

	// 8. Trace continuity.
	traceID := traceIDOf(rec)
	for _, p := range prereqs {
		if traceIDOf(p.Record) != traceID {
			outcome := Outcome{
				Classification: taxonomy.TRACE_VIOLATION,
				Hash:           computedHash,
				CanonicalJSON:  canonicalJSON,
				ErrorKind:      taxonomy.ErrKindTraceViolationMismatch,
			}
			g.persistRejected(kind, outcome, rec)
			return outcome
		}
	}

	// 9. Authorization (model_call / tool_call only).
	if kind == record.KindModelCall || kind == record.KindToolCall {
		policyDecision := prereqs[len(prereqs)-1]
		decision, _ := policyDecision.Record["decision"].(map[string]interface{})
		result, _ := decision["result"].(string)
		if result != record.DecisionAllow {
			outcome := Outcome{
				Classification: taxonomy.UNAUTHORIZED_EXECUTION,
				Hash:           computedHash,
				CanonicalJSON:  canonicalJSON,
				ErrorKind:      taxonomy.ErrKindUnauthorizedPolicyDenied,
			}
			g.persistRejected(kind, outcome, rec)
			return outcome
		}
	}

	// 10. Persist accepted.
	outcome := Outcome{
		Classification: taxonomy.ACCEPT,
		Hash:           computedHash,
		CanonicalJSON:  canonicalJSON,
	}
	_ = g.store.PutAccepted(&store.Accepted{
		Hash:          computedHash,
		Kind:          kind,
		CanonicalJSON: canonicalJSON,
		Record:        rec,
	})
	return outcome
}

func (g *Gate) persistRejected(kind record.Kind, outcome Outcome, rec map[string]interface{}) {
	_ = g.store.PutRejected(&store.Rejected{
		Hash:           outcome.Hash,
		Kind:           kind,
		CanonicalJSON:  outcome.CanonicalJSON,
		Record:         rec,
		Classification: string(outcome.Classification),
		ErrorKind:      outcome.ErrorKind,
	})
}

// resolvePrereqs resolves the kind-specific prerequisite chain from the
// accepted namespace. On success it returns prerequisites in dependency
// order (auth_context first, policy_decision last, when both are
// required); on miss it returns the kind-specific missing_prereq error-kind
// string.
func (g *Gate) resolvePrereqs(kind record.Kind, rec map[string]interface{}) ([]*store.Accepted, string) {
	switch kind {
	case record.KindAuthContext:
		return nil, ""

	case record.KindPolicyDecision:
		authHash, _ := rec["auth_context_envelope_sha256"].(string)
		auth, err := g.store.GetAccepted(authHash)
		if err != nil {
			return nil, taxonomy.ErrKindMissingPrereqAuthContext
		}
		return []*store.Accepted{auth}, ""

	case record.KindModelCall, record.KindToolCall:
		authHash, _ := rec["auth_context_envelope_sha256"].(string)
		policyHash, _ := rec["policy_decision_envelope_sha256"].(string)

		auth, err := g.store.GetAccepted(authHash)
		if err != nil {
			return nil, taxonomy.ErrKindMissingPrereqAuthContext
		}
		policy, err := g.store.GetAccepted(policyHash)
		if err != nil {
			return nil, taxonomy.ErrKindMissingPrereqPolicyDecision
		}
		return []*store.Accepted{auth, policy}, ""

	default:
		// Unreachable: step 1 already rejected any kind outside the
		// closed set.
		return nil, fmt.Sprintf("internal: resolvePrereqs called with unsupported kind %q", kind)
	}
}

func traceIDOf(rec map[string]interface{}) string {
	trace, ok := rec["trace"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := trace["trace_id"].(string)
	return id
}

// Stats is a point-in-time snapshot of the gate's running counters, the
// supplemented feature modeled directly on EnvelopeGate.Snapshot.
type Stats struct {
	Submitted int64
	ByClass   map[taxonomy.Classification]int64
}

// Stats returns the current submission counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	byClass := make(map[taxonomy.Classification]int64, len(g.byClass))
	for k, v := range g.byClass {
		byClass[k] = v
	}
	return Stats{Submitted: g.submitted, ByClass: byClass}
}
