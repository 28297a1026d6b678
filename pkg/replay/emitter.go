package replay

import (
	"time"

	"github.com/Mindburn-Labs/evidenceledger/pkg/canon"
	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
	"github.com/Mindburn-Labs/evidenceledger/pkg/store"
)

// Emitter turns a Result into a stored, content-addressed ReplayResult
// artifact — spec.md §4.10. Clock injection follows the same
// WithClock(func() time.Time) convention as pkg/gate.Gate and the
// teacher's core/pkg/envelope/gate.go.
type Emitter struct {
	store *store.Store
	clock func() time.Time
}

// NewEmitter returns an Emitter writing replay artifacts to s.
func NewEmitter(s *store.Store) *Emitter {
	return &Emitter{store: s, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (em *Emitter) WithClock(clock func() time.Time) *Emitter {
	em.clock = clock
	return em
}

// Emit canonicalizes r, hashes it, stores it in the replay-result
// namespace, and returns the resulting artifact hash.
func (em *Emitter) Emit(r Result) (string, error) {
	rr := record.ReplayResult{
		ReplayType:          r.ReplayType,
		TargetTraceID:       r.TargetTraceID,
		InputEnvelopeHashes: r.InputEnvelopeHashes,
		Result:              r.Outcome,
		FailureClass:        r.FailureClass,
		FailureKind:         r.FailureKind,
		GeneratedAtMs:       em.clock().UnixMilli(),
		Details:             r.Details,
	}

	generic, err := canon.ToGeneric(rr)
	if err != nil {
		return "", err
	}
	canonicalJSON, err := canon.Canonicalize(generic)
	if err != nil {
		return "", err
	}
	hash := canon.HashBytes(canonicalJSON)

	if err := em.store.PutReplayResult(&store.ReplayArtifact{
		Hash:          hash,
		CanonicalJSON: canonicalJSON,
		Result:        rr,
	}); err != nil {
		return "", err
	}
	return hash, nil
}
