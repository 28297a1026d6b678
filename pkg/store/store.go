// Package store implements the content-addressed Artifact Store: three
// append-only namespaces keyed by SHA-256 envelope hash, grounded on the
// hash-chained audit log in core/pkg/store/audit_store.go (same
// sync.RWMutex-guarded map discipline, same no-deletion contract) but
// simplified to the spec's flat content-addressing — there is no
// previous-hash chain here, because the trace index (pkg/trace) already
// derives ordering from trace_id/time-key/hash, not from insertion order.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
)

// ErrNotFound is returned when a hash is absent from the queried namespace.
var ErrNotFound = errors.New("store: artifact not found")

// ErrHashCollision is returned when a put would assign two different
// artifacts to the same hash across any of the three namespaces — content
// addressing guarantees this never happens for correct callers, so its
// presence indicates a codec or caller bug, not a normal outcome.
var ErrHashCollision = errors.New("store: hash collision across namespaces")

// Accepted is a committed, passing artifact: canonical bytes, the record
// itself, and its kind.
type Accepted struct {
	Hash          string
	Kind          record.Kind
	CanonicalJSON []byte
	Record        map[string]interface{}
}

// Rejected is a persisted failed commit attempt: the same payload shape as
// Accepted plus the classification and stable error-kind string that
// explain the rejection.
type Rejected struct {
	Hash           string
	Kind           record.Kind
	CanonicalJSON  []byte
	Record         map[string]interface{}
	Classification string
	ErrorKind      string
}

// ReplayArtifact is a stored replay result, keyed by the hash of its own
// canonical bytes.
type ReplayArtifact struct {
	Hash          string
	CanonicalJSON []byte
	Result        record.ReplayResult
}

// Store holds the three content-addressed namespaces. The zero value is not
// usable; construct with New.
type Store struct {
	mu sync.RWMutex

	accepted map[string]*Accepted
	rejected map[string]*Rejected
	replay   map[string]*ReplayArtifact
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accepted: make(map[string]*Accepted),
		rejected: make(map[string]*Rejected),
		replay:   make(map[string]*ReplayArtifact),
	}
}

// GetAccepted retrieves an accepted artifact by hash.
func (s *Store) GetAccepted(hash string) (*Accepted, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accepted[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// PutAccepted stores an accepted artifact. Re-putting the same hash with
// identical content is a no-op (idempotent replay of an already-accepted
// commit); re-putting the same hash with different content is a collision
// and is rejected, since content addressing makes that impossible for a
// correct caller.
func (s *Store) PutAccepted(a *Accepted) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accepted[a.Hash]; ok {
		if string(existing.CanonicalJSON) == string(a.CanonicalJSON) {
			return nil
		}
		return fmt.Errorf("%w: accepted hash %s", ErrHashCollision, a.Hash)
	}
	if _, ok := s.rejected[a.Hash]; ok {
		return fmt.Errorf("%w: hash %s already present in rejected-attempts", ErrHashCollision, a.Hash)
	}
	if _, ok := s.replay[a.Hash]; ok {
		return fmt.Errorf("%w: hash %s already present in replay-results", ErrHashCollision, a.Hash)
	}
	s.accepted[a.Hash] = a
	return nil
}

// GetRejected retrieves a rejected-attempt artifact by hash.
func (s *Store) GetRejected(hash string) (*Rejected, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rejected[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// PutRejected stores a rejected-attempt artifact.
func (s *Store) PutRejected(r *Rejected) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rejected[r.Hash]; ok {
		if string(existing.CanonicalJSON) == string(r.CanonicalJSON) && existing.ErrorKind == r.ErrorKind {
			return nil
		}
		return fmt.Errorf("%w: rejected hash %s", ErrHashCollision, r.Hash)
	}
	if _, ok := s.accepted[r.Hash]; ok {
		return fmt.Errorf("%w: hash %s already present in accepted", ErrHashCollision, r.Hash)
	}
	if _, ok := s.replay[r.Hash]; ok {
		return fmt.Errorf("%w: hash %s already present in replay-results", ErrHashCollision, r.Hash)
	}
	s.rejected[r.Hash] = r
	return nil
}

// GetReplayResult retrieves a stored replay artifact by hash.
func (s *Store) GetReplayResult(hash string) (*ReplayArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replay[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// PutReplayResult stores a replay artifact.
func (s *Store) PutReplayResult(r *ReplayArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.replay[r.Hash]; ok {
		if string(existing.CanonicalJSON) == string(r.CanonicalJSON) {
			return nil
		}
		return fmt.Errorf("%w: replay hash %s", ErrHashCollision, r.Hash)
	}
	if _, ok := s.accepted[r.Hash]; ok {
		return fmt.Errorf("%w: hash %s already present in accepted", ErrHashCollision, r.Hash)
	}
	if _, ok := s.rejected[r.Hash]; ok {
		return fmt.Errorf("%w: hash %s already present in rejected-attempts", ErrHashCollision, r.Hash)
	}
	s.replay[r.Hash] = r
	return nil
}

// AcceptedByTrace returns every accepted artifact whose trace_id equals
// traceID, unordered — pkg/trace.Resolve is responsible for ordering.
func (s *Store) AcceptedByTrace(traceID string) []*Accepted {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Accepted, 0)
	for _, a := range s.accepted {
		if traceIDOf(a.Record) == traceID {
			out = append(out, a)
		}
	}
	return out
}

// RejectedByTrace returns every rejected-attempt artifact whose trace_id
// equals traceID — the supplemented "rejected-attempt-by-trace" query
// (SPEC_FULL.md's trace index extension), unordered.
func (s *Store) RejectedByTrace(traceID string) []*Rejected {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rejected, 0)
	for _, r := range s.rejected {
		if traceIDOf(r.Record) == traceID {
			out = append(out, r)
		}
	}
	return out
}

func traceIDOf(rec map[string]interface{}) string {
	trace, ok := rec["trace"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := trace["trace_id"].(string)
	return id
}

// Stats is a point-in-time snapshot of namespace sizes, the supplemented
// "Stats()" feature modeled on core's GateSnapshot-style accounting
// (core/pkg/ledger/ledger.go's running counters).
type Stats struct {
	AcceptedCount int
	RejectedCount int
	ReplayCount   int
}

// Stats returns the current size of each namespace.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		AcceptedCount: len(s.accepted),
		RejectedCount: len(s.rejected),
		ReplayCount:   len(s.replay),
	}
}

// VerifyNamespace recomputes every accepted artifact's canonical-byte
// identity and confirms it maps back to its own key — a self-check in the
// spirit of core/pkg/store/audit_store.go's VerifyChain, adapted from hash
// chaining to flat content addressing: there is no previous-hash link to
// verify, only "this artifact's hash is still the hash of its bytes".
func (s *Store) VerifyNamespace(hasher func([]byte) string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for hash, a := range s.accepted {
		if got := hasher(a.CanonicalJSON); got != hash {
			return fmt.Errorf("store: accepted artifact %s recomputes to %s", hash, got)
		}
	}
	for hash, r := range s.rejected {
		if got := hasher(r.CanonicalJSON); got != hash {
			return fmt.Errorf("store: rejected artifact %s recomputes to %s", hash, got)
		}
	}
	for hash, r := range s.replay {
		if got := hasher(r.CanonicalJSON); got != hash {
			return fmt.Errorf("store: replay artifact %s recomputes to %s", hash, got)
		}
	}
	return nil
}
