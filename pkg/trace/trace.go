// Package trace builds a deterministic per-trace view over the artifact
// store: bucket accepted (and optionally rejected-attempt) artifacts by
// trace_id, then order each bucket by kind class, time key, and envelope
// hash. Grounded on the same RWMutex-guarded, pure-function-over-a-snapshot
// style as core/pkg/store/audit_store.go's Query/QueryFilter, generalized
// from a single flat sequence to a trace-keyed, three-way ordering rule.
package trace

import (
	"encoding/json"
	"sort"

	"github.com/Mindburn-Labs/evidenceledger/pkg/record"
	"github.com/Mindburn-Labs/evidenceledger/pkg/store"
)

// Entry is one record in a resolved chain.
type Entry struct {
	Hash       string
	Kind       record.Kind
	Record     map[string]interface{}
	Rejected   bool
	ErrorKind  string // only set when Rejected
}

// Options configures resolution.
type Options struct {
	IncludeRejectedAttempts bool
}

// Resolve returns the ordered chain for traceID, or nil if no accepted
// record carries it (an empty trace is "not found", spec.md §4.7's
// REPLAY_CHAIN_NOT_FOUND precondition).
func Resolve(s *store.Store, traceID string, opts Options) []Entry {
	accepted := s.AcceptedByTrace(traceID)
	if len(accepted) == 0 {
		return nil
	}

	entries := make([]Entry, 0, len(accepted))
	for _, a := range accepted {
		entries = append(entries, Entry{Hash: a.Hash, Kind: a.Kind, Record: a.Record})
	}

	if opts.IncludeRejectedAttempts {
		for _, r := range s.RejectedByTrace(traceID) {
			entries = append(entries, Entry{Hash: r.Hash, Kind: r.Kind, Record: r.Record, Rejected: true, ErrorKind: r.ErrorKind})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ci, cj := entries[i].Kind.OrderClass(), entries[j].Kind.OrderClass()
		if ci != cj {
			return ci < cj
		}
		ti, tj := timeKey(entries[i].Record), timeKey(entries[j].Record)
		if ti != tj {
			return ti < tj
		}
		return entries[i].Hash < entries[j].Hash
	})

	return entries
}

// timeKey extracts the ordering time key per spec.md §4.6: ts_ms for
// auth_context/policy_decision, started_at_ms for model_call/tool_call.
// Non-numeric or absent values are treated as 0.
func timeKey(rec map[string]interface{}) int64 {
	if v, ok := numeric(rec["ts_ms"]); ok {
		return v
	}
	if v, ok := numeric(rec["started_at_ms"]); ok {
		return v
	}
	return 0
}

func numeric(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
