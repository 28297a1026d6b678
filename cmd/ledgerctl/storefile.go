package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Mindburn-Labs/evidenceledger/pkg/store"
)

// loadStore reads a store snapshot from path, or returns an error if the
// file does not yet exist — callers fall back to a fresh store.
func loadStore(path string) (*store.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return store.Import(snap), nil
}

// saveStore writes s's current contents to path as a JSON snapshot.
func saveStore(path string, s *store.Store) error {
	data, err := json.MarshalIndent(s.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
