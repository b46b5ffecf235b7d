// Package precache mirrors the remote precache key set locally so a run can
// detect unchanged payloads without a read per record.
package precache

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
)

// Snapshot holds the previously stored payloads for the registry keys.
type Snapshot struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewSnapshot returns an empty Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{entries: make(map[string]string)}
}

// Load reads every key registered in the registry set into a Snapshot.
// Per-key read failures are logged and skipped; a record whose prior value
// is missing from the snapshot is simply rewritten.
func Load(ctx context.Context, store catalog.Store, registryKey string, logger *zap.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	snap := NewSnapshot()

	keys, err := store.SMembers(ctx, registryKey)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		logger.Info("no precached keys registered")
		return snap, nil
	}

	loaded := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		value, found, err := store.Get(ctx, key)
		if err != nil {
			logger.Warn("failed to load precached key", zap.String("key", key), zap.Error(err))
			continue
		}
		if found {
			snap.entries[key] = value
			loaded++
		}
	}
	logger.Info("loaded precache snapshot",
		zap.Int("registered", len(keys)), zap.Int("loaded", loaded))
	return snap, nil
}

// Unchanged reports whether the stored payload for key is semantically equal
// to payload. Comparison is key-order independent; undecodable prior values
// count as changed.
func (s *Snapshot) Unchanged(key, payload string) bool {
	s.mu.RLock()
	existing, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || existing == "" || existing == "{}" {
		return false
	}
	newCanonical, err := canonicalJSON(payload)
	if err != nil {
		return false
	}
	oldCanonical, err := canonicalJSON(existing)
	if err != nil {
		return false
	}
	return newCanonical == oldCanonical
}

// Remember records payload as the last stored value for key.
func (s *Snapshot) Remember(key, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = payload
}

// Size returns the number of snapshot entries.
func (s *Snapshot) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// canonicalJSON round-trips a JSON document so object keys come out sorted.
func canonicalJSON(payload string) (string, error) {
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return "", err
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
