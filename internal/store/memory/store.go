// Package memory provides an in-memory catalog.Store for development/testing.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Store keeps keys and sets in process memory.
type Store struct {
	mu   sync.RWMutex
	keys map[string]entry
	sets map[string]map[string]struct{}
}

// New constructs a Store.
func New() *Store {
	return &Store{
		keys: make(map[string]entry),
		sets: make(map[string]map[string]struct{}),
	}
}

// Get returns the value stored under key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.keys[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set writes value under key without expiry.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = entry{value: value}
	return nil
}

// SetEx writes value under key with a time-to-live.
func (s *Store) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Del removes keys and reports how many existed.
func (s *Store) Del(_ context.Context, keys ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, key := range keys {
		if _, ok := s.keys[key]; ok {
			delete(s.keys, key)
			removed++
		}
	}
	return removed, nil
}

// SAdd adds members to the set under key.
func (s *Store) SAdd(_ context.Context, key string, members ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	added := 0
	for _, member := range members {
		if _, exists := set[member]; !exists {
			set[member] = struct{}{}
			added++
		}
	}
	return added, nil
}

// SMembers returns all members of the set under key.
func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members, nil
}

// Len reports the number of live keys (test helper).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
