// Package memory provides an in-memory run history for development/testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
)

// ErrNoRuns is returned by LatestRun when the history is empty.
var ErrNoRuns = errors.New("no runs recorded")

// Store keeps run results in process memory, ordered by insertion.
type Store struct {
	mu   sync.RWMutex
	runs []catalog.RunResult
}

// New constructs a Store.
func New() *Store {
	return &Store{}
}

// RecordRun appends a run result.
func (s *Store) RecordRun(_ context.Context, result catalog.RunResult) error {
	if result.ID == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, result)
	return nil
}

// LatestRun returns the most recently recorded run.
func (s *Store) LatestRun(_ context.Context) (catalog.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return catalog.RunResult{}, ErrNoRuns
	}
	return s.runs[len(s.runs)-1], nil
}

// PruneBefore removes runs that started before the cutoff.
func (s *Store) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.runs[:0]
	var pruned int64
	for _, run := range s.runs {
		if run.StartedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, run)
	}
	s.runs = kept
	return pruned, nil
}

// Len reports the number of stored runs (test helper).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
