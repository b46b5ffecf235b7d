// Package noop discards run history.
package noop

import (
	"context"
	"errors"
	"time"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
)

// Store drops every run result.
type Store struct{}

// New returns a noop Store.
func New() *Store {
	return &Store{}
}

// RecordRun discards the result.
func (*Store) RecordRun(context.Context, catalog.RunResult) error {
	return nil
}

// LatestRun always reports that no runs exist.
func (*Store) LatestRun(context.Context) (catalog.RunResult, error) {
	return catalog.RunResult{}, errors.New("run history is disabled")
}

// PruneBefore is a no-op.
func (*Store) PruneBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
