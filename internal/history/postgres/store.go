// Package postgres provides a Postgres-backed run history.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNoRuns is returned by LatestRun when the history is empty.
var ErrNoRuns = errors.New("no runs recorded")

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists run results in Postgres.
type Store struct {
	pool  pgxPool
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawl_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordRun inserts a run row into Postgres.
func (s *Store) RecordRun(ctx context.Context, result catalog.RunResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run history is not configured")
	}
	if result.ID == "" {
		return fmt.Errorf("run id is required")
	}
	errorsJSON, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	status,
	started_at,
	finished_at,
	error_text,
	listed,
	upserted,
	unchanged,
	failed,
	record_errors
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		result.ID,
		string(result.Status),
		result.StartedAt,
		result.FinishedAt,
		result.ErrorText,
		result.Counters.Listed,
		result.Counters.Upserted,
		result.Counters.Unchanged,
		result.Counters.Failed,
		errorsJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (catalog.RunResult, error) {
	if s == nil || s.pool == nil {
		return catalog.RunResult{}, fmt.Errorf("run history is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, status, started_at, finished_at, error_text,
	listed, upserted, unchanged, failed, record_errors
FROM %s
ORDER BY started_at DESC
LIMIT 1`, s.table)

	var (
		result     catalog.RunResult
		status     string
		errorsJSON []byte
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&result.ID,
		&status,
		&result.StartedAt,
		&result.FinishedAt,
		&result.ErrorText,
		&result.Counters.Listed,
		&result.Counters.Upserted,
		&result.Counters.Unchanged,
		&result.Counters.Failed,
		&errorsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.RunResult{}, ErrNoRuns
		}
		return catalog.RunResult{}, fmt.Errorf("query latest run: %w", err)
	}
	result.Status = catalog.RunStatus(status)
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &result.Errors); err != nil {
			return catalog.RunResult{}, fmt.Errorf("decode run errors: %w", err)
		}
	}
	return result, nil
}

// PruneBefore deletes runs that started before the cutoff and reports how
// many rows were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("run history is not configured")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE started_at < $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
