// Package runner drives the fetch → normalize → store pipeline for one run.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
	"github.com/movieapp/moviecache-crawler/internal/metrics"
	"github.com/movieapp/moviecache-crawler/internal/normalize"
	"github.com/movieapp/moviecache-crawler/internal/precache"
)

// Config controls Runner behavior.
type Config struct {
	Concurrency        int
	KeyPrefix          string
	MaxEpisodeServers  int
	MaxPages           int
	Topic              string
	ArchivePrefix      string
	ArchiveContentType string
	Retention          time.Duration
}

// Runner executes one crawl run end to end.
type Runner struct {
	fetcher   catalog.Fetcher
	store     catalog.Store
	history   catalog.RunHistory
	publisher catalog.Publisher
	archive   catalog.BlobStore
	clock     catalog.Clock
	ids       catalog.IDGenerator
	hasher    catalog.Hasher
	cfg       Config
	logger    *zap.Logger

	busy atomic.Bool

	mu   sync.RWMutex
	last *catalog.RunResult
}

// ErrRunInProgress is returned by Run when another run is already executing.
// Every trigger path shares this guard, so overlapping cron fires and manual
// triggers collapse into a single run at a time.
var ErrRunInProgress = errors.New("a run is already in progress")

// runState accumulates counters and errors across pool workers.
type runState struct {
	mu       sync.Mutex
	snapshot *precache.Snapshot
	counters catalog.RunCounters
	errs     []catalog.RunError
}

func (s *runState) fail(slug, stage string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Failed++
	s.errs = append(s.errs, catalog.RunError{Slug: slug, Stage: stage, Message: err.Error()})
}

// New constructs a Runner.
func New(
	fetcher catalog.Fetcher,
	store catalog.Store,
	history catalog.RunHistory,
	publisher catalog.Publisher,
	archive catalog.BlobStore,
	clock catalog.Clock,
	ids catalog.IDGenerator,
	hasher catalog.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "movieapp"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		fetcher:   fetcher,
		store:     store,
		history:   history,
		publisher: publisher,
		archive:   archive,
		clock:     clock,
		ids:       ids,
		hasher:    hasher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Running reports whether a run is currently executing.
func (r *Runner) Running() bool {
	return r.busy.Load()
}

// LastRun returns the most recent run result, if any run has started.
func (r *Runner) LastRun() (catalog.RunResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return catalog.RunResult{}, false
	}
	return *r.last, true
}

func (r *Runner) publishLast(result catalog.RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := result
	r.last = &copied
}

// Run executes the full pipeline and returns the run result. The returned
// error is non-nil only for fatal failures; per-record failures are recorded
// in the result and do not fail the run.
func (r *Runner) Run(ctx context.Context) (catalog.RunResult, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return catalog.RunResult{}, ErrRunInProgress
	}
	defer r.busy.Store(false)

	runID, err := r.ids.NewID()
	if err != nil {
		return catalog.RunResult{}, fmt.Errorf("generate run id: %w", err)
	}

	result := catalog.RunResult{
		ID:        runID,
		Status:    catalog.RunStatusIdle,
		StartedAt: r.clock.Now(),
	}
	r.publishLast(result)
	r.logger.Info("run started", zap.String("run_id", runID))

	fatal := r.execute(ctx, &result)

	result.FinishedAt = r.clock.Now()
	if fatal != nil {
		result.Status = catalog.RunStatusFailed
		result.ErrorText = fatal.Error()
	} else {
		result.Status = catalog.RunStatusSucceeded
	}
	r.publishLast(result)
	metrics.ObserveRun(string(result.Status), result.FinishedAt.Sub(result.StartedAt))
	r.finalize(ctx, result)

	r.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", string(result.Status)),
		zap.Int("listed", result.Counters.Listed),
		zap.Int("upserted", result.Counters.Upserted),
		zap.Int("unchanged", result.Counters.Unchanged),
		zap.Int("failed", result.Counters.Failed))
	return result, fatal
}

func (r *Runner) execute(ctx context.Context, result *catalog.RunResult) error {
	if err := r.probeStore(ctx, result.ID); err != nil {
		return fmt.Errorf("store probe: %w", err)
	}

	registry := catalog.RegistryKey(r.cfg.KeyPrefix)
	snapshot, err := precache.Load(ctx, r.store, registry, r.logger)
	if err != nil {
		// The probe already proved the store reachable; run with an empty
		// snapshot and rewrite everything rather than abort.
		r.logger.Warn("precache snapshot load failed", zap.Error(err))
		snapshot = precache.NewSnapshot()
	}

	state := &runState{snapshot: snapshot}
	defer func() {
		result.Counters = state.counters
		result.Errors = state.errs
	}()

	page := 1
	for {
		r.setStatus(result, catalog.RunStatusFetching)
		listing, err := r.fetcher.ListPage(ctx, page)
		if err != nil {
			if page == 1 {
				return fmt.Errorf("fetch listing page 1: %w", err)
			}
			state.fail("", "fetch", err)
			r.logger.Warn("listing page fetch failed, stopping pagination",
				zap.Int("page", page), zap.Error(err))
			break
		}
		if len(listing.Items) == 0 {
			break
		}

		r.archivePage(ctx, result.ID, listing)

		state.mu.Lock()
		state.counters.Listed += len(listing.Items)
		state.mu.Unlock()

		r.setStatus(result, catalog.RunStatusNormalizing)
		r.setStatus(result, catalog.RunStatusStoring)
		r.processBatch(ctx, listing.Items, state)

		if ctx.Err() != nil {
			return fmt.Errorf("run canceled: %w", ctx.Err())
		}
		if listing.TotalPages > 0 && page >= listing.TotalPages {
			break
		}
		if r.cfg.MaxPages > 0 && page >= r.cfg.MaxPages {
			break
		}
		page++
	}
	return nil
}

// probeStore verifies round-trip store connectivity before the run touches
// real keys. Failure here is fatal.
func (r *Runner) probeStore(ctx context.Context, runID string) error {
	key := fmt.Sprintf("%s:probe_%s", r.cfg.KeyPrefix, runID)
	if err := r.store.SetEx(ctx, key, "ok", time.Minute); err != nil {
		return err
	}
	value, found, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found || value != "ok" {
		return errors.New("probe read mismatch")
	}
	if _, err := r.store.Del(ctx, key); err != nil {
		r.logger.Warn("probe key cleanup failed", zap.Error(err))
	}
	return nil
}

func (r *Runner) processBatch(ctx context.Context, items []catalog.ListingItem, state *runState) {
	tasks := make(chan catalog.ListingItem)
	var wg sync.WaitGroup
	for range r.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				metrics.IncActiveWorkers()
				r.processItem(ctx, item, state)
				metrics.DecActiveWorkers()
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case <-ctx.Done():
			break feed
		case tasks <- item:
		}
	}
	close(tasks)
	wg.Wait()
}

// processItem runs the per-record pipeline. Failures are recorded in the
// run state and never abort the run.
func (r *Runner) processItem(ctx context.Context, item catalog.ListingItem, state *runState) {
	if item.Slug == "" {
		state.fail(item.ID, "normalize", catalog.NewValidationError(item.ID, "listing item has no slug"))
		metrics.ObserveRecord("failed")
		return
	}

	doc, err := r.fetcher.Detail(ctx, item.Slug)
	if err != nil {
		state.fail(item.Slug, "fetch", err)
		metrics.ObserveRecord("failed")
		return
	}

	record, err := normalize.Movie(&doc)
	if err != nil {
		state.fail(item.Slug, "normalize", err)
		metrics.ObserveRecord("failed")
		return
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		state.fail(item.Slug, "normalize", fmt.Errorf("encode payload: %w", err))
		metrics.ObserveRecord("failed")
		return
	}

	movieKey := catalog.MovieKey(r.cfg.KeyPrefix, record.Slug)
	if state.snapshot.Unchanged(movieKey, string(payload)) {
		state.mu.Lock()
		state.counters.Unchanged++
		state.mu.Unlock()
		metrics.ObserveRecord("unchanged")
		r.logger.Debug("skipped unchanged movie", zap.String("slug", record.Slug))
		return
	}

	if err := r.upsert(ctx, movieKey, string(payload), state); err != nil {
		state.fail(record.Slug, "store", err)
		metrics.ObserveRecord("failed")
		return
	}

	aliasKey := catalog.IDToSlugKey(r.cfg.KeyPrefix, record.ID)
	if err := r.upsert(ctx, aliasKey, record.Slug, state); err != nil {
		state.fail(record.Slug, "store", err)
		metrics.ObserveRecord("failed")
		return
	}

	r.storeStreams(ctx, record, doc.Episodes, state)

	state.mu.Lock()
	state.counters.Upserted++
	state.mu.Unlock()
	metrics.ObserveRecord("upserted")
	r.logger.Info("cached movie", zap.String("slug", record.Slug))
}

// storeStreams writes per-episode stream payloads. A failed stream write is
// logged and skipped without failing the record, matching the precedence of
// the movie payload over its episodes.
func (r *Runner) storeStreams(ctx context.Context, record catalog.MovieRecord, servers []catalog.EpisodeServer, state *runState) {
	for _, item := range normalize.StreamItems(record.ID, servers, r.cfg.MaxEpisodeServers) {
		payload, err := json.Marshal(item.Detail)
		if err != nil {
			r.logger.Warn("encode stream payload failed",
				zap.String("slug", record.Slug), zap.Error(err))
			continue
		}
		key := catalog.StreamDetailKey(r.cfg.KeyPrefix, record.ID, item.Server, item.Episode)
		if state.snapshot.Unchanged(key, string(payload)) {
			continue
		}
		if err := r.upsert(ctx, key, string(payload), state); err != nil {
			r.logger.Warn("stream upsert failed",
				zap.String("key", key), zap.Error(err))
		}
	}
}

// upsert writes a key, registers it in the precache set, and updates the
// local snapshot so later runs within the process see the new value.
func (r *Runner) upsert(ctx context.Context, key, payload string, state *runState) error {
	if err := r.store.Set(ctx, key, payload); err != nil {
		return err
	}
	if _, err := r.store.SAdd(ctx, catalog.RegistryKey(r.cfg.KeyPrefix), key); err != nil {
		return err
	}
	state.snapshot.Remember(key, payload)
	return nil
}

func (r *Runner) archivePage(ctx context.Context, runID string, listing catalog.ListingPage) {
	if r.archive == nil || len(listing.Raw) == 0 {
		return
	}
	digest := ""
	if r.hasher != nil {
		d, err := r.hasher.Hash(listing.Raw)
		if err != nil {
			r.logger.Warn("hash listing page failed", zap.Int("page", listing.Page), zap.Error(err))
		} else {
			digest = d
		}
	}
	path := fmt.Sprintf("%s/%s/page-%d.json", r.cfg.ArchivePrefix, runID, listing.Page)
	uri, err := r.archive.PutObject(ctx, path, r.cfg.ArchiveContentType, listing.Raw)
	if err != nil {
		r.logger.Warn("archive listing page failed", zap.Int("page", listing.Page), zap.Error(err))
		return
	}
	r.logger.Debug("archived listing page",
		zap.String("uri", uri), zap.String("sha256", digest))
}

// finalize persists and announces the run result. History and publish
// failures are logged; the run outcome is already decided.
func (r *Runner) finalize(ctx context.Context, result catalog.RunResult) {
	if r.history != nil {
		if err := r.history.RecordRun(ctx, result); err != nil {
			r.logger.Error("record run failed", zap.String("run_id", result.ID), zap.Error(err))
		}
		if r.cfg.Retention > 0 {
			cutoff := r.clock.Now().Add(-r.cfg.Retention)
			pruned, err := r.history.PruneBefore(ctx, cutoff)
			if err != nil {
				r.logger.Warn("prune run history failed", zap.Error(err))
			} else if pruned > 0 {
				r.logger.Info("pruned run history", zap.Int64("runs", pruned))
			}
		}
	}
	if r.publisher != nil {
		if _, err := r.publisher.Publish(ctx, r.cfg.Topic, result); err != nil {
			r.logger.Error("publish run result failed", zap.String("run_id", result.ID), zap.Error(err))
		}
	}
}

func (r *Runner) setStatus(result *catalog.RunResult, status catalog.RunStatus) {
	result.Status = status
	r.publishLast(*result)
}
