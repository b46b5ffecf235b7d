package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
	"github.com/movieapp/moviecache-crawler/internal/hash/sha256"
	"github.com/movieapp/moviecache-crawler/internal/store/memory"
)

type fakeFetcher struct {
	mu        sync.Mutex
	pages     []catalog.ListingPage
	listErr   error
	details   map[string]catalog.DetailDocument
	detailErr map[string]error
	block     chan struct{}
}

func (f *fakeFetcher) ListPage(_ context.Context, page int) (catalog.ListingPage, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return catalog.ListingPage{}, f.listErr
	}
	if page > len(f.pages) {
		return catalog.ListingPage{Page: page}, nil
	}
	return f.pages[page-1], nil
}

func (f *fakeFetcher) Detail(_ context.Context, slug string) (catalog.DetailDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.detailErr[slug]; ok {
		return catalog.DetailDocument{}, err
	}
	doc, ok := f.details[slug]
	if !ok {
		return catalog.DetailDocument{}, catalog.NewFetchError(slug, errors.New("no such slug"))
	}
	return doc, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	runs    []catalog.RunResult
	cutoffs []time.Time
}

func (h *fakeHistory) RecordRun(_ context.Context, result catalog.RunResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, result)
	return nil
}

func (h *fakeHistory) LatestRun(_ context.Context) (catalog.RunResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.runs) == 0 {
		return catalog.RunResult{}, errors.New("no runs")
	}
	return h.runs[len(h.runs)-1], nil
}

func (h *fakeHistory) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cutoffs = append(h.cutoffs, cutoff)
	return 0, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, payload)
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

type fakeArchive struct {
	mu    sync.Mutex
	paths []string
}

func (a *fakeArchive) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths = append(a.paths, path)
	return "mem://" + path, nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeIDs struct{ n int }

func (g *fakeIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}

func detailFor(id, slug string) catalog.DetailDocument {
	return catalog.DetailDocument{
		Status: true,
		Movie: map[string]any{
			"_id":        id,
			"slug":       slug,
			"name":       "Movie " + slug,
			"content":    "synopsis for " + slug,
			"poster_url": "https://img/" + slug + ".jpg",
		},
		Episodes: []catalog.EpisodeServer{{
			ServerName: "#1",
			ServerData: []catalog.Episode{{Name: "Tập 1", LinkM3U8: "https://cdn/" + slug + "/1.m3u8"}},
		}},
	}
}

func listingPage(page, total int, slugs ...string) catalog.ListingPage {
	items := make([]catalog.ListingItem, len(slugs))
	for i, slug := range slugs {
		items[i] = catalog.ListingItem{ID: "id-" + slug, Slug: slug, Name: "Movie " + slug}
	}
	return catalog.ListingPage{Items: items, Page: page, TotalPages: total, Raw: []byte(`{"page":true}`)}
}

func newTestRunner(f *fakeFetcher, store catalog.Store) (*Runner, *fakeHistory, *fakePublisher, *fakeArchive) {
	history := &fakeHistory{}
	publisher := &fakePublisher{}
	archive := &fakeArchive{}
	r := New(f, store, history, publisher, archive,
		&fakeClock{now: time.Unix(1700000000, 0).UTC()},
		&fakeIDs{},
		sha256.New(),
		Config{
			Concurrency:       2,
			KeyPrefix:         "movieapp",
			MaxEpisodeServers: 20,
			Topic:             "crawl-runs",
			ArchivePrefix:     "runs",
			Retention:         time.Hour * 24,
		},
		zap.NewNop())
	return r, history, publisher, archive
}

func TestRunStoresAllRecords(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: []catalog.ListingPage{listingPage(1, 1, "movie-a", "movie-b")},
		details: map[string]catalog.DetailDocument{
			"movie-a": detailFor("id-a", "movie-a"),
			"movie-b": detailFor("id-b", "movie-b"),
		},
	}
	store := memory.New()
	r, history, publisher, archive := newTestRunner(fetcher, store)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, catalog.RunStatusSucceeded, result.Status)
	require.Equal(t, 2, result.Counters.Listed)
	require.Equal(t, 2, result.Counters.Upserted)
	require.Zero(t, result.Counters.Failed)

	_, found, err := store.Get(context.Background(), "movieapp:movie_movie-a")
	require.NoError(t, err)
	require.True(t, found)

	slug, found, err := store.Get(context.Background(), "movieapp:id_to_slug_id-a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "movie-a", slug)

	stream, found, err := store.Get(context.Background(), "movieapp:stream_detail_id-a_0_0")
	require.NoError(t, err)
	require.True(t, found)
	var detail catalog.StreamDetail
	require.NoError(t, json.Unmarshal([]byte(stream), &detail))
	require.Equal(t, "https://cdn/movie-a/1.m3u8", detail.StreamLinks[0].URL)

	members, err := store.SMembers(context.Background(), "movieapp:precached_keys")
	require.NoError(t, err)
	require.Contains(t, members, "movieapp:movie_movie-a")
	require.Contains(t, members, "movieapp:stream_detail_id-b_0_0")

	require.Len(t, history.runs, 1)
	require.Len(t, history.cutoffs, 1)
	require.Len(t, publisher.messages, 1)
	require.Equal(t, []string{"runs/run-1/page-1.json"}, archive.paths)
}

func TestRunSecondPassIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: []catalog.ListingPage{listingPage(1, 1, "movie-a")},
		details: map[string]catalog.DetailDocument{
			"movie-a": detailFor("id-a", "movie-a"),
		},
	}
	store := memory.New()
	r, _, _, _ := newTestRunner(fetcher, store)

	first, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Counters.Upserted)

	// Detail documents are mutated during normalization, rebuild them so the
	// second run sees the same upstream payload.
	fetcher.mu.Lock()
	fetcher.details["movie-a"] = detailFor("id-a", "movie-a")
	fetcher.mu.Unlock()

	second, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, catalog.RunStatusSucceeded, second.Status)
	require.Zero(t, second.Counters.Upserted)
	require.Equal(t, 1, second.Counters.Unchanged)
}

func TestRunFetchFailureIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{listErr: catalog.NewFetchError("https://up/list", errors.New("timeout"))}
	r, history, publisher, _ := newTestRunner(fetcher, memory.New())

	result, err := r.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, catalog.RunStatusFailed, result.Status)
	require.Zero(t, result.Counters.Upserted)
	require.NotEmpty(t, result.ErrorText)

	// Failed runs are still persisted and announced.
	require.Len(t, history.runs, 1)
	require.Len(t, publisher.messages, 1)
}

func TestRunPartialFailureKeepsGoing(t *testing.T) {
	t.Parallel()

	invalid := detailFor("id-bad", "movie-bad")
	delete(invalid.Movie, "content")

	fetcher := &fakeFetcher{
		pages: []catalog.ListingPage{listingPage(1, 1, "movie-a", "movie-bad", "movie-c")},
		details: map[string]catalog.DetailDocument{
			"movie-a":   detailFor("id-a", "movie-a"),
			"movie-bad": invalid,
			"movie-c":   detailFor("id-c", "movie-c"),
		},
	}
	store := memory.New()
	r, _, _, _ := newTestRunner(fetcher, store)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, catalog.RunStatusSucceeded, result.Status)
	require.Equal(t, 2, result.Counters.Upserted)
	require.Equal(t, 1, result.Counters.Failed)
	require.Len(t, result.Errors, 1)
	require.Equal(t, "movie-bad", result.Errors[0].Slug)
	require.Equal(t, "normalize", result.Errors[0].Stage)

	_, found, err := store.Get(context.Background(), "movieapp:movie_movie-a")
	require.NoError(t, err)
	require.True(t, found)
	_, found, err = store.Get(context.Background(), "movieapp:movie_movie-bad")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRunDetailFetchFailureIsRecorded(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: []catalog.ListingPage{listingPage(1, 1, "movie-a", "movie-gone")},
		details: map[string]catalog.DetailDocument{
			"movie-a": detailFor("id-a", "movie-a"),
		},
		detailErr: map[string]error{
			"movie-gone": catalog.NewFetchError("https://up/phim/movie-gone", errors.New("502")),
		},
	}
	r, _, _, _ := newTestRunner(fetcher, memory.New())

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Counters.Upserted)
	require.Equal(t, 1, result.Counters.Failed)
	require.Equal(t, "fetch", result.Errors[0].Stage)
}

func TestRunWalksAllPages(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: []catalog.ListingPage{
			listingPage(1, 2, "movie-a"),
			listingPage(2, 2, "movie-b"),
		},
		details: map[string]catalog.DetailDocument{
			"movie-a": detailFor("id-a", "movie-a"),
			"movie-b": detailFor("id-b", "movie-b"),
		},
	}
	r, _, _, archive := newTestRunner(fetcher, memory.New())

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Counters.Listed)
	require.Equal(t, 2, result.Counters.Upserted)
	require.Len(t, archive.paths, 2)
}

func TestLastRunTracksResult(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: []catalog.ListingPage{listingPage(1, 1, "movie-a")},
		details: map[string]catalog.DetailDocument{
			"movie-a": detailFor("id-a", "movie-a"),
		},
	}
	r, _, _, _ := newTestRunner(fetcher, memory.New())

	_, ok := r.LastRun()
	require.False(t, ok)

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	last, ok := r.LastRun()
	require.True(t, ok)
	require.Equal(t, catalog.RunStatusSucceeded, last.Status)
	require.Equal(t, 1, last.Counters.Upserted)
}

func TestRunRejectsOverlappingRun(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		block: make(chan struct{}),
		pages: []catalog.ListingPage{listingPage(1, 1, "movie-a")},
		details: map[string]catalog.DetailDocument{
			"movie-a": detailFor("id-a", "movie-a"),
		},
	}
	r, history, _, _ := newTestRunner(fetcher, memory.New())

	type outcome struct {
		result catalog.RunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := r.Run(context.Background())
		done <- outcome{result: result, err: err}
	}()

	require.Eventually(t, r.Running, time.Second, 10*time.Millisecond)

	// Any second trigger, whatever its source, is turned away while the
	// first run holds the guard.
	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)

	close(fetcher.block)
	first := <-done
	require.NoError(t, first.err)
	require.Equal(t, catalog.RunStatusSucceeded, first.result.Status)
	require.Equal(t, 1, first.result.Counters.Upserted)
	require.False(t, r.Running())

	// The rejected trigger must leave no trace in history.
	require.Len(t, history.runs, 1)

	// With the guard released a new run proceeds.
	result, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, catalog.RunStatusSucceeded, result.Status)
}
