package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
)

type fakeDriver struct {
	mu    sync.Mutex
	runs  int
	busy  bool
	last  *catalog.RunResult
	block chan struct{}
}

func (d *fakeDriver) Run(_ context.Context) (catalog.RunResult, error) {
	d.mu.Lock()
	d.runs++
	d.busy = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.busy = false
		d.mu.Unlock()
	}()
	if d.block != nil {
		<-d.block
	}
	result := catalog.RunResult{ID: "run-1", Status: catalog.RunStatusSucceeded}
	d.mu.Lock()
	d.last = &result
	d.mu.Unlock()
	return result, nil
}

func (d *fakeDriver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

func (d *fakeDriver) LastRun() (catalog.RunResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return catalog.RunResult{}, false
	}
	return *d.last, true
}

func (d *fakeDriver) runCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

type fakeHistory struct {
	latest catalog.RunResult
	err    error
}

func (h *fakeHistory) RecordRun(context.Context, catalog.RunResult) error { return nil }
func (h *fakeHistory) LatestRun(context.Context) (catalog.RunResult, error) {
	return h.latest, h.err
}
func (h *fakeHistory) PruneBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func TestHealthzAndRequestID(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeDriver{}, &fakeHistory{err: errors.New("empty")}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeDriver{}, &fakeHistory{err: errors.New("empty")}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTriggerRunStartsOnce(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{block: make(chan struct{})}
	srv := NewServer(driver, &fakeHistory{err: errors.New("empty")}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, driver.Running, time.Second, 10*time.Millisecond)

	// A second trigger while the first run is still in flight is rejected.
	resp, err = http.Post(ts.URL+"/v1/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	close(driver.block)
	require.Eventually(t, func() bool {
		_, ok := driver.LastRun()
		return ok && !driver.Running()
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 1, driver.runCount())

	// Once the run finishes, triggering works again.
	resp, err = http.Post(ts.URL+"/v1/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestLatestRunPrefersDriver(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{last: &catalog.RunResult{ID: "run-live", Status: catalog.RunStatusSucceeded}}
	history := &fakeHistory{latest: catalog.RunResult{ID: "run-persisted"}}
	srv := NewServer(driver, history, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result catalog.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, "run-live", result.ID)
}

func TestLatestRunFallsBackToHistory(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{latest: catalog.RunResult{ID: "run-persisted", Status: catalog.RunStatusFailed}}
	srv := NewServer(&fakeDriver{}, history, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result catalog.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, "run-persisted", result.ID)
}

func TestLatestRunEmpty(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeDriver{}, &fakeHistory{err: errors.New("no runs")}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/latest")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
