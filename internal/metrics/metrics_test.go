package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeDomain(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://phimapi.com/path", "phimapi.com"},
		{"standard https", "https://PhimAPI.com/danh-sach", "phimapi.com"},
		{"no scheme", "phimapi.com/phim/bo-gia", "phimapi.com"},
		{"host with port", "phimapi.com:8080", "phimapi.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeDomain(tc.input); got != tc.expected {
				t.Errorf("SanitizeDomain(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlerRunsTotal == nil || crawlerRecordsTotal == nil ||
		crawlerStoreCommandsTotal == nil || crawlerFetchDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveRecord("upserted")
	if val := testutil.ToFloat64(crawlerRecordsTotal.WithLabelValues("upserted")); val < 1 {
		t.Errorf("expected records counter to increment, got %f", val)
	}

	ObserveRun("succeeded", 3*time.Second)
	if val := testutil.ToFloat64(crawlerRunsTotal.WithLabelValues("succeeded")); val < 1 {
		t.Errorf("expected runs counter to increment, got %f", val)
	}

	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(crawlerActiveWorkers); val != 0 {
		t.Errorf("expected active workers gauge to return to 0, got %f", val)
	}
}
