package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitAllowsWithinBurst(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 100, DefaultBurst: 5})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for range 5 {
		require.NoError(t, l.Wait(ctx, "https://phimapi.com/phim/x"))
	}
}

func TestWaitThrottlesPerDomain(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 20, DefaultBurst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://phimapi.com/a"))
	require.NoError(t, l.Wait(ctx, "https://phimapi.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// A different domain gets its own bucket and is not delayed.
	other := time.Now()
	require.NoError(t, l.Wait(ctx, "https://img.example.com/c"))
	require.Less(t, time.Since(other), 40*time.Millisecond)
}

func TestWaitBucketsByNormalizedHostname(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 20, DefaultBurst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Case and scheme differences map to the same bucket.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://Phimapi.com/a"))
	require.NoError(t, l.Wait(ctx, "http://PHIMAPI.COM/b"))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.limiters, 1)
	require.Contains(t, l.limiters, "phimapi.com")
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "https://slow.example.com"))
	err := l.Wait(ctx, "https://slow.example.com")
	require.Error(t, err)
}

func TestZeroRPSMeansUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for range 50 {
		require.NoError(t, l.Wait(ctx, "https://phimapi.com"))
	}
	require.Less(t, time.Since(start), 500*time.Millisecond)
}
