package catalog

import (
	"context"
	"time"
)

// Fetcher retrieves catalog listings and per-movie detail from the upstream.
type Fetcher interface {
	ListPage(ctx context.Context, page int) (ListingPage, error)
	Detail(ctx context.Context, slug string) (DetailDocument, error)
}

// Store is the remote key-value store the pipeline upserts into.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int, error)
	SAdd(ctx context.Context, key string, members ...string) (int, error)
	SMembers(ctx context.Context, key string) ([]string, error)
}

// RunHistory persists run results and supports retention pruning.
type RunHistory interface {
	RecordRun(ctx context.Context, result RunResult) error
	LatestRun(ctx context.Context) (RunResult, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher pushes run-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
