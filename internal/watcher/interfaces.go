package watcher

import (
	"context"
	"net/http"
	"time"
)

// VectorStore receives validated chunks in one batched call.
type VectorStore interface {
	Add(ctx context.Context, texts []string, metas []map[string]any) error
}

// SnapshotStore is an optional VectorStore capability used by the
// transactional guard. Stores without it fall back to a raw file copy
// via FileBackedStore.
type SnapshotStore interface {
	Snapshot() ([]byte, error)
	Restore(token []byte) error
}

// FileBackedStore exposes the backing file of a store so the transaction
// guard can copy and replace it.
type FileBackedStore interface {
	Path() string
}

// PageFetcher fetches a URL under politeness rules and returns extracted
// content. A nil result with nil error means the fetch was denied or
// unavailable and no cached value exists.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, respectRobots bool) (*FetchResult, error)
}

// RawFetcher is the side door for structured payloads (sitemaps, feeds,
// JSON APIs) that must not go through text extraction.
type RawFetcher interface {
	FetchRaw(ctx context.Context, url string) ([]byte, http.Header, error)
}

// ResourceProbe samples host resource usage.
type ResourceProbe interface {
	Snapshot() (ResourceUsage, error)
}

// Clock returns the current time (injectable for testing).
type Clock interface {
	Now() time.Time
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Engine mirrors the scheduler's online/offline state into dependent
// subsystems (e.g. a language-model client).
type Engine interface {
	SetOffline(offline bool)
}

// Reporter records the outcome of a run for external reporting.
type Reporter interface {
	Record(ctx context.Context, ingested []string, revoked []string, now time.Time) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
