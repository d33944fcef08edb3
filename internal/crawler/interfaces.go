package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// JobStore persists search jobs and the records they produced.
type JobStore interface {
	CreateJob(ctx context.Context, job SearchJob) error
	UpdateJob(ctx context.Context, job SearchJob) error
	GetJob(ctx context.Context, jobID string) (SearchJob, error)
	AppendRecords(ctx context.Context, jobID string, records []ProductRecord) error
	ListRecords(ctx context.Context, jobID string) ([]ProductRecord, error)
}

// RecordStore writes extracted records to durable storage.
type RecordStore interface {
	StoreRecords(ctx context.Context, jobID string, records []ProductRecord) error
}

// BlobStore writes exports and snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for snapshot naming and cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
	// Key returns namespace followed by the digest of data.
	Key(namespace string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Pauser blocks for a delay or until the context ends.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}
