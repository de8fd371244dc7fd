package newsfeed

import (
	"context"
	"time"
)

// Provider searches an external news API for one pair.
type Provider interface {
	Search(ctx context.Context, company, source string, limit int) (FetchResult, error)
}

// ResultStore persists and loads FetchResults by pair.
type ResultStore interface {
	Put(ctx context.Context, company, source string, result FetchResult) (string, error)
	Get(ctx context.Context, company, source string) (FetchResult, bool, error)
}

// DeadLetterRecorder appends failed executions to a durable list.
type DeadLetterRecorder interface {
	Record(ctx context.Context, entry DeadLetterEntry) error
}

// DeadLetterReader returns the newest dead letters first.
type DeadLetterReader interface {
	Recent(ctx context.Context, limit int) ([]DeadLetterEntry, error)
}

// Catalog lists the configured companies and their sources.
type Catalog interface {
	ListCompaniesWithSources(ctx context.Context) ([]CompanySources, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque task identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
