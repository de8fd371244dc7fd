// Package memory keeps dead letters in process for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

// Recorder is an in-memory, newest-first dead-letter list.
type Recorder struct {
	mu      sync.Mutex
	clock   newsfeed.Clock
	entries []newsfeed.DeadLetterEntry
	err     error
}

// New creates an empty Recorder.
func New(clock newsfeed.Clock) *Recorder {
	return &Recorder{clock: clock}
}

// FailWith makes every subsequent Record return err. Passing nil clears it.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Record stamps recorded_at and prepends the entry.
func (r *Recorder) Record(_ context.Context, entry newsfeed.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.clock != nil {
		entry.RecordedAt = r.clock.Now()
	}
	r.entries = append([]newsfeed.DeadLetterEntry{entry}, r.entries...)
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *Recorder) Recent(_ context.Context, limit int) ([]newsfeed.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > len(r.entries) {
		limit = len(r.entries)
	}
	if limit < 0 {
		limit = 0
	}
	out := make([]newsfeed.DeadLetterEntry, limit)
	copy(out, r.entries[:limit])
	return out, nil
}

// Entries returns a snapshot of every entry, newest first.
func (r *Recorder) Entries() []newsfeed.DeadLetterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]newsfeed.DeadLetterEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
