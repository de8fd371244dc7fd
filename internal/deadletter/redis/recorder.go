// Package redis records dead letters in a Redis list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/newsfeeds/internal/deadletter"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

// Recorder pushes entries with LPUSH and reads them with LRANGE.
type Recorder struct {
	client redis.Cmdable
	key    string
	clock  newsfeed.Clock
}

var (
	_ newsfeed.DeadLetterRecorder = (*Recorder)(nil)
	_ newsfeed.DeadLetterReader   = (*Recorder)(nil)
)

// New creates a Recorder on key; an empty key selects deadletter.DefaultKey.
func New(client redis.Cmdable, key string, clock newsfeed.Clock) (*Recorder, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if key == "" {
		key = deadletter.DefaultKey
	}
	return &Recorder{client: client, key: key, clock: clock}, nil
}

// Key returns the list name.
func (r *Recorder) Key() string { return r.key }

// Record stamps recorded_at and pushes the entry to the head of the list.
func (r *Recorder) Record(ctx context.Context, entry newsfeed.DeadLetterEntry) error {
	entry.RecordedAt = r.clock.Now()
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := r.client.LPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]newsfeed.DeadLetterEntry, error) {
	if limit <= 0 {
		return []newsfeed.DeadLetterEntry{}, nil
	}
	raw, err := r.client.LRange(ctx, r.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	entries := make([]newsfeed.DeadLetterEntry, 0, len(raw))
	for i, item := range raw {
		var entry newsfeed.DeadLetterEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode dead letter %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Len returns the number of recorded entries.
func (r *Recorder) Len(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}
