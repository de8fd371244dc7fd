// Package memory provides an in-memory bucket for development and tests.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/objectstore"
)

// DefaultPageSize mirrors the S3 listing page size.
const DefaultPageSize = 1000

// Bucket stores objects in a map and paginates listings like S3 does.
type Bucket struct {
	mu       sync.RWMutex
	name     string
	pageSize int
	exists   bool
	data     map[string][]byte
}

// New creates an existing, empty bucket. pageSize <= 0 selects DefaultPageSize.
func New(name string, pageSize int) *Bucket {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Bucket{
		name:     name,
		pageSize: pageSize,
		exists:   true,
		data:     make(map[string][]byte),
	}
}

// NewMissing creates a bucket that reports itself absent until CreateBucket.
func NewMissing(name string, pageSize int) *Bucket {
	b := New(name, pageSize)
	b.exists = false
	return b
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// PutObject stores a copy of body.
func (b *Bucket) PutObject(_ context.Context, key, _ string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.exists {
		return newsfeed.ErrBucketNotFound
	}
	b.data[key] = append([]byte(nil), body...)
	return nil
}

// GetObject returns a copy of the stored body.
func (b *Bucket) GetObject(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.exists {
		return nil, newsfeed.ErrBucketNotFound
	}
	body, ok := b.data[key]
	if !ok {
		return nil, newsfeed.ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

// Delete removes key. It is used to simulate objects vanishing mid-listing.
func (b *Bucket) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

// ListPage groups keys by delimiter and returns at most pageSize entries.
// The continuation token is the offset into the sorted entry list.
func (b *Bucket) ListPage(_ context.Context, prefix, delimiter, token string) (objectstore.Page, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.exists {
		return objectstore.Page{}, newsfeed.ErrBucketNotFound
	}

	type entry struct {
		name     string
		isPrefix bool
	}
	seen := map[string]struct{}{}
	var entries []entry
	for key := range b.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if delimiter != "" {
			rest := key[len(prefix):]
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				common := prefix + rest[:idx+len(delimiter)]
				if _, ok := seen[common]; !ok {
					seen[common] = struct{}{}
					entries = append(entries, entry{name: common, isPrefix: true})
				}
				continue
			}
		}
		entries = append(entries, entry{name: key})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	offset := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > len(entries) {
			return objectstore.Page{}, newsfeed.Validationf("invalid continuation token %q", token)
		}
		offset = n
	}
	end := offset + b.pageSize
	if end > len(entries) {
		end = len(entries)
	}

	var page objectstore.Page
	for _, e := range entries[offset:end] {
		if e.isPrefix {
			page.Prefixes = append(page.Prefixes, e.name)
		} else {
			page.Keys = append(page.Keys, e.name)
		}
	}
	if end < len(entries) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

// BucketExists reports whether the bucket has been created.
func (b *Bucket) BucketExists(_ context.Context) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exists, nil
}

// CreateBucket marks the bucket as present. Creating twice is a no-op.
func (b *Bucket) CreateBucket(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exists = true
	return nil
}
