// Package objectstore stores FetchResults in a flat, prefix-addressed bucket
// and answers the listing queries the read path needs.
//
// Backends implement Bucket; the Client owns key derivation, JSON encoding,
// pagination draining, and error classification.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

// ContentType is set on every stored object.
const ContentType = "application/json"

// Page is one listing response. Prefixes holds delimiter-grouped common
// prefixes including the trailing delimiter.
type Page struct {
	Keys      []string
	Prefixes  []string
	NextToken string
}

// Bucket is the narrow backend contract.
type Bucket interface {
	// PutObject writes body at key, replacing any existing object.
	PutObject(ctx context.Context, key, contentType string, body []byte) error
	// GetObject returns the object body or an error matching newsfeed.ErrNotFound.
	GetObject(ctx context.Context, key string) ([]byte, error)
	// ListPage returns one page of keys under prefix. An empty token starts
	// the listing; an empty NextToken ends it.
	ListPage(ctx context.Context, prefix, delimiter, token string) (Page, error)
	// BucketExists reports whether the bucket is present.
	BucketExists(ctx context.Context) (bool, error)
	// CreateBucket creates the bucket, treating "already exists" as success.
	CreateBucket(ctx context.Context) error
	// Name returns the bucket name.
	Name() string
}

// Options tunes the Client.
type Options struct {
	// Timeout bounds each backend call. Zero disables the bound.
	Timeout time.Duration
	// MaxPages guards against backends that never stop paginating.
	MaxPages int
}

// Client is the typed object store used by the worker and the read path.
type Client struct {
	bucket Bucket
	opts   Options
	logger *zap.Logger
}

// New constructs a Client.
func New(bucket Bucket, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10000
	}
	return &Client{bucket: bucket, opts: opts, logger: logger.Named("objectstore")}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket.Name()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.Timeout)
}

// Put writes result as JSON at the pair's key, overwriting any prior record.
func (c *Client) Put(ctx context.Context, company, source string, result newsfeed.FetchResult) (string, error) {
	key := newsfeed.ObjectKey(company, source)
	body, err := json.Marshal(result)
	if err != nil {
		return "", &newsfeed.StorageError{Op: "encode", Key: key, Err: err}
	}

	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	err = c.bucket.PutObject(opCtx, key, ContentType, body)
	metrics.ObserveStoreOp("put", time.Since(start), err)
	if err != nil {
		return "", &newsfeed.StorageError{Op: "put", Key: key, Err: err}
	}
	c.logger.Debug("object written", zap.String("object_path", key), zap.Int("bytes", len(body)))
	return key, nil
}

// Get loads the pair's record. A missing object returns found=false and no
// error; every other failure is a *newsfeed.StorageError.
func (c *Client) Get(ctx context.Context, company, source string) (newsfeed.FetchResult, bool, error) {
	return c.getKey(ctx, newsfeed.ObjectKey(company, source))
}

func (c *Client) getKey(ctx context.Context, key string) (newsfeed.FetchResult, bool, error) {
	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	body, err := c.bucket.GetObject(opCtx, key)
	if errors.Is(err, newsfeed.ErrNotFound) {
		metrics.ObserveStoreOp("get", time.Since(start), nil)
		return newsfeed.FetchResult{}, false, nil
	}
	metrics.ObserveStoreOp("get", time.Since(start), err)
	if err != nil {
		return newsfeed.FetchResult{}, false, &newsfeed.StorageError{Op: "get", Key: key, Err: err}
	}
	var result newsfeed.FetchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return newsfeed.FetchResult{}, false, &newsfeed.StorageError{Op: "decode", Key: key, Err: err}
	}
	return result, true, nil
}

// drain walks every page of a listing.
func (c *Client) drain(ctx context.Context, prefix, delimiter string) (keys, prefixes []string, err error) {
	token := ""
	seen := map[string]struct{}{}
	for pages := 0; ; pages++ {
		if pages >= c.opts.MaxPages {
			return nil, nil, &newsfeed.StorageError{
				Op:  "list",
				Key: prefix,
				Err: fmt.Errorf("exceeded %d pages", c.opts.MaxPages),
			}
		}
		opCtx, cancel := c.withTimeout(ctx)
		start := time.Now()
		page, err := c.bucket.ListPage(opCtx, prefix, delimiter, token)
		cancel()
		metrics.ObserveStoreOp("list", time.Since(start), err)
		if err != nil {
			return nil, nil, &newsfeed.StorageError{Op: "list", Key: prefix, Err: err}
		}
		keys = append(keys, page.Keys...)
		prefixes = append(prefixes, page.Prefixes...)
		if page.NextToken == "" {
			return keys, prefixes, nil
		}
		if _, dup := seen[page.NextToken]; dup {
			return nil, nil, &newsfeed.StorageError{
				Op:  "list",
				Key: prefix,
				Err: fmt.Errorf("continuation token %q repeated", page.NextToken),
			}
		}
		seen[page.NextToken] = struct{}{}
		token = page.NextToken
	}
}

// ListCompanies returns every top-level prefix, sorted and deduplicated.
func (c *Client) ListCompanies(ctx context.Context) ([]string, error) {
	_, prefixes, err := c.drain(ctx, "", "/")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		name := strings.TrimSuffix(p, "/")
		if name != "" {
			names = append(names, name)
		}
	}
	return sortedUnique(names), nil
}

// ListSources returns the display names of every source stored for company.
// Names are rebuilt from keys, so "BBC News" lists as "Bbc News".
func (c *Client) ListSources(ctx context.Context, company string) ([]string, error) {
	keys, _, err := c.drain(ctx, newsfeed.CompanyPrefix(company), "")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, newsfeed.ObjectSuffix) {
			continue
		}
		names = append(names, newsfeed.DisplaySource(newsfeed.KeyStem(key)))
	}
	return sortedUnique(names), nil
}

// ListArticles loads every record stored for company in key order. Objects
// deleted between listing and loading are skipped. Missing company or source
// fields are filled from the key.
func (c *Client) ListArticles(ctx context.Context, company string) ([]newsfeed.FetchResult, error) {
	keys, _, err := c.drain(ctx, newsfeed.CompanyPrefix(company), "")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	results := make([]newsfeed.FetchResult, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, newsfeed.ObjectSuffix) {
			continue
		}
		result, found, err := c.getKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			c.logger.Debug("object vanished during listing", zap.String("object_path", key))
			continue
		}
		if result.Company == "" {
			result.Company = company
		}
		if result.Source == "" {
			result.Source = newsfeed.SourceFromStem(newsfeed.KeyStem(key))
		}
		results = append(results, result)
	}
	return results, nil
}

// EnsureBucket creates the bucket when it is missing. It reports whether a
// bucket was created.
func (c *Client) EnsureBucket(ctx context.Context) (bool, error) {
	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	exists, err := c.bucket.BucketExists(opCtx)
	if err != nil {
		return false, &newsfeed.StorageError{Op: "head bucket", Key: c.bucket.Name(), Err: err}
	}
	if exists {
		return false, nil
	}
	if err := c.bucket.CreateBucket(opCtx); err != nil {
		return false, &newsfeed.StorageError{Op: "create bucket", Key: c.bucket.Name(), Err: err}
	}
	c.logger.Info("bucket created", zap.String("bucket", c.bucket.Name()))
	return true, nil
}

// Ping checks that the bucket is reachable and present.
func (c *Client) Ping(ctx context.Context) error {
	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	exists, err := c.bucket.BucketExists(opCtx)
	if err != nil {
		return &newsfeed.StorageError{Op: "head bucket", Key: c.bucket.Name(), Err: err}
	}
	if !exists {
		return &newsfeed.StorageError{Op: "head bucket", Key: c.bucket.Name(), Err: newsfeed.ErrBucketNotFound}
	}
	return nil
}

func sortedUnique(values []string) []string {
	sort.Strings(values)
	out := values[:0]
	for _, v := range values {
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}
