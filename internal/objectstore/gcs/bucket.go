// Package gcs implements objectstore.Bucket on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/objectstore"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket          string `mapstructure:"bucket"`
	ProjectID       string `mapstructure:"project_id"`
	Location        string `mapstructure:"location"`
	Endpoint        string `mapstructure:"endpoint"`
	CredentialsFile string `mapstructure:"credentials_file"`
	PageSize        int    `mapstructure:"page_size"`
}

// NewClient builds a storage client. An endpoint selects an emulator and
// disables authentication.
func NewClient(ctx context.Context, cfg Config) (*storage.Client, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// Bucket writes FetchResults to a configured GCS bucket.
type Bucket struct {
	client    *storage.Client
	name      string
	projectID string
	location  string
	pageSize  int
}

var _ objectstore.Bucket = (*Bucket)(nil)

// New creates a GCS-backed bucket.
func New(client *storage.Client, cfg Config) (*Bucket, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Bucket{
		client:    client,
		name:      cfg.Bucket,
		projectID: cfg.ProjectID,
		location:  cfg.Location,
		pageSize:  pageSize,
	}, nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// PutObject uploads body; the object becomes visible only when the writer closes.
func (b *Bucket) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	writer := b.client.Bucket(b.name).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(body); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", classify(err))
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", classify(err))
	}
	return nil
}

// GetObject reads the object at key.
func (b *Bucket) GetObject(ctx context.Context, key string) ([]byte, error) {
	reader, err := b.client.Bucket(b.name).Object(key).NewReader(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer reader.Close() //nolint:errcheck // read-only
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return body, nil
}

// ListPage fetches one page with iterator.Pager; GCS returns delimiter
// groups as attrs carrying only Prefix.
func (b *Bucket) ListPage(ctx context.Context, prefix, delimiter, token string) (objectstore.Page, error) {
	it := b.client.Bucket(b.name).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: delimiter})
	pager := iterator.NewPager(it, b.pageSize, token)
	var attrs []*storage.ObjectAttrs
	next, err := pager.NextPage(&attrs)
	if err != nil {
		return objectstore.Page{}, classify(err)
	}
	page := objectstore.Page{NextToken: next}
	for _, a := range attrs {
		if a.Prefix != "" {
			page.Prefixes = append(page.Prefixes, a.Prefix)
			continue
		}
		page.Keys = append(page.Keys, a.Name)
	}
	return page, nil
}

// BucketExists fetches bucket attributes.
func (b *Bucket) BucketExists(ctx context.Context) (bool, error) {
	_, err := b.client.Bucket(b.name).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrBucketNotExist) || isStatus(err, http.StatusNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("bucket attrs: %w", err)
}

// CreateBucket creates the bucket in the configured project. A conflict means
// it already exists.
func (b *Bucket) CreateBucket(ctx context.Context) error {
	if b.projectID == "" {
		return errors.New("project id is required to create a bucket")
	}
	var attrs *storage.BucketAttrs
	if b.location != "" {
		attrs = &storage.BucketAttrs{Location: b.location}
	}
	err := b.client.Bucket(b.name).Create(ctx, b.projectID, attrs)
	if err == nil || isStatus(err, http.StatusConflict) {
		return nil
	}
	return fmt.Errorf("create bucket: %w", err)
}

func classify(err error) error {
	switch {
	case errors.Is(err, storage.ErrBucketNotExist):
		return fmt.Errorf("%w: %w", newsfeed.ErrBucketNotFound, err)
	case errors.Is(err, storage.ErrObjectNotExist), isStatus(err, http.StatusNotFound):
		return fmt.Errorf("%w: %w", newsfeed.ErrNotFound, err)
	default:
		return err
	}
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
