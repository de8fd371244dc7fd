// Package s3 implements objectstore.Bucket on S3 and S3-compatible stores
// such as MinIO.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/objectstore"
)

const defaultRegion = "us-east-1"

// Config holds connection settings. Empty credentials fall back to the
// default AWS chain.
type Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	PageSize        int32  `mapstructure:"page_size"`
}

// API is the subset of the SDK client the bucket uses, so tests can fake it.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(
		ctx context.Context,
		in *s3.ListObjectsV2Input,
		optFns ...func(*s3.Options),
	) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(
		ctx context.Context,
		in *s3.CreateBucketInput,
		optFns ...func(*s3.Options),
	) (*s3.CreateBucketOutput, error)
}

// NewClient builds an SDK client from cfg.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Bucket is an objectstore.Bucket over one S3 bucket.
type Bucket struct {
	api      API
	name     string
	region   string
	pageSize int32
}

var _ objectstore.Bucket = (*Bucket)(nil)

// New wraps api for the bucket named in cfg.
func New(api API, cfg Config) (*Bucket, error) {
	if api == nil {
		return nil, errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	return &Bucket{api: api, name: cfg.Bucket, region: region, pageSize: cfg.PageSize}, nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// PutObject uploads body in a single request.
func (b *Bucket) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.name),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := b.api.PutObject(ctx, in); err != nil {
		return classify(err)
	}
	return nil
}

// GetObject downloads the object at key.
func (b *Bucket) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(err)
	}
	defer out.Body.Close() //nolint:errcheck // read-only body
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return body, nil
}

// ListPage issues one ListObjectsV2 request.
func (b *Bucket) ListPage(ctx context.Context, prefix, delimiter, token string) (objectstore.Page, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}
	if b.pageSize > 0 {
		in.MaxKeys = aws.Int32(b.pageSize)
	}
	out, err := b.api.ListObjectsV2(ctx, in)
	if err != nil {
		return objectstore.Page{}, classify(err)
	}

	page := objectstore.Page{
		Keys:     make([]string, 0, len(out.Contents)),
		Prefixes: make([]string, 0, len(out.CommonPrefixes)),
	}
	for _, obj := range out.Contents {
		page.Keys = append(page.Keys, aws.ToString(obj.Key))
	}
	for _, cp := range out.CommonPrefixes {
		page.Prefixes = append(page.Prefixes, aws.ToString(cp.Prefix))
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
		if page.NextToken == "" {
			return objectstore.Page{}, errors.New("truncated listing without continuation token")
		}
	}
	return page, nil
}

// BucketExists issues HeadBucket. Missing buckets are not an error.
func (b *Bucket) BucketExists(ctx context.Context) (bool, error) {
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) || isBucketMissing(err) ||
		hasCode(err, "NotFound") || isStatus(err, http.StatusNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("head bucket: %w", err)
}

// CreateBucket creates the bucket, setting a location constraint outside
// us-east-1. A bucket that already exists and is ours is success.
func (b *Bucket) CreateBucket(ctx context.Context) error {
	in := &s3.CreateBucketInput{Bucket: aws.String(b.name)}
	if b.region != defaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.region),
		}
	}
	_, err := b.api.CreateBucket(ctx, in)
	if err == nil {
		return nil
	}
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) || hasCode(err, "BucketAlreadyOwnedByYou") {
		return nil
	}
	return fmt.Errorf("create bucket: %w", err)
}

// classify maps SDK errors to the domain sentinels.
func classify(err error) error {
	if isBucketMissing(err) {
		return fmt.Errorf("%w: %w", newsfeed.ErrBucketNotFound, err)
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) ||
		hasCode(err, "NoSuchKey", "NotFound") || isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %w", newsfeed.ErrNotFound, err)
	}
	return err
}

func isBucketMissing(err error) bool {
	var noBucket *types.NoSuchBucket
	return errors.As(err, &noBucket) || hasCode(err, "NoSuchBucket")
}

func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}

func isStatus(err error, status int) bool {
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == status
}
