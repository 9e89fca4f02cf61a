// Package s3store implements a Store backed by an AWS S3 (or S3-compatible)
// bucket.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/maildeck/internal/awscfg"
	"github.com/shineum/maildeck/internal/store"
)

// maxDeleteKeys is the S3 limit on keys per DeleteObjects request.
const maxDeleteKeys = 1000

// Config holds the configuration for creating a Store.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3API is the subset of the S3 client used by the store.
// Used for testing with mock implementations.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Store reads and writes raw messages in a single bucket.
type Store struct {
	bucket string
	client S3API
}

// New creates a Store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awscfg.Load(ctx, awscfg.Options{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(cfg.Bucket, client), nil
}

// NewWithClient creates a Store with a custom client, used for testing.
func NewWithClient(bucket string, client S3API) *Store {
	return &Store{
		bucket: bucket,
		client: client,
	}
}

// List returns every object under prefix, following continuation tokens.
func (s *Store) List(ctx context.Context, prefix, delimiter string) ([]store.Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}

	var result []store.Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			result = append(result, store.Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return result, nil
}

// Get downloads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, classify(err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return data, nil
}

// Put uploads data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

// Copy performs a server-side copy of src to dst within the bucket.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(copySource(s.bucket, src)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %q to %q: %w", src, dst, classify(err))
	}
	return nil
}

// DeleteBatch deletes keys in requests of at most 1000 keys and maps the
// per-key status S3 reports back onto every requested key. A failed request
// marks all of its keys as failed; the returned error is set only when every
// request failed.
func (s *Store) DeleteBatch(ctx context.Context, keys []string) ([]store.DeleteResult, error) {
	results := make([]store.DeleteResult, 0, len(keys))
	var lastErr error
	failedRequests, requests := 0, 0

	for start := 0; start < len(keys); start += maxDeleteKeys {
		end := start + maxDeleteKeys
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]
		requests++

		chunkResults, err := s.deleteChunk(ctx, chunk)
		if err != nil {
			lastErr = err
			failedRequests++
			for _, key := range chunk {
				results = append(results, store.DeleteResult{Key: key, Err: err})
			}
			continue
		}
		results = append(results, chunkResults...)
	}

	if requests > 0 && failedRequests == requests {
		return nil, lastErr
	}
	return results, nil
}

func (s *Store) deleteChunk(ctx context.Context, keys []string) ([]store.DeleteResult, error) {
	ids := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: ids,
			Quiet:   aws.Bool(false),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete objects: %w", err)
	}

	deleted := make(map[string]bool, len(out.Deleted))
	for _, d := range out.Deleted {
		deleted[aws.ToString(d.Key)] = true
	}
	failed := make(map[string]error, len(out.Errors))
	for _, e := range out.Errors {
		failed[aws.ToString(e.Key)] = fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))
	}

	results := make([]store.DeleteResult, 0, len(keys))
	for _, key := range keys {
		switch {
		case failed[key] != nil:
			results = append(results, store.DeleteResult{Key: key, Err: failed[key]})
		case deleted[key]:
			results = append(results, store.DeleteResult{Key: key})
		default:
			results = append(results, store.DeleteResult{Key: key, Err: errors.New("no delete status reported")})
		}
	}
	return results, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return "s3"
}

// copySource builds the URL-encoded "bucket/key" value CopyObject expects.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// classify maps S3 missing-object errors onto store.ErrNotFound. CopyObject
// reports a missing source as a generic API error, so the error code is
// checked as well as the modeled types.
func classify(err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", store.ErrNotFound, err)
		}
	}
	return err
}
