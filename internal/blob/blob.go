// Package blob stores uploaded file bytes in an S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"reviewcore/internal/logger"
)

var tracer = otel.Tracer("reviewcore/blob")

var ErrInvalidKey = errors.New("blob: invalid object key")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store is a bucket on a MinIO or S3 endpoint.
type Store struct {
	client *minio.Client
	bucket string
	log    zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("blob: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("blob: bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: create client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, log: logger.Component(log, "blob")}, nil
}

func (s *Store) Bucket() string { return s.bucket }

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("blob: check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("blob: create bucket %s: %w", s.bucket, err)
	}
	s.log.Info().Str("bucket", s.bucket).Msg("bucket created")
	return nil
}

// ValidKey rejects empty keys, absolute keys and parent references.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	ctx, span := tracer.Start(ctx, "Blob.Store.Put", trace.WithAttributes(attribute.String("reviewcore.key", key)))
	defer span.End()

	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("blob: put %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Int64("size", info.Size).Msg("object stored")
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("blob: remove %s: %w", key, err)
	}
	return nil
}

// PresignedURL returns a time-limited download link.
func (s *Store) PresignedURL(ctx context.Context, key string, expiry time.Duration) (*url.URL, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("blob: presign %s: %w", key, err)
	}
	return u, nil
}
