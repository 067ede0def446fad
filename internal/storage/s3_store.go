// Package storage puts uploaded X-ray images into S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

// ErrNotConfigured is returned when no bucket or client is set.
var ErrNotConfigured = errors.New("storage: bucket not configured")

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes image objects and builds their public URLs.
type S3Store struct {
	bucket        string
	region        string
	publicBaseURL string
	s3Client      S3API
	logger        *logging.Logger
}

// NewS3Store creates a store for bucket. publicBaseURL may be empty, in which
// case virtual-hosted AWS URLs are produced.
func NewS3Store(s3Client S3API, bucket, region, publicBaseURL string, logger *logging.Logger) *S3Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &S3Store{
		bucket:        bucket,
		region:        region,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		s3Client:      s3Client,
		logger:        logger,
	}
}

// Enabled returns true if a bucket and client are configured.
func (s *S3Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Upload puts body under key. Writing the same key twice overwrites the object
// with identical content.
func (s *S3Store) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("storage: s3 put %s: %w", key, err)
	}
	s.logger.Debug("stored object", "bucket", s.bucket, "key", key, "size", len(body))
	return nil
}

// PublicURL returns the dereferenceable URL for key. Pure; safe to call repeatedly.
func (s *S3Store) PublicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	escaped := strings.Join(segments, "/")

	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + escaped
	}
	region := s.region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, region, escaped)
}
