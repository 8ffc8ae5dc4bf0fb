package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store implements Store on AWS S3.
type S3Store struct {
	client  S3API
	tagging string
}

// Compile-time interface check.
var _ Store = (*S3Store)(nil)

// NewS3 wraps an S3 client. tagging is applied to every PutObject when
// non-empty.
func NewS3(client S3API, tagging string) *S3Store {
	return &S3Store{client: client, tagging: tagging}
}

// Get reads an object fully into memory.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (Object, error) {
	start := time.Now()
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return Object{}, fmt.Errorf("S3 GetObject %s/%s: %w", bucket, key, ErrNotFound)
		}
		return Object{}, fmt.Errorf("S3 GetObject %s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return Object{}, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}

	obj := Object{Body: body, ContentType: aws.ToString(result.ContentType)}
	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("size", len(body)).
		Str("contentType", obj.ContentType).
		Dur("duration", time.Since(start)).
		Msg("S3 object downloaded")
	return obj, nil
}

// Put uploads obj with its content type.
func (s *S3Store) Put(ctx context.Context, bucket, key string, obj Object) error {
	start := time.Now()
	input := &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          bytes.NewReader(obj.Body),
		ContentLength: aws.Int64(int64(len(obj.Body))),
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if s.tagging != "" {
		input.Tagging = aws.String(s.tagging)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("S3 PutObject %s/%s: %w", bucket, key, err)
	}
	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("size", len(obj.Body)).
		Dur("duration", time.Since(start)).
		Msg("S3 object uploaded")
	return nil
}

// Delete removes an object. S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("S3 DeleteObject %s/%s: %w", bucket, key, err)
	}
	return nil
}
