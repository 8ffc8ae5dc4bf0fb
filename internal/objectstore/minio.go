package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinIOStore implements Store on an S3-compatible server via minio-go.
type MinIOStore struct {
	client *minio.Client
	tags   map[string]string
}

// Compile-time interface check.
var _ Store = (*MinIOStore)(nil)

// NewMinIO connects to cfg.Endpoint with static credentials.
func NewMinIO(cfg Config) (*MinIOStore, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	var tags map[string]string
	if cfg.Tagging != "" {
		q, err := url.ParseQuery(cfg.Tagging)
		if err != nil {
			return nil, fmt.Errorf("parse tagging %q: %w", cfg.Tagging, err)
		}
		tags = make(map[string]string, len(q))
		for k := range q {
			tags[k] = q.Get(k)
		}
	}

	return &MinIOStore{client: cl, tags: tags}, nil
}

// Get reads an object fully into memory.
func (m *MinIOStore) Get(ctx context.Context, bucket, key string) (Object, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, m.wrap("GetObject", bucket, key, err)
	}
	defer obj.Close()

	// minio-go defers the request until the first read, so a missing key
	// surfaces from ReadAll.
	body, err := io.ReadAll(obj)
	if err != nil {
		return Object{}, m.wrap("GetObject", bucket, key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		return Object{}, m.wrap("StatObject", bucket, key, err)
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(body)).Msg("MinIO object downloaded")
	return Object{Body: body, ContentType: info.ContentType}, nil
}

// Put uploads obj with its content type.
func (m *MinIOStore) Put(ctx context.Context, bucket, key string, obj Object) error {
	opts := minio.PutObjectOptions{ContentType: obj.ContentType, UserTags: m.tags}
	if _, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(obj.Body), int64(len(obj.Body)), opts); err != nil {
		return m.wrap("PutObject", bucket, key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(obj.Body)).Msg("MinIO object uploaded")
	return nil
}

// Delete removes an object.
func (m *MinIOStore) Delete(ctx context.Context, bucket, key string) error {
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return m.wrap("RemoveObject", bucket, key, err)
	}
	return nil
}

func (m *MinIOStore) wrap(op, bucket, key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("MinIO %s %s/%s: %w", op, bucket, key, ErrNotFound)
	}
	return fmt.Errorf("MinIO %s %s/%s: %w", op, bucket, key, err)
}
