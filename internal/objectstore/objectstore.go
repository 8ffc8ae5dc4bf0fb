// Package objectstore reads source photos and writes renditions.
//
// Two backends implement Store: AWS S3 through aws-sdk-go-v2 and any
// S3-compatible server (MinIO) through minio-go. The pipeline only sees
// the Store interface.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound reports that the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Object is the payload and declared content type of a stored object.
type Object struct {
	Body        []byte
	ContentType string
}

// Store is the get/put/delete contract over a bucket-addressed object store.
type Store interface {
	// Get reads the full object. Returns an error wrapping ErrNotFound when
	// the key does not exist.
	Get(ctx context.Context, bucket, key string) (Object, error)

	// Put writes obj under key, replacing any existing object.
	Put(ctx context.Context, bucket, key string, obj Object) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket, key string) error
}

// Provider names accepted in Config.Provider.
const (
	ProviderS3    = "s3"
	ProviderMinIO = "minio"
)

// Config selects and configures a backend.
type Config struct {
	Provider  string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Tagging is the URL-encoded tag set applied to every Put, e.g.
	// "Project=licorice". Empty disables tagging.
	Tagging string
}
