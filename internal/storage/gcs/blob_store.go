// Package gcs mirrors snapshot artifacts into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	gopath "path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the destination bucket. Prefix, when set, is prepended to
// every object key so several deployments can share one bucket.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore uploads snapshot artifacts as bucket objects and hands back
// gs:// URIs for the result index.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New wraps an authenticated storage client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// PutObject streams data into the bucket and returns the object's gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("object path is empty")
	}
	key := s.objectKey(path)
	if err := s.upload(ctx, key, contentType, r); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return "gs://" + s.bucket + "/" + key, nil
}

// upload writes one object. The writer commits on Close, so a Close failure
// means the object never landed.
func (s *BlobStore) upload(ctx context.Context, key string, contentType string, r io.Reader) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	_, copyErr := io.Copy(w, r)
	closeErr := w.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// objectKey normalizes a snapshot-relative path into a bucket key under the
// configured prefix. Dot segments are collapsed so callers cannot address
// objects outside the prefix.
func (s *BlobStore) objectKey(path string) string {
	cleaned := strings.TrimPrefix(gopath.Clean("/"+path), "/")
	if s.prefix == "" {
		return cleaned
	}
	return gopath.Join(s.prefix, cleaned)
}
