// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

const defaultPublicHost = "https://storage.googleapis.com"

// Config captures the parameters required to write car images to GCS.
type Config struct {
	Bucket string
	// PublicBaseURL replaces https://storage.googleapis.com/<bucket> in
	// returned URLs, e.g. a CDN in front of the bucket.
	PublicBaseURL string
	// CacheControl is set on every uploaded object when non-empty.
	CacheControl string
}

// BlobStore writes car images to a configured GCS bucket.
type BlobStore struct {
	client       *storage.Client
	bucket       string
	publicBase   string
	cacheControl string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = defaultPublicHost + "/" + cfg.Bucket
	}
	return &BlobStore{
		client:       client,
		bucket:       cfg.Bucket,
		publicBase:   base,
		cacheControl: cfg.CacheControl,
	}, nil
}

// PutObject uploads data to the configured bucket and returns its public URL.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if s.cacheControl != "" {
		writer.CacheControl = s.cacheControl
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object %s: %w (close writer: %v)", path, err, closeErr)
		}
		return "", fmt.Errorf("copy object %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("upload object %s: %w", path, err)
	}
	return s.PublicURL(path), nil
}

// PublicURL returns the browser URL of an object path.
func (s *BlobStore) PublicURL(path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicBase + "/" + strings.Join(segments, "/")
}
