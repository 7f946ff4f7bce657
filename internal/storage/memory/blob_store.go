package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Object is one stored blob.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore keeps uploaded files in memory and returns pseudo URLs.
type BlobStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]Object
	failing map[string]error
}

// NewBlobStore creates an in-memory blob store. URLs are memory://<path>
// unless baseURL is set, in which case they are <baseURL>/<path>.
func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]Object),
		failing: make(map[string]error),
	}
}

// FailPath makes every upload whose path contains fragment return err.
func (s *BlobStore) FailPath(fragment string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[fragment] = err
}

// PutObject persists the content and returns its URL.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for fragment, failErr := range s.failing {
		if strings.Contains(path, fragment) {
			return "", failErr
		}
	}
	s.objects[path] = Object{ContentType: contentType, Data: append([]byte(nil), byteData...)}
	if s.baseURL != "" {
		return s.baseURL + "/" + path, nil
	}
	return "memory://" + path, nil
}

// Object returns the blob stored at path.
func (s *BlobStore) Object(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Paths returns every stored path.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for p := range s.objects {
		out = append(out, p)
	}
	return out
}
