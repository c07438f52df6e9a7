package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryStore keeps objects in memory for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	// BaseURL is used to fabricate presigned URLs.
	BaseURL string
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory object store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		BaseURL: "http://blobstore.local",
	}
}

func (s *MemoryStore) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *MemoryStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) PresignedGet(_ context.Context, key string, expiry time.Duration) (*url.URL, error) {
	return s.presign(key, "get", expiry)
}

func (s *MemoryStore) PresignedPut(_ context.Context, key string, expiry time.Duration) (*url.URL, error) {
	return s.presign(key, "put", expiry)
}

func (s *MemoryStore) presign(key, op string, expiry time.Duration) (*url.URL, error) {
	u, err := url.Parse(fmt.Sprintf("%s/%s?op=%s&expires=%d", s.BaseURL, key, op, int64(expiry.Seconds())))
	if err != nil {
		return nil, err
	}
	return u, nil
}
