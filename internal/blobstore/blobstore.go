// Package blobstore abstracts the object store holding agent bundles.
package blobstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"time"
)

// ErrNotFound is returned when an object key does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the object storage used for agent bundles.
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignedGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, error)
	PresignedPut(ctx context.Context, key string, expiry time.Duration) (*url.URL, error)
}

// BundleKey builds the canonical object key for an agent version bundle.
func BundleKey(agentSlug, version string) string {
	return "agents/" + agentSlug + "/" + version + "/bundle.zip"
}
