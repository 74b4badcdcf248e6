//go:generate mockgen -source=storage.go -package=storage -destination=storage_mock.go

// Package storage moves job inputs and results between scratch space and object storage.
package storage

import (
	"context"
	"strings"
	"time"
)

// Storage is the object store as seen by a worker. Remote paths are full object
// URLs (gs://bucket/...) or, for the local backend, bucket-relative paths.
type Storage interface {
	// Download copies remote into localDir, creating localDir if needed.
	// With recursive, remote is treated as a prefix and copied as a tree.
	Download(ctx context.Context, remote, localDir string, recursive bool) error

	// Upload copies one local file to remote.
	Upload(ctx context.Context, localPath, remote string) error

	// SignedURL returns a time-limited public link to remote.
	SignedURL(ctx context.Context, remote string, ttl time.Duration) (string, error)
}

// Join builds an object path under bucket, avoiding doubled separators.
func Join(bucket string, elem ...string) string {
	parts := []string{strings.TrimSuffix(bucket, "/")}
	for _, e := range elem {
		e = strings.Trim(e, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}
