// Package qart archives finished job output to S3-compatible storage.
package qart

import (
	"context"
	"io"
	"time"
)

// Artifact represents a stored object with metadata.
type Artifact struct {
	Key          string            `json:"key"`
	Bucket       string            `json:"bucket"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	URL          string            `json:"url,omitempty"` // presigned, when requested
}

// Store defines the interface for artifact storage operations.
type Store interface {
	// Upload stores size bytes from reader under key. A negative size means
	// unknown.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) (*Artifact, error)

	// Download retrieves an artifact by key. Returns ErrNotFound if missing.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetPresignedURL generates a presigned URL for downloading an artifact.
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// List lists all artifacts under prefix.
	List(ctx context.Context, prefix string) ([]*Artifact, error)

	// DeletePrefix removes every artifact under prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// EnsureBucket ensures the bucket exists, creating it if necessary.
	EnsureBucket(ctx context.Context) error
}

// JobPrefix returns the prefix holding a job's archived output.
func JobPrefix(jobID string) string {
	return "jobs/" + jobID + "/"
}

// JobKey returns the key of one archived file of a job.
func JobKey(jobID, filename string) string {
	return JobPrefix(jobID) + filename
}
