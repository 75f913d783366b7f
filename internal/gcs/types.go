package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when an object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Object describes a stored object.
type Object struct {
	Name    string
	Size    int64
	Updated time.Time
}

// StorageService provides an interface for cloud storage operations on one bucket.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// UploadBytes stores data under objectName, replacing any existing object.
	UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) error

	// Download returns the content of objectName.
	Download(ctx context.Context, objectName string) ([]byte, error)

	// List returns objects whose name starts with prefix, sorted by name.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes objectName.
	Delete(ctx context.Context, objectName string) error
}

// ParseURI splits a gs://bucket/object URI.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// BaseName returns the last path element of an object name or URI.
// e.g., "gs://bucket/u1/backup/2024-01-01-00-00-00.json" → "2024-01-01-00-00-00.json"
func BaseName(name string) string {
	return path.Base(strings.TrimPrefix(name, "gs://"))
}
