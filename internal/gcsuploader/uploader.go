package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dvloznov/finance-sync/internal/gcs"
)

// uploadTimeout bounds a single object upload.
const uploadTimeout = 2 * time.Minute

// GCSStorageService stores backups and filter programs in a GCS bucket.
// It assumes Application Default Credentials are configured (gcloud auth application-default login)
// unless client options say otherwise.
type GCSStorageService struct {
	client *storage.Client
	bucket string
}

// NewGCSStorageService creates a client bound to bucketName. Close releases it.
func NewGCSStorageService(ctx context.Context, bucketName string, opts ...option.ClientOption) (*GCSStorageService, error) {
	if bucketName == "" {
		return nil, errors.New("NewGCSStorageService: bucket name is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStorageService: create storage client: %w", err)
	}
	return &GCSStorageService{client: client, bucket: bucketName}, nil
}

// Close releases the underlying client.
func (s *GCSStorageService) Close() error {
	return s.client.Close()
}

// UploadBytes writes data to objectName.
func (s *GCSStorageService) UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("UploadBytes: write %s: %w", objectName, err)
	}
	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("UploadBytes: finalize upload %s: %w", objectName, err)
	}
	return nil
}

// Download reads the whole object.
func (s *GCSStorageService) Download(ctx context.Context, objectName string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("Download %s/%s: %w", s.bucket, objectName, gcs.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Download: reading object %s/%s: %w", s.bucket, objectName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Download: reading bytes: %w", err)
	}
	return data, nil
}

// List returns the objects under prefix sorted by name.
func (s *GCSStorageService) List(ctx context.Context, prefix string) ([]gcs.Object, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var out []gcs.Object
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List %s/%s: %w", s.bucket, prefix, err)
		}
		out = append(out, gcs.Object{Name: attrs.Name, Size: attrs.Size, Updated: attrs.Updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes objectName.
func (s *GCSStorageService) Delete(ctx context.Context, objectName string) error {
	err := s.client.Bucket(s.bucket).Object(objectName).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("Delete %s/%s: %w", s.bucket, objectName, gcs.ErrObjectNotFound)
	}
	if err != nil {
		return fmt.Errorf("Delete %s/%s: %w", s.bucket, objectName, err)
	}
	return nil
}
