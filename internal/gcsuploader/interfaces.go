package gcsuploader

import (
	"github.com/dvloznov/finance-sync/internal/gcs"
)

// Re-export interface from shared package for backward compatibility
type StorageService = gcs.StorageService

var _ StorageService = (*GCSStorageService)(nil)
