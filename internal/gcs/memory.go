package gcs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStorage is an in-memory StorageService. It is safe for concurrent use.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

type memObject struct {
	data    []byte
	updated time.Time
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memObject), now: time.Now}
}

// UploadBytes implements StorageService.
func (m *MemoryStorage) UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = memObject{data: append([]byte(nil), data...), updated: m.now()}
	return nil
}

// Download implements StorageService.
func (m *MemoryStorage) Download(ctx context.Context, objectName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[objectName]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", objectName, ErrObjectNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

// List implements StorageService.
func (m *MemoryStorage) List(ctx context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Object
	for name, obj := range m.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, Object{Name: name, Size: int64(len(obj.data)), Updated: obj.updated})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete implements StorageService.
func (m *MemoryStorage) Delete(ctx context.Context, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[objectName]; !ok {
		return fmt.Errorf("delete %s: %w", objectName, ErrObjectNotFound)
	}
	delete(m.objects, objectName)
	return nil
}

var _ StorageService = (*MemoryStorage)(nil)
