package storage

import (
	"context"
	"fmt"
	"mime"
	"path"
	"sync"
	"time"
)

// MockObjectStorage is an in-memory implementation of ObjectStorage used by
// tests and the local emulator
type MockObjectStorage struct {
	mu      sync.RWMutex
	objects map[Location]*mockObject
	faults  map[string]error
}

type mockObject struct {
	data         []byte
	metadata     map[string]string
	tags         map[string]string
	contentType  string
	lastModified time.Time
	etag         string
}

// NewMockObjectStorage creates a new MockObjectStorage instance
func NewMockObjectStorage() *MockObjectStorage {
	return &MockObjectStorage{
		objects: make(map[Location]*mockObject),
		faults:  make(map[string]error),
	}
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fault returns the injected error for op, if any. Caller holds the lock.
func (m *MockObjectStorage) fault(op string) error {
	if err, ok := m.faults[op]; ok {
		delete(m.faults, op)
		return err
	}
	return nil
}

// Retrieve implements ObjectStorage.Retrieve
func (m *MockObjectStorage) Retrieve(ctx context.Context, loc Location) ([]byte, error) {
	if !loc.Valid() {
		return nil, NewStorageError("Retrieve", loc, ErrInvalidLocation, false)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("Retrieve"); err != nil {
		return nil, err
	}

	obj, exists := m.objects[loc]
	if !exists {
		return nil, NewStorageError("Retrieve", loc, ErrObjectNotFound, false)
	}
	return append([]byte(nil), obj.data...), nil
}

// Exists implements ObjectStorage.Exists
func (m *MockObjectStorage) Exists(ctx context.Context, loc Location) (bool, error) {
	if !loc.Valid() {
		return false, NewStorageError("Exists", loc, ErrInvalidLocation, false)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.objects[loc]
	return exists, nil
}

// GetMetadata implements ObjectStorage.GetMetadata
func (m *MockObjectStorage) GetMetadata(ctx context.Context, loc Location) (*ObjectMetadata, error) {
	if !loc.Valid() {
		return nil, NewStorageError("GetMetadata", loc, ErrInvalidLocation, false)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, exists := m.objects[loc]
	if !exists {
		return nil, NewStorageError("GetMetadata", loc, ErrObjectNotFound, false)
	}

	return &ObjectMetadata{
		Location:     loc,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.lastModified,
		ETag:         obj.etag,
		Metadata:     copyMap(obj.metadata),
	}, nil
}

// Copy implements ObjectStorage.Copy
func (m *MockObjectStorage) Copy(ctx context.Context, src, dst Location) error {
	if !src.Valid() {
		return NewStorageError("Copy", src, ErrInvalidLocation, false)
	}
	if !dst.Valid() {
		return NewStorageError("Copy", dst, ErrInvalidLocation, false)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("Copy"); err != nil {
		return err
	}

	obj, exists := m.objects[src]
	if !exists {
		return NewStorageError("Copy", src, ErrObjectNotFound, false)
	}

	cp := *obj
	cp.data = append([]byte(nil), obj.data...)
	cp.metadata = copyMap(obj.metadata)
	cp.tags = copyMap(obj.tags)
	cp.lastModified = time.Now()
	m.objects[dst] = &cp
	return nil
}

// Tag implements ObjectStorage.Tag
func (m *MockObjectStorage) Tag(ctx context.Context, loc Location, tags map[string]string) error {
	if !loc.Valid() {
		return NewStorageError("Tag", loc, ErrInvalidLocation, false)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("Tag"); err != nil {
		return err
	}

	obj, exists := m.objects[loc]
	if !exists {
		return NewStorageError("Tag", loc, ErrObjectNotFound, false)
	}
	obj.tags = copyMap(tags)
	return nil
}

// GenerateUploadURL implements ObjectStorage.GenerateUploadURL
func (m *MockObjectStorage) GenerateUploadURL(ctx context.Context, loc Location, contentType string, expiry time.Duration) (string, error) {
	if !loc.Valid() {
		return "", NewStorageError("GenerateUploadURL", loc, ErrInvalidLocation, false)
	}
	return fmt.Sprintf("mock://%s/%s?expires=%d", loc.Bucket, loc.Key, time.Now().Add(expiry).Unix()), nil
}

// Close implements ObjectStorage.Close
func (m *MockObjectStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = make(map[Location]*mockObject)
	return nil
}

// Additional methods for testing

// Put seeds an object. An empty contentType is derived from the key
// extension.
func (m *MockObjectStorage) Put(loc Location, data []byte, contentType string, metadata map[string]string) {
	if contentType == "" {
		contentType = "application/octet-stream"
		if ct := mime.TypeByExtension(path.Ext(loc.Key)); ct != "" {
			contentType = ct
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.objects[loc] = &mockObject{
		data:         append([]byte(nil), data...),
		metadata:     copyMap(metadata),
		contentType:  contentType,
		lastModified: now,
		etag:         fmt.Sprintf("%d-%d", len(data), now.UnixNano()),
	}
}

// FailNext makes the next call of op return err
func (m *MockObjectStorage) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = err
}

// ObjectCount returns the number of stored objects
func (m *MockObjectStorage) ObjectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// HasObject checks if an object exists (without error handling)
func (m *MockObjectStorage) HasObject(loc Location) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.objects[loc]
	return exists
}

// Tags returns the tags of an object
func (m *MockObjectStorage) Tags(loc Location) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if obj, ok := m.objects[loc]; ok {
		return copyMap(obj.tags)
	}
	return nil
}
