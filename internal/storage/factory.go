package storage

import (
	"fmt"
	"strings"
)

// StorageType represents the type of storage implementation
type StorageType string

const (
	StorageTypeS3   StorageType = "s3"
	StorageTypeMock StorageType = "mock"
)

// Backends carries the clients a storage implementation may need
type Backends struct {
	S3        S3API
	Presigner Presigner
}

// Factory creates ObjectStorage instances based on configuration
type Factory struct {
	retryConfig *RetryConfig
}

// NewFactory creates a new storage factory. A nil retryConfig disables the
// retry wrapper.
func NewFactory(retryConfig *RetryConfig) *Factory {
	return &Factory{
		retryConfig: retryConfig,
	}
}

// Create creates an ObjectStorage of the given type
func (f *Factory) Create(storageType string, backends Backends) (ObjectStorage, error) {
	var storage ObjectStorage

	switch StorageType(strings.ToLower(storageType)) {
	case StorageTypeS3:
		if backends.S3 == nil {
			return nil, fmt.Errorf("failed to create %s storage: S3 client is required", storageType)
		}
		storage = NewS3Storage(backends.S3, backends.Presigner)
	case StorageTypeMock:
		storage = NewMockObjectStorage()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}

	if f.retryConfig != nil {
		storage = NewRetryableObjectStorage(storage, f.retryConfig)
	}

	return storage, nil
}
