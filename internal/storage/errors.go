package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Common storage error types
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrInvalidLocation    = errors.New("invalid object location")
	ErrStorageUnavailable = errors.New("storage service unavailable")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrThrottled          = errors.New("request throttled")
)

// StorageError represents a storage operation error with additional context
type StorageError struct {
	Op        string // Operation that failed (e.g., "Copy", "Retrieve")
	Key       string // bucket/key involved in the operation
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s operation failed for '%s': %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s operation failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error indicates a retryable condition
func (e *StorageError) IsRetryable() bool {
	return e.Retryable
}

// NewStorageError creates a new StorageError
func NewStorageError(op string, loc Location, err error, retryable bool) *StorageError {
	key := ""
	if loc.Bucket != "" || loc.Key != "" {
		key = loc.String()
	}
	return &StorageError{
		Op:        op,
		Key:       key,
		Err:       err,
		Retryable: retryable,
	}
}

// IsNotFound returns true if the error indicates an object was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsRetryable returns true if the error indicates a retryable condition
func IsRetryable(err error) bool {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.IsRetryable()
	}
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrThrottled)
}

var throttlingCodes = map[string]bool{
	"SlowDown":                 true,
	"Throttling":               true,
	"ThrottlingException":      true,
	"RequestLimitExceeded":     true,
	"TooManyRequestsException": true,
}

var unavailableCodes = map[string]bool{
	"RequestTimeout":     true,
	"InternalError":      true,
	"ServiceUnavailable": true,
}

// classifyS3Error maps an S3 client error onto the storage error types
func classifyS3Error(op string, loc Location, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewStorageError(op, loc, err, false)
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return NewStorageError(op, loc, fmt.Errorf("%w: %w", ErrObjectNotFound, err), false)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "AccessDenied" || code == "Forbidden":
			return NewStorageError(op, loc, fmt.Errorf("%w: %w", ErrPermissionDenied, err), false)
		case throttlingCodes[code]:
			return NewStorageError(op, loc, fmt.Errorf("%w: %w", ErrThrottled, err), true)
		case unavailableCodes[code] || apiErr.ErrorFault() == smithy.FaultServer:
			return NewStorageError(op, loc, fmt.Errorf("%w: %w", ErrStorageUnavailable, err), true)
		}
	}

	return NewStorageError(op, loc, err, false)
}
