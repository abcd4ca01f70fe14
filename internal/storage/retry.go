package storage

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for storage operations
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
	JitterEnabled bool          `json:"jitter_enabled" yaml:"jitter_enabled"`
}

// DefaultRetryConfig returns the retry configuration used by the handlers
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// WithMaxAttempts returns a copy of c allowing n attempts
func (c RetryConfig) WithMaxAttempts(n int) *RetryConfig {
	if n > 0 {
		c.MaxAttempts = n
	}
	return &c
}

// RetryableOperation represents an operation that can be retried
type RetryableOperation func(ctx context.Context) error

// WithRetry runs op until it succeeds, returns a non-retryable error or
// runs out of attempts
func WithRetry(ctx context.Context, config *RetryConfig, op RetryableOperation) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= config.MaxAttempts || !IsRetryable(err) {
			break
		}

		timer := time.NewTimer(config.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// calculateDelay returns initial_delay * backoff_factor^(attempt-1), capped
// at MaxDelay, plus up to 10% jitter
func (c *RetryConfig) calculateDelay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))

	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterEnabled {
		delay += rand.Float64() * 0.1 * delay
	}

	return time.Duration(delay)
}

// RetryableObjectStorage wraps an ObjectStorage implementation with retry logic
type RetryableObjectStorage struct {
	storage ObjectStorage
	config  *RetryConfig
}

// NewRetryableObjectStorage creates a new RetryableObjectStorage
func NewRetryableObjectStorage(storage ObjectStorage, config *RetryConfig) *RetryableObjectStorage {
	if config == nil {
		config = DefaultRetryConfig()
	}

	return &RetryableObjectStorage{
		storage: storage,
		config:  config,
	}
}

// Retrieve implements ObjectStorage.Retrieve with retry logic
func (r *RetryableObjectStorage) Retrieve(ctx context.Context, loc Location) ([]byte, error) {
	var result []byte
	err := WithRetry(ctx, r.config, func(ctx context.Context) error {
		data, err := r.storage.Retrieve(ctx, loc)
		if err != nil {
			return err
		}
		result = data
		return nil
	})
	return result, err
}

// Exists implements ObjectStorage.Exists with retry logic
func (r *RetryableObjectStorage) Exists(ctx context.Context, loc Location) (bool, error) {
	var result bool
	err := WithRetry(ctx, r.config, func(ctx context.Context) error {
		exists, err := r.storage.Exists(ctx, loc)
		if err != nil {
			return err
		}
		result = exists
		return nil
	})
	return result, err
}

// GetMetadata implements ObjectStorage.GetMetadata with retry logic
func (r *RetryableObjectStorage) GetMetadata(ctx context.Context, loc Location) (*ObjectMetadata, error) {
	var result *ObjectMetadata
	err := WithRetry(ctx, r.config, func(ctx context.Context) error {
		metadata, err := r.storage.GetMetadata(ctx, loc)
		if err != nil {
			return err
		}
		result = metadata
		return nil
	})
	return result, err
}

// Copy implements ObjectStorage.Copy with retry logic
func (r *RetryableObjectStorage) Copy(ctx context.Context, src, dst Location) error {
	return WithRetry(ctx, r.config, func(ctx context.Context) error {
		return r.storage.Copy(ctx, src, dst)
	})
}

// Tag implements ObjectStorage.Tag with retry logic
func (r *RetryableObjectStorage) Tag(ctx context.Context, loc Location, tags map[string]string) error {
	return WithRetry(ctx, r.config, func(ctx context.Context) error {
		return r.storage.Tag(ctx, loc, tags)
	})
}

// GenerateUploadURL implements ObjectStorage.GenerateUploadURL with retry logic
func (r *RetryableObjectStorage) GenerateUploadURL(ctx context.Context, loc Location, contentType string, expiry time.Duration) (string, error) {
	var result string
	err := WithRetry(ctx, r.config, func(ctx context.Context) error {
		url, err := r.storage.GenerateUploadURL(ctx, loc, contentType, expiry)
		if err != nil {
			return err
		}
		result = url
		return nil
	})
	return result, err
}

// Close implements ObjectStorage.Close
func (r *RetryableObjectStorage) Close() error {
	return r.storage.Close()
}
