package storage

import (
	"context"
	"testing"
	"time"
)

func TestRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts=3, got %d", config.MaxAttempts)
	}

	if config.InitialDelay != 100*time.Millisecond {
		t.Errorf("Expected InitialDelay=100ms, got %v", config.InitialDelay)
	}

	if got := config.WithMaxAttempts(5); got.MaxAttempts != 5 || config.MaxAttempts != 3 {
		t.Errorf("WithMaxAttempts should copy: got %d, original %d", got.MaxAttempts, config.MaxAttempts)
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	loc := Location{Bucket: "b", Key: "key"}
	config := &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
	}

	t.Run("SuccessOnFirstAttempt", func(t *testing.T) {
		attempts := 0
		err := WithRetry(ctx, config, func(ctx context.Context) error {
			attempts++
			return nil
		})
		if err != nil {
			t.Fatalf("WithRetry failed: %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("SuccessOnSecondAttempt", func(t *testing.T) {
		attempts := 0
		err := WithRetry(ctx, config, func(ctx context.Context) error {
			attempts++
			if attempts == 1 {
				return NewStorageError("test", loc, ErrThrottled, true)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithRetry failed: %v", err)
		}
		if attempts != 2 {
			t.Errorf("Expected 2 attempts, got %d", attempts)
		}
	})

	t.Run("FailAfterMaxAttempts", func(t *testing.T) {
		attempts := 0
		err := WithRetry(ctx, config, func(ctx context.Context) error {
			attempts++
			return NewStorageError("test", loc, ErrStorageUnavailable, true)
		})
		if err == nil {
			t.Fatal("WithRetry should have failed")
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
		if !IsRetryable(err) {
			t.Error("Error should be retryable")
		}
	})

	t.Run("NonRetryableError", func(t *testing.T) {
		attempts := 0
		err := WithRetry(ctx, config, func(ctx context.Context) error {
			attempts++
			return NewStorageError("test", loc, ErrObjectNotFound, false)
		})
		if !IsNotFound(err) {
			t.Fatalf("Expected NotFound, got %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		attempts := 0
		err := WithRetry(cctx, config, func(ctx context.Context) error {
			attempts++
			return nil
		})
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		if attempts != 0 {
			t.Errorf("Expected no attempts, got %d", attempts)
		}
	})
}

func TestRetryableObjectStorage(t *testing.T) {
	mock := NewMockObjectStorage()
	storage := NewRetryableObjectStorage(mock, &RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
	})
	defer storage.Close()

	ctx := context.Background()
	loc := Location{Bucket: "b", Key: "test.txt"}

	mock.Put(loc, []byte("test"), "", nil)

	t.Run("RetrieveRetriesTransientFailure", func(t *testing.T) {
		mock.FailNext("Retrieve", NewStorageError("Retrieve", loc, ErrThrottled, true))
		data, err := storage.Retrieve(ctx, loc)
		if err != nil {
			t.Fatalf("Retrieve failed: %v", err)
		}
		if string(data) != "test" {
			t.Errorf("Data mismatch: got %q, want %q", string(data), "test")
		}
	})

	t.Run("CopyDoesNotRetryPermanentFailure", func(t *testing.T) {
		dst := Location{Bucket: "archive", Key: "test.txt"}
		mock.FailNext("Copy", NewStorageError("Copy", loc, ErrPermissionDenied, false))
		if err := storage.Copy(ctx, loc, dst); err == nil {
			t.Fatal("Copy should fail")
		}
		if mock.HasObject(dst) {
			t.Error("Copy must not be retried after a permanent failure")
		}
	})

	t.Run("TagAndMetadata", func(t *testing.T) {
		if err := storage.Tag(ctx, loc, map[string]string{"k": "v"}); err != nil {
			t.Fatalf("Tag failed: %v", err)
		}
		meta, err := storage.GetMetadata(ctx, loc)
		if err != nil {
			t.Fatalf("GetMetadata failed: %v", err)
		}
		if meta.Location != loc {
			t.Errorf("Location mismatch: got %v, want %v", meta.Location, loc)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		exists, err := storage.Exists(ctx, loc)
		if err != nil || !exists {
			t.Errorf("Object should exist (exists=%v, err=%v)", exists, err)
		}
		exists, err = storage.Exists(ctx, Location{Bucket: "b", Key: "missing.txt"})
		if err != nil || exists {
			t.Errorf("Missing object should not exist (exists=%v, err=%v)", exists, err)
		}
	})
}

func TestCalculateDelay(t *testing.T) {
	config := &RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: false,
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := config.calculateDelay(i + 1); got != w {
			t.Errorf("Delay%d mismatch: got %v, want %v", i+1, got, w)
		}
	}

	config.MaxDelay = 300 * time.Millisecond
	if got := config.calculateDelay(4); got > config.MaxDelay {
		t.Errorf("Delay should be capped at MaxDelay: got %v, max %v", got, config.MaxDelay)
	}
}
