package storage

import (
	"context"
	"fmt"
	"time"
)

// Location addresses one object
type Location struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s/%s", l.Bucket, l.Key)
}

// Valid reports whether both bucket and key are set
func (l Location) Valid() bool {
	return l.Bucket != "" && l.Key != ""
}

// ObjectMetadata represents metadata about a stored object
type ObjectMetadata struct {
	Location     Location          `json:"location"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ObjectStorage is the object store the S3-triggered handlers work against
type ObjectStorage interface {
	// Retrieve reads a whole object
	Retrieve(ctx context.Context, loc Location) ([]byte, error)

	// Exists reports whether an object is present. A missing object is not
	// an error.
	Exists(ctx context.Context, loc Location) (bool, error)

	GetMetadata(ctx context.Context, loc Location) (*ObjectMetadata, error)

	// Copy copies an object, possibly across buckets
	Copy(ctx context.Context, src, dst Location) error

	// Tag replaces the tag set of an object
	Tag(ctx context.Context, loc Location, tags map[string]string) error

	// GenerateUploadURL returns a presigned PUT URL valid for expiry
	GenerateUploadURL(ctx context.Context, loc Location, contentType string, expiry time.Duration) (string, error)

	Close() error
}
