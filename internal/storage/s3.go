package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Storage
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
}

// Presigner signs upload requests. *s3.PresignClient implements it.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Storage implements ObjectStorage on Amazon S3
type S3Storage struct {
	api       S3API
	presigner Presigner
}

// NewS3Storage creates an S3Storage. presigner may be nil when upload URLs
// are not needed.
func NewS3Storage(api S3API, presigner Presigner) *S3Storage {
	return &S3Storage{api: api, presigner: presigner}
}

// Retrieve implements ObjectStorage.Retrieve
func (s *S3Storage) Retrieve(ctx context.Context, loc Location) ([]byte, error) {
	if !loc.Valid() {
		return nil, NewStorageError("Retrieve", loc, ErrInvalidLocation, false)
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, classifyS3Error("Retrieve", loc, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, NewStorageError("Retrieve", loc, fmt.Errorf("read body: %w", err), true)
	}
	return data, nil
}

// Exists implements ObjectStorage.Exists
func (s *S3Storage) Exists(ctx context.Context, loc Location) (bool, error) {
	_, err := s.GetMetadata(ctx, loc)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// GetMetadata implements ObjectStorage.GetMetadata
func (s *S3Storage) GetMetadata(ctx context.Context, loc Location) (*ObjectMetadata, error) {
	if !loc.Valid() {
		return nil, NewStorageError("GetMetadata", loc, ErrInvalidLocation, false)
	}

	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, classifyS3Error("GetMetadata", loc, err)
	}

	return &ObjectMetadata{
		Location:     loc,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		Metadata:     out.Metadata,
	}, nil
}

// copySource builds the URL-encoded "bucket/key" CopySource value
func copySource(loc Location) string {
	segments := strings.Split(loc.Key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return loc.Bucket + "/" + strings.Join(segments, "/")
}

// Copy implements ObjectStorage.Copy
func (s *S3Storage) Copy(ctx context.Context, src, dst Location) error {
	if !src.Valid() {
		return NewStorageError("Copy", src, ErrInvalidLocation, false)
	}
	if !dst.Valid() {
		return NewStorageError("Copy", dst, ErrInvalidLocation, false)
	}

	_, err := s.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dst.Bucket),
		Key:        aws.String(dst.Key),
		CopySource: aws.String(copySource(src)),
	})
	return classifyS3Error("Copy", src, err)
}

// Tag implements ObjectStorage.Tag. Tags are written in key order.
func (s *S3Storage) Tag(ctx context.Context, loc Location, tags map[string]string) error {
	if !loc.Valid() {
		return NewStorageError("Tag", loc, ErrInvalidLocation, false)
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tagSet := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}

	_, err := s.api.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(loc.Bucket),
		Key:     aws.String(loc.Key),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	return classifyS3Error("Tag", loc, err)
}

// GenerateUploadURL implements ObjectStorage.GenerateUploadURL
func (s *S3Storage) GenerateUploadURL(ctx context.Context, loc Location, contentType string, expiry time.Duration) (string, error) {
	if !loc.Valid() {
		return "", NewStorageError("GenerateUploadURL", loc, ErrInvalidLocation, false)
	}
	if s.presigner == nil {
		return "", NewStorageError("GenerateUploadURL", loc, errors.New("presigner not configured"), false)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := s.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", classifyS3Error("GenerateUploadURL", loc, err)
	}
	return req.URL, nil
}

// Close implements ObjectStorage.Close
func (s *S3Storage) Close() error {
	return nil
}
