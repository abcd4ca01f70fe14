package handlers

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/internal/storage"
	"lambda-event-patterns/pkg/lambda"
)

// UploadPrefix is the key prefix presigned uploads are placed under
const UploadPrefix = "uploads/"

// UploadURLResponse is returned by the upload URL endpoint
type UploadURLResponse struct {
	UploadURL string    `json:"upload_url"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UploadHandler hands out presigned PUT URLs
type UploadHandler struct {
	storage storage.ObjectStorage
	bucket  string
	expiry  time.Duration
	logger  *logrus.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(store storage.ObjectStorage, bucket string, expiry time.Duration, logger *logrus.Logger) *UploadHandler {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &UploadHandler{
		storage: store,
		bucket:  bucket,
		expiry:  expiry,
		logger:  logger,
	}
}

// HandleUploadURL presigns uploads/<uuid>/<filename> for the filename
// query parameter
func (h *UploadHandler) HandleUploadURL(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	filename := sanitizeFilename(req.QueryParams["filename"])
	if filename == "" {
		return respondError(req, badRequest("Invalid request", "filename query parameter is required"))
	}

	contentType := req.QueryParams["content_type"]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	loc := storage.Location{
		Bucket: h.bucket,
		Key:    UploadPrefix + uuid.New().String() + "/" + filename,
	}

	url, err := h.storage.GenerateUploadURL(ctx, loc, contentType, h.expiry)
	if err != nil {
		log.WithError(err).WithField("key", loc.Key).Error("Failed to presign upload")
		return respondError(req, err)
	}

	log.WithField("key", loc.Key).Info("Upload URL issued")
	return respond(http.StatusOK, UploadURLResponse{
		UploadURL: url,
		Bucket:    loc.Bucket,
		Key:       loc.Key,
		ExpiresAt: time.Now().Add(h.expiry).UTC(),
	})
}

// sanitizeFilename keeps the last path element of name
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}
