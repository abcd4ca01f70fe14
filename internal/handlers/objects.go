package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/batch"
	"lambda-event-patterns/internal/bedrock"
	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/internal/storage"
)

// objectLocation returns the decoded bucket and key of an S3 record.
// Keys arrive URL-encoded with '+' for spaces.
func objectLocation(record events.S3EventRecord) (storage.Location, error) {
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return storage.Location{}, fmt.Errorf("decode key %q: %w", record.S3.Object.Key, err)
	}
	return storage.Location{Bucket: record.S3.Bucket.Name, Key: key}, nil
}

func s3RecordID(record events.S3EventRecord) string {
	return record.S3.Bucket.Name + "/" + record.S3.Object.Key
}

// joinFailures folds failed results into one error
func joinFailures(results []batch.Result) error {
	var errs []error
	for _, r := range results {
		if r.Failed() {
			errs = append(errs, fmt.Errorf("%s: %w", r.ID, r.Err))
		}
	}
	return errors.Join(errs...)
}

// LabelDetector is the subset of the Rekognition client used here
type LabelDetector interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// ImageLabel is one label detected in an image
type ImageLabel struct {
	Name       string  `json:"name" dynamodbav:"name"`
	Confidence float64 `json:"confidence" dynamodbav:"confidence"`
}

// LabelRecord is stored for every analysed image
type LabelRecord struct {
	ImageKey    string       `json:"image_key" dynamodbav:"image_key"`
	Bucket      string       `json:"bucket" dynamodbav:"bucket"`
	Labels      []ImageLabel `json:"labels" dynamodbav:"labels"`
	ProcessedAt time.Time    `json:"processed_at" dynamodbav:"processed_at"`
}

// LabelHandler detects labels of uploaded images and stores them
type LabelHandler struct {
	detector      LabelDetector
	writer        RecordWriter
	table         string
	maxLabels     int32
	minConfidence float32
	logger        *logrus.Logger
}

// NewLabelHandler creates a new label handler
func NewLabelHandler(detector LabelDetector, writer RecordWriter, table string, logger *logrus.Logger) *LabelHandler {
	return &LabelHandler{
		detector:      detector,
		writer:        writer,
		table:         table,
		maxLabels:     10,
		minConfidence: 75,
		logger:        logger,
	}
}

// Handle labels every object of the event. Records without a key are
// skipped.
func (h *LabelHandler) Handle(ctx context.Context, event events.S3Event) error {
	log := logging.ForInvocation(ctx, h.logger)

	results := batch.Process(ctx, event.Records, s3RecordID, func(ctx context.Context, record events.S3EventRecord) error {
		if record.S3.Object.Key == "" {
			log.WithField("bucket", record.S3.Bucket.Name).Warn("Skipping record without object key")
			return nil
		}
		loc, err := objectLocation(record)
		if err != nil {
			return err
		}
		return h.label(ctx, log, loc)
	}, 0)

	return joinFailures(results)
}

func (h *LabelHandler) label(ctx context.Context, log *logrus.Entry, loc storage.Location) error {
	out, err := h.detector.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image: &rektypes.Image{
			S3Object: &rektypes.S3Object{
				Bucket: aws.String(loc.Bucket),
				Name:   aws.String(loc.Key),
			},
		},
		MaxLabels:     aws.Int32(h.maxLabels),
		MinConfidence: aws.Float32(h.minConfidence),
	})
	if err != nil {
		return fmt.Errorf("detect labels for %s: %w", loc, err)
	}

	record := LabelRecord{
		ImageKey:    loc.Key,
		Bucket:      loc.Bucket,
		Labels:      make([]ImageLabel, 0, len(out.Labels)),
		ProcessedAt: time.Now().UTC(),
	}
	for _, label := range out.Labels {
		record.Labels = append(record.Labels, ImageLabel{
			Name:       aws.ToString(label.Name),
			Confidence: float64(aws.ToFloat32(label.Confidence)),
		})
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal labels for %s: %w", loc, err)
	}
	if _, err := h.writer.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(h.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("store labels for %s: %w", loc, err)
	}

	log.WithFields(logrus.Fields{
		"object": loc.String(),
		"labels": len(record.Labels),
	}).Info("Image labelled")
	return nil
}

// ImageDescriber describes an image in response to a prompt
type ImageDescriber interface {
	ID() string
	DescribeImage(ctx context.Context, prompt string, format types.ImageFormat, image []byte) (string, error)
}

const (
	// MaxObjectTags is the number of tags S3 allows on one object
	MaxObjectTags = 10
	// MaxTagValueLength is the longest tag value S3 accepts
	MaxTagValueLength = 256

	taggingPrompt = "Analyze this image and provide exactly 10 descriptive single words that best describe what you see. Return only the words separated by commas, no explanations."
)

// FallbackTags are applied when the model gives no usable answer
var FallbackTags = []string{"image", "photo", "content", "visual", "media", "file", "upload", "data", "picture", "object"}

// TaggerHandler tags uploaded images with words chosen by a model
type TaggerHandler struct {
	model   ImageDescriber
	storage storage.ObjectStorage
	logger  *logrus.Logger
}

// NewTaggerHandler creates a new tagger handler
func NewTaggerHandler(model ImageDescriber, store storage.ObjectStorage, logger *logrus.Logger) *TaggerHandler {
	return &TaggerHandler{model: model, storage: store, logger: logger}
}

// Handle tags every supported image of the event. Objects with other
// extensions are skipped.
func (h *TaggerHandler) Handle(ctx context.Context, event events.S3Event) error {
	log := logging.ForInvocation(ctx, h.logger)

	results := batch.Process(ctx, event.Records, s3RecordID, func(ctx context.Context, record events.S3EventRecord) error {
		loc, err := objectLocation(record)
		if err != nil {
			return err
		}
		if loc.Key == "" {
			return missing("s3.object.key")
		}

		format, ok := bedrock.ImageFormatForKey(loc.Key)
		if !ok {
			log.WithField("object", loc.String()).Info("Skipping unsupported file type")
			return nil
		}
		return h.tag(ctx, log, loc, format)
	}, 0)

	return joinFailures(results)
}

func (h *TaggerHandler) tag(ctx context.Context, log *logrus.Entry, loc storage.Location, format types.ImageFormat) error {
	image, err := h.storage.Retrieve(ctx, loc)
	if err != nil {
		return fmt.Errorf("read image %s: %w", loc, err)
	}

	words := FallbackTags
	answer, err := h.model.DescribeImage(ctx, taggingPrompt, format, image)
	if err != nil {
		log.WithError(err).WithField("model_id", h.model.ID()).Warn("Model failed, using fallback tags")
	} else if parsed := ParseTagWords(answer); len(parsed) > 0 {
		words = parsed
	}

	tags := TagSet(words)
	if len(tags) == 0 {
		return nil
	}
	if err := h.storage.Tag(ctx, loc, tags); err != nil {
		return fmt.Errorf("tag %s: %w", loc, err)
	}

	log.WithFields(logrus.Fields{
		"object":   loc.String(),
		"model_id": h.model.ID(),
		"tags":     strings.Join(words, ", "),
	}).Info("Image tagged")
	return nil
}

// ParseTagWords splits a comma separated model answer into lower case
// words made of letters, digits, '-' and '_'. At most MaxObjectTags words
// are kept.
func ParseTagWords(answer string) []string {
	var words []string
	for _, part := range strings.Split(answer, ",") {
		word := strings.ToLower(strings.TrimSpace(part))
		if word == "" || !isTagWord(word) {
			continue
		}
		words = append(words, word)
		if len(words) == MaxObjectTags {
			break
		}
	}
	return words
}

func isTagWord(word string) bool {
	hasAlnum := false
	for _, r := range word {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			hasAlnum = true
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return hasAlnum
}

// TagSet numbers the words as ai-tag-1 .. ai-tag-10, dropping characters
// S3 tags should not carry and capping values at MaxTagValueLength
func TagSet(words []string) map[string]string {
	tags := make(map[string]string, len(words))
	for i, word := range words {
		if i == MaxObjectTags {
			break
		}
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
				return r
			}
			return -1
		}, word)
		if clean == "" {
			continue
		}
		if len(clean) > MaxTagValueLength {
			clean = clean[:MaxTagValueLength]
		}
		tags["ai-tag-"+strconv.Itoa(i+1)] = clean
	}
	return tags
}

// ArchiveHandler copies new objects to the archive bucket under the same key
type ArchiveHandler struct {
	storage     storage.ObjectStorage
	destination string
	logger      *logrus.Logger
}

// NewArchiveHandler creates a new archive handler
func NewArchiveHandler(store storage.ObjectStorage, destination string, logger *logrus.Logger) *ArchiveHandler {
	return &ArchiveHandler{storage: store, destination: destination, logger: logger}
}

// Handle copies every object of the event. Objects in the destination
// bucket, and objects whose archived copy has the same ETag, are left alone.
func (h *ArchiveHandler) Handle(ctx context.Context, event events.S3Event) error {
	log := logging.ForInvocation(ctx, h.logger)

	if h.destination == "" {
		return missing("DESTINATION_BUCKET")
	}

	results := batch.Process(ctx, event.Records, s3RecordID, func(ctx context.Context, record events.S3EventRecord) error {
		src, err := objectLocation(record)
		if err != nil {
			return err
		}
		if !src.Valid() {
			return missing("s3.object.key")
		}
		if src.Bucket == h.destination {
			log.WithField("object", src.String()).Warn("Object already in archive bucket")
			return nil
		}

		dst := storage.Location{Bucket: h.destination, Key: src.Key}
		archived, err := h.archived(ctx, src, dst)
		if err != nil {
			return fmt.Errorf("archive %s: %w", src, err)
		}
		if archived {
			log.WithField("object", src.String()).Info("Object already archived")
			return nil
		}

		if err := h.storage.Copy(ctx, src, dst); err != nil {
			return fmt.Errorf("archive %s: %w", src, err)
		}
		log.WithFields(logrus.Fields{
			"source":      src.String(),
			"destination": dst.String(),
		}).Info("Object archived")
		return nil
	}, 0)

	return joinFailures(results)
}

// archived reports whether dst already holds the current version of src
func (h *ArchiveHandler) archived(ctx context.Context, src, dst storage.Location) (bool, error) {
	exists, err := h.storage.Exists(ctx, dst)
	if err != nil || !exists {
		return false, err
	}

	srcMeta, err := h.storage.GetMetadata(ctx, src)
	if err != nil {
		return false, err
	}
	dstMeta, err := h.storage.GetMetadata(ctx, dst)
	if err != nil {
		return false, err
	}
	return srcMeta.ETag != "" && srcMeta.ETag == dstMeta.ETag, nil
}
