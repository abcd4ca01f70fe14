package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/pkg/lambda"
)

// QueueSender is the subset of the SQS client used to enqueue messages
type QueueSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// TopicPublisher is the subset of the SNS client used to publish
type TopicPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// EventPutter is the subset of the EventBridge client used to put events
type EventPutter interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// ErrEventRejected is returned when EventBridge accepted the call but
// failed the entry
var ErrEventRejected = errors.New("event rejected by event bus")

// QueueHandler forwards request bodies to an SQS queue
type QueueHandler struct {
	sender   QueueSender
	queueURL string
	logger   *logrus.Logger
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(sender QueueSender, queueURL string, logger *logrus.Logger) *QueueHandler {
	return &QueueHandler{sender: sender, queueURL: queueURL, logger: logger}
}

// HandleSend enqueues the raw request body
func (h *QueueHandler) HandleSend(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	if len(bytes.TrimSpace(req.Body)) == 0 {
		return respondError(req, badRequest("Invalid request body", "request body is required"))
	}

	out, err := h.sender.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.queueURL),
		MessageBody: aws.String(string(req.Body)),
	})
	if err != nil {
		log.WithError(err).WithField("queue_url", h.queueURL).Error("Failed to send message")
		return respondError(req, err)
	}

	messageID := aws.ToString(out.MessageId)
	log.WithField("message_id", messageID).Info("Message sent")
	return respond(http.StatusAccepted, map[string]string{"message_id": messageID})
}

// PublishRequest is the body accepted by the publish endpoint
type PublishRequest struct {
	Message string `json:"message" validate:"required"`
	Subject string `json:"subject" validate:"max=100"`
}

// TopicHandler publishes request messages to an SNS topic
type TopicHandler struct {
	publisher TopicPublisher
	topicARN  string
	logger    *logrus.Logger
}

// NewTopicHandler creates a new topic handler
func NewTopicHandler(publisher TopicPublisher, topicARN string, logger *logrus.Logger) *TopicHandler {
	return &TopicHandler{publisher: publisher, topicARN: topicARN, logger: logger}
}

// HandlePublish publishes the message with its optional subject
func (h *TopicHandler) HandlePublish(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	var body PublishRequest
	if err := decodeJSON(req.Body, &body); err != nil {
		return respondError(req, err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(h.topicARN),
		Message:  aws.String(body.Message),
	}
	if body.Subject != "" {
		input.Subject = aws.String(body.Subject)
	}

	out, err := h.publisher.Publish(ctx, input)
	if err != nil {
		log.WithError(err).WithField("topic_arn", h.topicARN).Error("Failed to publish message")
		return respondError(req, err)
	}

	messageID := aws.ToString(out.MessageId)
	log.WithField("message_id", messageID).Info("Message published")
	return respond(http.StatusAccepted, map[string]string{"message_id": messageID})
}

// PutEventRequest is the body accepted by the put-event endpoint
type PutEventRequest struct {
	DetailType string          `json:"detail_type" validate:"required,max=128"`
	Detail     json.RawMessage `json:"detail" validate:"required"`
}

// EventBusHandler puts request events on an EventBridge bus
type EventBusHandler struct {
	putter  EventPutter
	busName string
	source  string
	logger  *logrus.Logger
}

// NewEventBusHandler creates a new event bus handler
func NewEventBusHandler(putter EventPutter, busName, source string, logger *logrus.Logger) *EventBusHandler {
	return &EventBusHandler{
		putter:  putter,
		busName: busName,
		source:  source,
		logger:  logger,
	}
}

// HandlePut validates the event and puts it on the bus
func (h *EventBusHandler) HandlePut(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	var body PutEventRequest
	if err := decodeJSON(req.Body, &body); err != nil {
		return respondError(req, err)
	}
	if !isJSONObject(body.Detail) {
		return respondError(req, badRequest("Invalid request body", "detail must be a JSON object"))
	}

	eventID, err := putEvent(ctx, h.putter, h.busName, h.source, body.DetailType, string(body.Detail))
	if err != nil {
		log.WithError(err).WithField("event_bus", h.busName).Error("Failed to put event")
		return respondError(req, err)
	}

	log.WithFields(logrus.Fields{
		"event_id":    eventID,
		"detail_type": body.DetailType,
	}).Info("Event put")
	return respond(http.StatusAccepted, map[string]string{"event_id": eventID})
}

// putEvent puts a single entry and turns a failed entry into an error
func putEvent(ctx context.Context, putter EventPutter, busName, source, detailType, detail string) (string, error) {
	out, err := putter.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{
			{
				EventBusName: aws.String(busName),
				Source:       aws.String(source),
				DetailType:   aws.String(detailType),
				Detail:       aws.String(detail),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("put events: %w", err)
	}

	if out.FailedEntryCount > 0 || len(out.Entries) == 0 {
		if len(out.Entries) > 0 {
			entry := out.Entries[0]
			return "", fmt.Errorf("%w: %s: %s", ErrEventRejected, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
		}
		return "", ErrEventRejected
	}

	return aws.ToString(out.Entries[0].EventId), nil
}
