package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/batch"
	"lambda-event-patterns/internal/logging"
)

// NotificationHandler logs SNS notifications
type NotificationHandler struct {
	logger *logrus.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(logger *logrus.Logger) *NotificationHandler {
	return &NotificationHandler{logger: logger}
}

// Handle logs each notification of the event
func (h *NotificationHandler) Handle(ctx context.Context, event events.SNSEvent) error {
	log := logging.ForInvocation(ctx, h.logger)

	for _, record := range event.Records {
		log.WithFields(logrus.Fields{
			"message_id": record.SNS.MessageID,
			"topic_arn":  record.SNS.TopicArn,
			"subject":    record.SNS.Subject,
			"message":    record.SNS.Message,
			"timestamp":  record.SNS.Timestamp,
		}).Info("Notification received")
	}
	return nil
}

// NotificationPayload is the message published to the topic
type NotificationPayload struct {
	ID string `json:"id" validate:"required"`
}

// EnvelopeHandler processes SNS notifications delivered through SQS
type EnvelopeHandler struct {
	concurrency int
	logger      *logrus.Logger
}

// NewEnvelopeHandler creates a new envelope handler
func NewEnvelopeHandler(concurrency int, logger *logrus.Logger) *EnvelopeHandler {
	return &EnvelopeHandler{concurrency: concurrency, logger: logger}
}

// Handle unwraps every message and reports the ones without a valid payload
func (h *EnvelopeHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	log := logging.ForInvocation(ctx, h.logger)

	results := batch.Process(ctx, event.Records, batch.SQSMessageID, func(ctx context.Context, msg events.SQSMessage) error {
		payload, notification, err := unwrapNotification(msg.Body)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"message_id":      msg.MessageId,
			"notification_id": notification.MessageID,
			"topic_arn":       notification.TopicArn,
			"payload_id":      payload.ID,
		}).Info("Notification processed")
		return nil
	}, h.concurrency)

	for _, r := range results {
		if r.Failed() {
			log.WithError(r.Err).WithField("message_id", r.ID).Error("Failed to process notification")
		}
	}
	return batch.SQSResponse(results), nil
}

// unwrapNotification decodes the SNS envelope and its JSON message. Bodies
// delivered with raw message delivery are decoded directly.
func unwrapNotification(body string) (NotificationPayload, events.SNSEntity, error) {
	var notification events.SNSEntity
	if err := json.Unmarshal([]byte(body), &notification); err != nil {
		return NotificationPayload{}, notification, fmt.Errorf("decode envelope: %w", err)
	}

	message := notification.Message
	if notification.Type == "" && notification.Message == "" {
		message = body
	}

	var payload NotificationPayload
	if err := json.Unmarshal([]byte(message), &payload); err != nil {
		return payload, notification, fmt.Errorf("decode message: %w", err)
	}
	if err := validateStruct(&payload); err != nil {
		return payload, notification, err
	}
	return payload, notification, nil
}
