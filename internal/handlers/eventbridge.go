package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/batch"
	"lambda-event-patterns/internal/logging"
)

// EventConsumerHandler logs events delivered by an EventBridge rule
type EventConsumerHandler struct {
	logger *logrus.Logger
}

// NewEventConsumerHandler creates a new event consumer handler
func NewEventConsumerHandler(logger *logrus.Logger) *EventConsumerHandler {
	return &EventConsumerHandler{logger: logger}
}

// Handle decodes the event detail and logs it. An event without a detail
// object fails the invocation.
func (h *EventConsumerHandler) Handle(ctx context.Context, event events.CloudWatchEvent) error {
	log := logging.ForInvocation(ctx, h.logger)

	detail := bytes.TrimSpace(event.Detail)
	if len(detail) == 0 || bytes.Equal(detail, []byte("null")) {
		return missing("detail")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(detail, &decoded); err != nil {
		return fmt.Errorf("decode detail of event %s: %w", event.ID, err)
	}

	log.WithFields(logrus.Fields{
		"event_id":    event.ID,
		"source":      event.Source,
		"detail_type": event.DetailType,
		"account":     event.AccountID,
		"detail":      decoded,
	}).Info("Event received")
	return nil
}

// FanoutHandler republishes every SQS message of a batch as one event
type FanoutHandler struct {
	putter      EventPutter
	busName     string
	source      string
	concurrency int
	logger      *logrus.Logger
}

// NewFanoutHandler creates a new fan-out handler
func NewFanoutHandler(putter EventPutter, busName, source string, concurrency int, logger *logrus.Logger) *FanoutHandler {
	return &FanoutHandler{
		putter:      putter,
		busName:     busName,
		source:      source,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Handle puts one event per record concurrently and reports the records
// that could not be put
func (h *FanoutHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	log := logging.ForInvocation(ctx, h.logger)

	results := batch.Process(ctx, event.Records, batch.SQSMessageID, func(ctx context.Context, msg events.SQSMessage) error {
		detail := msg.Body
		if !isJSONObject([]byte(detail)) {
			wrapped, err := json.Marshal(map[string]string{"body": msg.Body})
			if err != nil {
				return err
			}
			detail = string(wrapped)
		}

		detailType := "SQSMessage"
		if attr, ok := msg.MessageAttributes["detail_type"]; ok && attr.StringValue != nil {
			detailType = *attr.StringValue
		}

		eventID, err := putEvent(ctx, h.putter, h.busName, h.source, detailType, detail)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"message_id": msg.MessageId,
			"event_id":   eventID,
		}).Debug("Message forwarded")
		return nil
	}, h.concurrency)

	for _, r := range results {
		if r.Failed() {
			log.WithError(r.Err).WithField("message_id", r.ID).Error("Failed to forward message")
		}
	}

	log.WithFields(logrus.Fields{
		"records":   len(event.Records),
		"succeeded": batch.Succeeded(results),
	}).Info("Fan-out batch processed")
	return batch.SQSResponse(results), nil
}

// isJSONObject reports whether data is a single JSON object
func isJSONObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{' && json.Valid(data)
}
