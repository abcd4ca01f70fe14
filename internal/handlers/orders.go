package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/batch"
	"lambda-event-patterns/internal/logging"
)

// RecordWriter is the subset of the DynamoDB client used to write records
type RecordWriter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// OrderMessage is the body of a message on the orders queue
type OrderMessage struct {
	OrderID    string  `json:"order_id" dynamodbav:"order_id" validate:"required"`
	CustomerID string  `json:"customer_id" dynamodbav:"customer_id" validate:"required"`
	Amount     float64 `json:"amount" dynamodbav:"amount" validate:"gt=0"`
	Currency   string  `json:"currency,omitempty" dynamodbav:"currency,omitempty" validate:"omitempty,len=3"`
}

type orderRecord struct {
	OrderMessage
	MessageID  string    `dynamodbav:"message_id"`
	ReceivedAt time.Time `dynamodbav:"received_at"`
}

// OrderBatchHandler validates queued orders and stores them
type OrderBatchHandler struct {
	writer      RecordWriter
	table       string
	concurrency int
	logger      *logrus.Logger
}

// NewOrderBatchHandler creates a new order batch handler
func NewOrderBatchHandler(writer RecordWriter, table string, concurrency int, logger *logrus.Logger) *OrderBatchHandler {
	return &OrderBatchHandler{
		writer:      writer,
		table:       table,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Handle stores every valid order of the batch concurrently. Invalid or
// unstored messages are reported back for redelivery.
func (h *OrderBatchHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	log := logging.ForInvocation(ctx, h.logger)

	results := batch.Process(ctx, event.Records, batch.SQSMessageID, h.store, h.concurrency)
	for _, r := range results {
		if r.Failed() {
			log.WithError(r.Err).WithField("message_id", r.ID).Error("Failed to process order")
		}
	}

	log.WithFields(logrus.Fields{
		"records":   len(event.Records),
		"succeeded": batch.Succeeded(results),
	}).Info("Order batch processed")
	return batch.SQSResponse(results), nil
}

func (h *OrderBatchHandler) store(ctx context.Context, msg events.SQSMessage) error {
	var order OrderMessage
	if err := json.Unmarshal([]byte(msg.Body), &order); err != nil {
		return fmt.Errorf("decode order: %w", err)
	}
	if err := validateStruct(&order); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(orderRecord{
		OrderMessage: order,
		MessageID:    msg.MessageId,
		ReceivedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", order.OrderID, err)
	}

	if _, err := h.writer.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(h.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("store order %s: %w", order.OrderID, err)
	}
	return nil
}
