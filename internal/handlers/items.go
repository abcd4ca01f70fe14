package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/internal/middleware"
	"lambda-event-patterns/pkg/lambda"
)

// ItemStore is the subset of the DynamoDB client used for items
type ItemStore interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Item is the record stored in the items table
type Item struct {
	ID          string    `json:"id" dynamodbav:"id"`
	Name        string    `json:"name" dynamodbav:"name"`
	Description string    `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Price       float64   `json:"price" dynamodbav:"price"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"created_at"`
}

// CreateItemRequest is the body accepted by the create endpoint
type CreateItemRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Price       *float64 `json:"price" validate:"required,gte=0"`
}

// ItemHandler handles item requests behind API Gateway
type ItemHandler struct {
	store  ItemStore
	table  string
	logger *logrus.Logger
}

// NewItemHandler creates a new item handler
func NewItemHandler(store ItemStore, table string, logger *logrus.Logger) *ItemHandler {
	return &ItemHandler{
		store:  store,
		table:  table,
		logger: logger,
	}
}

// HandleCreate validates the body and stores a new item with a generated id
func (h *ItemHandler) HandleCreate(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	var body CreateItemRequest
	if err := decodeJSON(req.Body, &body); err != nil {
		log.WithError(err).Warn("Rejected item")
		return respondError(req, err)
	}

	item := Item{
		ID:          uuid.New().String(),
		Name:        body.Name,
		Description: body.Description,
		Price:       *body.Price,
		CreatedAt:   time.Now().UTC(),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}

	_, err = h.store.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(h.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isAPIError(err, "ConditionalCheckFailedException") {
			return respondError(req, &RequestError{
				Status:   http.StatusConflict,
				Response: middleware.ErrorResponse{Error: "Item already exists", Message: item.ID},
			})
		}
		log.WithError(err).WithField("table", h.table).Error("Failed to store item")
		return respondError(req, err)
	}

	log.WithField("item_id", item.ID).Info("Item created")
	return respond(http.StatusCreated, item)
}

// HandleGet looks an item up by the id path parameter
func (h *ItemHandler) HandleGet(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	id := req.PathParams["id"]
	if id == "" {
		return respondError(req, badRequest("Invalid request", "item id is required"))
	}

	out, err := h.store.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(h.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		log.WithError(err).WithField("item_id", id).Error("Failed to get item")
		return respondError(req, err)
	}
	if len(out.Item) == 0 {
		return respondError(req, notFound("Item not found", fmt.Sprintf("no item with id %s", id)))
	}

	var item Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item %s: %w", id, err)
	}

	return respond(http.StatusOK, item)
}
