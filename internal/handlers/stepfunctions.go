package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/batch"
	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/pkg/lambda"
)

// ExecutionStarter is the subset of the Step Functions client used to start
// executions
type ExecutionStarter interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// TaskReporter is the subset of the Step Functions client used to complete
// callback tasks
type TaskReporter interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

// ExecutionHandler starts a state machine with the request body as input
type ExecutionHandler struct {
	starter         ExecutionStarter
	stateMachineARN string
	logger          *logrus.Logger
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(starter ExecutionStarter, stateMachineARN string, logger *logrus.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		starter:         starter,
		stateMachineARN: stateMachineARN,
		logger:          logger,
	}
}

// HandleStart starts one execution named by a fresh uuid
func (h *ExecutionHandler) HandleStart(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	input := req.Body
	if len(input) == 0 {
		input = []byte("{}")
	}
	if !json.Valid(input) {
		return respondError(req, badRequest("Invalid request body", "body must be valid JSON"))
	}

	out, err := h.starter.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(h.stateMachineARN),
		Name:            aws.String(uuid.New().String()),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		log.WithError(err).WithField("state_machine_arn", h.stateMachineARN).Error("Failed to start execution")
		return respondError(req, err)
	}

	executionARN := aws.ToString(out.ExecutionArn)
	log.WithField("execution_arn", executionARN).Info("Execution started")

	resp := map[string]string{"execution_arn": executionARN}
	if out.StartDate != nil {
		resp["start_date"] = out.StartDate.UTC().Format(time.RFC3339)
	}
	return respond(http.StatusAccepted, resp)
}

// TaskDecision is the message body consumed by the callback handler
type TaskDecision struct {
	TaskToken string          `json:"task_token" validate:"required"`
	Approved  *bool           `json:"approved" validate:"required"`
	Output    json.RawMessage `json:"output,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// CallbackHandler completes waiting Step Functions tasks from SQS messages
type CallbackHandler struct {
	reporter    TaskReporter
	concurrency int
	logger      *logrus.Logger
}

// NewCallbackHandler creates a new callback handler
func NewCallbackHandler(reporter TaskReporter, concurrency int, logger *logrus.Logger) *CallbackHandler {
	return &CallbackHandler{reporter: reporter, concurrency: concurrency, logger: logger}
}

// Handle reports success or failure for every decision in the batch
func (h *CallbackHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	log := logging.ForInvocation(ctx, h.logger)

	results := batch.Process(ctx, event.Records, batch.SQSMessageID, h.complete, h.concurrency)
	for _, r := range results {
		if r.Failed() {
			log.WithError(r.Err).WithField("message_id", r.ID).Error("Failed to complete task")
		}
	}

	log.WithFields(logrus.Fields{
		"records":   len(event.Records),
		"succeeded": batch.Succeeded(results),
	}).Info("Callback batch processed")
	return batch.SQSResponse(results), nil
}

func (h *CallbackHandler) complete(ctx context.Context, msg events.SQSMessage) error {
	var decision TaskDecision
	if err := json.Unmarshal([]byte(msg.Body), &decision); err != nil {
		return fmt.Errorf("decode decision: %w", err)
	}
	if err := validateStruct(&decision); err != nil {
		return err
	}

	if *decision.Approved {
		output := "{}"
		if len(decision.Output) > 0 {
			output = string(decision.Output)
		}
		_, err := h.reporter.SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
			TaskToken: aws.String(decision.TaskToken),
			Output:    aws.String(output),
		})
		if err != nil {
			return fmt.Errorf("send task success: %w", err)
		}
		return nil
	}

	reason := decision.Reason
	if reason == "" {
		reason = "rejected"
	}
	_, err := h.reporter.SendTaskFailure(ctx, &sfn.SendTaskFailureInput{
		TaskToken: aws.String(decision.TaskToken),
		Error:     aws.String("Rejected"),
		Cause:     aws.String(reason),
	})
	if err != nil {
		return fmt.Errorf("send task failure: %w", err)
	}
	return nil
}

// OrderLine is one line of an order
type OrderLine struct {
	SKU       string  `json:"sku" validate:"required"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

// Order is the task input of the order state machine
type Order struct {
	OrderID string      `json:"order_id" validate:"required"`
	Lines   []OrderLine `json:"lines" validate:"required,min=1,dive"`
}

// OrderResult is the task output handed to the next state
type OrderResult struct {
	OrderID     string    `json:"order_id"`
	ItemCount   int       `json:"item_count"`
	Total       float64   `json:"total"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}

// OrderStatusProcessed marks an order the task totalled
const OrderStatusProcessed = "PROCESSED"

// OrderTaskHandler is a Step Functions task that totals an order
type OrderTaskHandler struct {
	logger *logrus.Logger
}

// NewOrderTaskHandler creates a new order task handler
func NewOrderTaskHandler(logger *logrus.Logger) *OrderTaskHandler {
	return &OrderTaskHandler{logger: logger}
}

// Handle validates the order and returns its total. A validation error
// fails the task so the state machine can catch it.
func (h *OrderTaskHandler) Handle(ctx context.Context, order Order) (OrderResult, error) {
	log := logging.ForInvocation(ctx, h.logger)

	if err := validateStruct(&order); err != nil {
		log.WithError(err).Warn("Invalid order")
		return OrderResult{}, fmt.Errorf("invalid order: %w", err)
	}

	var total float64
	var count int
	for _, line := range order.Lines {
		total += float64(line.Quantity) * line.UnitPrice
		count += line.Quantity
	}

	result := OrderResult{
		OrderID:     order.OrderID,
		ItemCount:   count,
		Total:       math.Round(total*100) / 100,
		Status:      OrderStatusProcessed,
		ProcessedAt: time.Now().UTC(),
	}

	log.WithFields(logrus.Fields{
		"order_id": result.OrderID,
		"total":    result.Total,
	}).Info("Order processed")
	return result, nil
}
