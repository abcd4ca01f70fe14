package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/internal/middleware"
	"lambda-event-patterns/pkg/lambda"
)

// FunctionInvoker is the subset of the Lambda client used to invoke workers
type FunctionInvoker interface {
	Invoke(ctx context.Context, params *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// Job is the payload handed to the worker function
type Job struct {
	JobID   string          `json:"job_id"`
	Payload json.RawMessage `json:"payload"`
}

// AsyncInvokeHandler queues work on a worker function with an Event invoke
type AsyncInvokeHandler struct {
	invoker  FunctionInvoker
	function string
	logger   *logrus.Logger
}

// NewAsyncInvokeHandler creates a new async invoke handler
func NewAsyncInvokeHandler(invoker FunctionInvoker, function string, logger *logrus.Logger) *AsyncInvokeHandler {
	return &AsyncInvokeHandler{invoker: invoker, function: function, logger: logger}
}

// HandleInvoke wraps the body in a job and invokes the worker without
// waiting for its result
func (h *AsyncInvokeHandler) HandleInvoke(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	payload := req.Body
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return respondError(req, badRequest("Invalid request body", "body must be valid JSON"))
	}

	job := Job{JobID: uuid.New().String(), Payload: payload}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	out, err := h.invoker.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(h.function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        data,
	})
	if err != nil {
		if isAPIError(err, "TooManyRequestsException") {
			log.WithError(err).WithField("function", h.function).Warn("Worker throttled")
			return respondError(req, &RequestError{
				Status:   http.StatusTooManyRequests,
				Response: middleware.ErrorResponse{Error: "Too many requests", Message: "worker is throttled, retry later"},
			})
		}
		log.WithError(err).WithField("function", h.function).Error("Failed to invoke worker")
		return respondError(req, err)
	}

	log.WithFields(logrus.Fields{
		"job_id":      job.JobID,
		"status_code": out.StatusCode,
	}).Info("Worker invoked")
	return respond(http.StatusAccepted, map[string]string{"job_id": job.JobID, "status": "queued"})
}
