package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/bedrock"
	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/internal/relay"
	"lambda-event-patterns/pkg/lambda"
)

// PromptRequest is the body accepted by the streaming function URL
type PromptRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
}

// URLStreamHandler streams model tokens as newline-delimited JSON frames
// on a function URL with response streaming enabled
type URLStreamHandler struct {
	model    StreamOpener
	capacity int
	logger   *logrus.Logger
}

// NewURLStreamHandler creates a new URL stream handler
func NewURLStreamHandler(model StreamOpener, capacity int, logger *logrus.Logger) *URLStreamHandler {
	return &URLStreamHandler{model: model, capacity: capacity, logger: logger}
}

// Handle starts the relay and returns a response whose body is fed by it.
// The prompt comes from the JSON body or the prompt query parameter.
func (h *URLStreamHandler) Handle(ctx context.Context, event events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	log := logging.ForInvocation(ctx, h.logger)

	req := lambda.FromFunctionURL(event)

	var body PromptRequest
	if prompt := req.QueryParams["prompt"]; prompt != "" && len(req.Body) == 0 {
		body.Prompt = prompt
		if err := validateStruct(&body); err != nil {
			return streamError(req, err)
		}
	} else if err := decodeJSON(req.Body, &body); err != nil {
		return streamError(req, err)
	}

	reader, err := h.model.Stream(ctx, body.Prompt)
	if err != nil {
		log.WithError(err).WithField("model_id", h.model.ID()).Error("Failed to open stream")
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		src := bedrock.NewStreamSource(reader)
		defer src.Close()

		var stats relay.Stats
		err := relay.Run(ctx, src, bedrock.NewWriterSink(pw), relay.WithCapacity(h.capacity), relay.WithStats(&stats))
		entry := log.WithFields(logrus.Fields{
			"produced":  stats.Produced,
			"delivered": stats.Delivered,
		})
		if err != nil {
			entry.WithError(err).Error("Stream relay failed")
		} else {
			entry.Info("Stream relay finished")
		}
		pw.CloseWithError(err)
	}()

	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/x-ndjson"},
		Body:       pr,
	}, nil
}

func streamError(req *lambda.Request, err error) (*events.LambdaFunctionURLStreamingResponse, error) {
	resp, err := respondError(req, err)
	if err != nil {
		return nil, err
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       bytes.NewReader(resp.Body),
	}, nil
}
