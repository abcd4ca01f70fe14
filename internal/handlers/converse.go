package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/pkg/lambda"
)

// Completer produces a text completion for a prompt
type Completer interface {
	ID() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// ConverseRequest is the body accepted by the converse endpoint
type ConverseRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
}

// ConverseResponse carries the model answer
type ConverseResponse struct {
	Completion string `json:"completion"`
	ModelID    string `json:"model_id"`
}

// ConverseHandler answers prompts with a single model completion
type ConverseHandler struct {
	model  Completer
	logger *logrus.Logger
}

// NewConverseHandler creates a new converse handler
func NewConverseHandler(model Completer, logger *logrus.Logger) *ConverseHandler {
	return &ConverseHandler{model: model, logger: logger}
}

// HandleConverse sends the prompt to the model and returns its text
func (h *ConverseHandler) HandleConverse(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	var body ConverseRequest
	if err := decodeJSON(req.Body, &body); err != nil {
		return respondError(req, err)
	}

	completion, err := h.model.Complete(ctx, body.Prompt)
	if err != nil {
		log.WithError(err).WithField("model_id", h.model.ID()).Error("Converse failed")
		return respondError(req, err)
	}

	log.WithFields(logrus.Fields{
		"model_id":   h.model.ID(),
		"completion": len(completion),
	}).Info("Converse completed")
	return respond(http.StatusOK, ConverseResponse{Completion: completion, ModelID: h.model.ID()})
}
