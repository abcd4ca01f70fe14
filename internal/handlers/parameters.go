package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/pkg/lambda"
)

// ParameterReader is the subset of the SSM client used to read parameters
type ParameterReader interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParameterResponse is the body answered by the parameter endpoint
type ParameterResponse struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Type    string `json:"type"`
	Version int64  `json:"version"`
}

// ParameterHandler reads one SSM parameter
type ParameterHandler struct {
	reader ParameterReader
	name   string
	logger *logrus.Logger
}

// NewParameterHandler creates a new parameter handler
func NewParameterHandler(reader ParameterReader, name string, logger *logrus.Logger) *ParameterHandler {
	return &ParameterHandler{reader: reader, name: name, logger: logger}
}

// HandleGet returns the decrypted value of the configured parameter
func (h *ParameterHandler) HandleGet(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	out, err := h.reader.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(h.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFoundErr *ssmtypes.ParameterNotFound
		if errors.As(err, &notFoundErr) {
			return respondError(req, notFound("Parameter not found", h.name))
		}
		log.WithError(err).WithField("parameter", h.name).Error("Failed to get parameter")
		return respondError(req, err)
	}
	if out.Parameter == nil {
		return respondError(req, notFound("Parameter not found", h.name))
	}

	log.WithField("parameter", h.name).Info("Parameter read")
	return respond(http.StatusOK, ParameterResponse{
		Name:    aws.ToString(out.Parameter.Name),
		Value:   aws.ToString(out.Parameter.Value),
		Type:    string(out.Parameter.Type),
		Version: out.Parameter.Version,
	})
}
