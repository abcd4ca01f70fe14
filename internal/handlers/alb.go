package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/pkg/lambda"
)

// DefaultGreetingName is used when the request carries no name
const DefaultGreetingName = "World"

// GreeterHandler answers load balancer requests with a greeting
type GreeterHandler struct {
	logger *logrus.Logger
}

// NewGreeterHandler creates a new greeter handler
func NewGreeterHandler(logger *logrus.Logger) *GreeterHandler {
	return &GreeterHandler{logger: logger}
}

// HandleGreet greets the name query parameter
func (h *GreeterHandler) HandleGreet(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	name := strings.TrimSpace(req.QueryParams["name"])
	if name == "" {
		name = DefaultGreetingName
	}

	logging.ForInvocation(ctx, h.logger).WithFields(logrus.Fields{
		"method": req.Method,
		"path":   req.Path,
		"name":   name,
	}).Info("Greeting request")

	return respond(http.StatusOK, map[string]string{"message": "Hello, " + name + "!"})
}
