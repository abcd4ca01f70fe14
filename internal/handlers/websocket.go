package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/bedrock"
	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/internal/middleware"
	"lambda-event-patterns/internal/relay"
)

// WebSocket route keys
const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
	RouteDefault    = "$default"
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*middleware.Claims, error)
}

// AuthorizerHandler is a REQUEST authorizer for the WebSocket $connect route
type AuthorizerHandler struct {
	validator TokenValidator
	logger    *logrus.Logger
}

// NewAuthorizerHandler creates a new authorizer handler
func NewAuthorizerHandler(validator TokenValidator, logger *logrus.Logger) *AuthorizerHandler {
	return &AuthorizerHandler{validator: validator, logger: logger}
}

// Handle allows the connection when the token query parameter or the
// Authorization header carries a valid token, and denies it otherwise
func (h *AuthorizerHandler) Handle(ctx context.Context, event events.APIGatewayCustomAuthorizerRequestTypeRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
	log := logging.ForInvocation(ctx, h.logger)

	token := event.QueryStringParameters["token"]
	if token == "" {
		token = middleware.BearerToken(headerValue(event.Headers, "Authorization"))
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		log.WithError(err).WithField("method_arn", event.MethodArn).Warn("Connection denied")
		return authorizerPolicy("anonymous", "Deny", event.MethodArn, nil), nil
	}

	log.WithField("principal", claims.Subject).Info("Connection allowed")
	return authorizerPolicy(claims.Subject, "Allow", event.MethodArn, map[string]interface{}{
		"username": claims.Username,
		"roles":    strings.Join(claims.Roles, ","),
	}), nil
}

func authorizerPolicy(principal, effect, resource string, authContext map[string]interface{}) events.APIGatewayCustomAuthorizerResponse {
	return events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: principal,
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version: "2012-10-17",
			Statement: []events.IAMPolicyStatement{
				{
					Action:   []string{"execute-api:Invoke"},
					Effect:   effect,
					Resource: []string{resource},
				},
			},
		},
		Context: authContext,
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// StreamOpener starts a token stream for a prompt
type StreamOpener interface {
	ID() string
	Stream(ctx context.Context, prompt string) (bedrock.EventReader, error)
}

// PosterFactory returns a management client for a WebSocket API endpoint
type PosterFactory func(endpoint string) bedrock.ConnectionPoster

// StoryRequest is the message sent on the $default route
type StoryRequest struct {
	StoryType string `json:"storyType" validate:"required"`
}

// StoryStreamHandler relays a generated story to the WebSocket client as it
// is produced
type StoryStreamHandler struct {
	model    StreamOpener
	posters  PosterFactory
	capacity int
	logger   *logrus.Logger
}

// NewStoryStreamHandler creates a new story stream handler
func NewStoryStreamHandler(model StreamOpener, posters PosterFactory, capacity int, logger *logrus.Logger) *StoryStreamHandler {
	return &StoryStreamHandler{
		model:    model,
		posters:  posters,
		capacity: capacity,
		logger:   logger,
	}
}

// Handle dispatches on the route key
func (h *StoryStreamHandler) Handle(ctx context.Context, event events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForInvocation(ctx, h.logger).WithFields(logrus.Fields{
		"route":         event.RequestContext.RouteKey,
		"connection_id": event.RequestContext.ConnectionID,
	})

	if err := requireConnection(event.RequestContext); err != nil {
		log.WithError(err).Error("Rejected event")
		return events.APIGatewayProxyResponse{}, err
	}

	switch event.RequestContext.RouteKey {
	case RouteConnect:
		log.Info("Client connected")
		return wsResponse(http.StatusOK, "Connected...: "+RouteConnect), nil
	case RouteDisconnect:
		log.Info("Client disconnected")
		return wsResponse(http.StatusOK, "Disconnected...: "+RouteDisconnect), nil
	case RouteDefault:
		if err := h.handleDefault(ctx, log, event); err != nil {
			log.WithError(err).Error("Story relay failed")
			return events.APIGatewayProxyResponse{}, err
		}
		return wsResponse(http.StatusOK, "Message processed...: "+RouteDefault), nil
	default:
		log.WithError(ErrUnknownRoute).Warn("Rejected message")
		return wsResponse(http.StatusBadRequest, "Unknown route"), nil
	}
}

// requireConnection checks the fields every route needs to address the
// connection
func requireConnection(rc events.APIGatewayWebsocketProxyRequestContext) error {
	switch {
	case rc.ConnectionID == "":
		return missing("requestContext.connectionId")
	case rc.DomainName == "":
		return missing("requestContext.domainName")
	case rc.Stage == "":
		return missing("requestContext.stage")
	}
	return nil
}

func (h *StoryStreamHandler) handleDefault(ctx context.Context, log *logrus.Entry, event events.APIGatewayWebsocketProxyRequest) error {
	rc := event.RequestContext
	if event.Body == "" {
		return missing("body")
	}

	var story StoryRequest
	if err := json.Unmarshal([]byte(event.Body), &story); err != nil {
		return fmt.Errorf("parse request body: %w", err)
	}
	if err := validateStruct(&story); err != nil {
		return err
	}

	prompt := "Tell me a very short story about: " + story.StoryType
	log.WithFields(logrus.Fields{
		"model_id": h.model.ID(),
		"prompt":   prompt,
	}).Info("Starting story stream")

	reader, err := h.model.Stream(ctx, prompt)
	if err != nil {
		return err
	}
	src := bedrock.NewStreamSource(reader)
	defer src.Close()

	endpoint := "https://" + rc.DomainName + "/" + rc.Stage
	sink := bedrock.NewWebSocketSink(h.posters(endpoint), rc.ConnectionID)

	var stats relay.Stats
	err = relay.Run(ctx, src, sink, relay.WithCapacity(h.capacity), relay.WithStats(&stats))
	log.WithFields(logrus.Fields{
		"produced":  stats.Produced,
		"delivered": stats.Delivered,
	}).Info("Story stream finished")
	return err
}

func wsResponse(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Body: body}
}
