// Package functions binds every deployable function name to the handler it
// runs, so the per-function binaries and the local emulator build handlers
// the same way.
package functions

import (
	"context"
	"fmt"
	"sort"

	"github.com/gin-gonic/gin"

	"lambda-event-patterns/internal/bedrock"
	"lambda-event-patterns/internal/config"
	"lambda-event-patterns/internal/handlers"
	"lambda-event-patterns/pkg/lambda"
	"lambda-event-patterns/pkg/server"
)

// Builder returns a handler accepted by lambda.Start
type Builder func(ctx context.Context, c *server.Container) (interface{}, error)

// Function describes one deployable function
type Function struct {
	Name     string
	Trigger  string
	Required []string
	// Streaming functions answer with a streamed body and are served only
	// by a function URL in RESPONSE_STREAM mode.
	Streaming bool
	Build     Builder
}

var catalog = map[string]Function{}

func register(f Function) {
	if _, exists := catalog[f.Name]; exists {
		panic("duplicate function " + f.Name)
	}
	catalog[f.Name] = f
}

// Lookup returns the function registered under name
func Lookup(name string) (Function, bool) {
	f, ok := catalog[name]
	return f, ok
}

// All returns every function ordered by name
func All() []Function {
	all := make([]Function, 0, len(catalog))
	for _, f := range catalog {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Init bootstraps a container with the variables name requires and builds
// its handler. Entry points call it from init().
func Init(ctx context.Context, name string) (interface{}, error) {
	f, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}

	c, err := server.Bootstrap(ctx, f.Required...)
	if err != nil {
		return nil, err
	}
	return f.Build(ctx, c)
}

func apiGateway(h lambda.HandlerFunc) (interface{}, error) {
	return lambda.APIGatewayHandler(h), nil
}

func init() {
	register(Function{
		Name:     "apigw-item-create",
		Trigger:  "api-gateway",
		Required: []string{config.EnvTableName},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			h := handlers.NewItemHandler(c.DynamoDB, c.Config.Resources.TableName, c.Logger)
			return apiGateway(h.HandleCreate)
		},
	})
	register(Function{
		Name:     "apigw-item-get",
		Trigger:  "api-gateway",
		Required: []string{config.EnvTableName},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			h := handlers.NewItemHandler(c.DynamoDB, c.Config.Resources.TableName, c.Logger)
			return apiGateway(h.HandleGet)
		},
	})
	register(Function{
		Name:    "apigw-http-router",
		Trigger: "api-gateway-http",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			if c.Config.Environment == "production" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := handlers.NewHTTPRouter(&handlers.RouterConfig{
				Logger:  c.Logger,
				Service: "apigw-http-router",
			})
			return router.Handle, nil
		},
	})
	register(Function{
		Name:    "alb-greeter",
		Trigger: "alb",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return lambda.ALBHandler(handlers.NewGreeterHandler(c.Logger).HandleGreet), nil
		},
	})
	register(Function{
		Name:     "apigw-sqs-send",
		Trigger:  "api-gateway",
		Required: []string{config.EnvQueueURL},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			h := handlers.NewQueueHandler(c.SQS, c.Config.Resources.QueueURL, c.Logger)
			return apiGateway(h.HandleSend)
		},
	})
	register(Function{
		Name:     "apigw-sns-publish",
		Trigger:  "api-gateway",
		Required: []string{config.EnvTopicARN},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			h := handlers.NewTopicHandler(c.SNS, c.Config.Resources.TopicARN, c.Logger)
			return apiGateway(h.HandlePublish)
		},
	})
	register(Function{
		Name:     "apigw-eventbridge-put",
		Trigger:  "api-gateway",
		Required: []string{config.EnvEventBusName, config.EnvEventSource},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			res := c.Config.Resources
			h := handlers.NewEventBusHandler(c.EventBridge, res.EventBusName, res.EventSource, c.Logger)
			return apiGateway(h.HandlePut)
		},
	})
	register(Function{
		Name:     "apigw-sfn-start",
		Trigger:  "api-gateway",
		Required: []string{config.EnvStateMachineARN},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			h := handlers.NewExecutionHandler(c.StepFunctions, c.Config.Resources.StateMachineARN, c.Logger)
			return apiGateway(h.HandleStart)
		},
	})
	register(Function{
		Name:     "apigw-upload-url",
		Trigger:  "api-gateway",
		Required: []string{config.EnvBucketName},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			h := handlers.NewUploadHandler(c.Storage, c.Config.Resources.BucketName, c.Config.Storage.UploadURLExpiry, c.Logger)
			return apiGateway(h.HandleUploadURL)
		},
	})
	register(Function{
		Name:     "apigw-ssm-parameter",
		Trigger:  "api-gateway",
		Required: []string{config.EnvParameterName},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			h := handlers.NewParameterHandler(c.SSM, c.Config.Resources.ParameterName, c.Logger)
			return apiGateway(h.HandleGet)
		},
	})
	register(Function{
		Name:     "apigw-async-invoke",
		Trigger:  "api-gateway",
		Required: []string{config.EnvWorkerFunctionName},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			h := handlers.NewAsyncInvokeHandler(c.Lambda, c.Config.Resources.WorkerFunctionName, c.Logger)
			return apiGateway(h.HandleInvoke)
		},
	})
	register(Function{
		Name:    "apigw-bedrock-converse",
		Trigger: "api-gateway",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return apiGateway(handlers.NewConverseHandler(c.Bedrock, c.Logger).HandleConverse)
		},
	})

	registerStreams()
	registerQueues()
	registerObjects()
	registerWebSocket()
}

func registerStreams() {
	register(Function{
		Name:    "ddbstream-logger",
		Trigger: "dynamodb-stream",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewStreamLoggerHandler(c.Logger).Handle, nil
		},
	})
	register(Function{
		Name:     "ddbstream-sfn",
		Trigger:  "dynamodb-stream",
		Required: []string{config.EnvEventHandlerConfig},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			rules, err := handlers.ParseStreamRules(c.Config.Resources.EventHandlerConfig)
			if err != nil {
				return nil, err
			}
			return handlers.NewStreamExecutionHandler(c.StepFunctions, rules, c.Logger).Handle, nil
		},
	})
	register(Function{
		Name:    "eventbridge-consumer",
		Trigger: "eventbridge",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewEventConsumerHandler(c.Logger).Handle, nil
		},
	})
	register(Function{
		Name:    "sfn-order-task",
		Trigger: "step-functions",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewOrderTaskHandler(c.Logger).Handle, nil
		},
	})
	register(Function{
		Name:     "appconfig-feature-flags",
		Trigger:  "api-gateway",
		Required: []string{config.EnvAppConfigApp, config.EnvAppConfigEnv, config.EnvAppConfigProfile},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			snapshot, err := c.FeatureSnapshot(ctx)
			if err != nil {
				return nil, err
			}
			return apiGateway(handlers.NewFeatureFlagHandler(snapshot, c.Logger).HandleFlag)
		},
	})
}

func registerQueues() {
	register(Function{
		Name:     "sqs-eventbridge-fanout",
		Trigger:  "sqs",
		Required: []string{config.EnvEventBusName, config.EnvEventSource},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			res := c.Config.Resources
			h := handlers.NewFanoutHandler(c.EventBridge, res.EventBusName, res.EventSource, c.Config.Batch.Concurrency, c.Logger)
			return h.Handle, nil
		},
	})
	register(Function{
		Name:     "sqs-batch-processor",
		Trigger:  "sqs",
		Required: []string{config.EnvTableName},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			h := handlers.NewOrderBatchHandler(c.DynamoDB, c.Config.Resources.TableName, c.Config.Batch.Concurrency, c.Logger)
			return h.Handle, nil
		},
	})
	register(Function{
		Name:    "sns-sqs-processor",
		Trigger: "sqs",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewEnvelopeHandler(c.Config.Batch.Concurrency, c.Logger).Handle, nil
		},
	})
	register(Function{
		Name:    "sns-consumer",
		Trigger: "sns",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewNotificationHandler(c.Logger).Handle, nil
		},
	})
	register(Function{
		Name:    "sqs-sfn-callback",
		Trigger: "sqs",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewCallbackHandler(c.StepFunctions, c.Config.Batch.Concurrency, c.Logger).Handle, nil
		},
	})
}

func registerObjects() {
	register(Function{
		Name:     "s3-rekognition-labels",
		Trigger:  "s3",
		Required: []string{config.EnvTableName},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewLabelHandler(c.Rekognition, c.DynamoDB, c.Config.Resources.TableName, c.Logger).Handle, nil
		},
	})
	register(Function{
		Name:    "s3-bedrock-tagger",
		Trigger: "s3",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewTaggerHandler(c.Bedrock, c.Storage, c.Logger).Handle, nil
		},
	})
	register(Function{
		Name:     "s3-object-archiver",
		Trigger:  "s3",
		Required: []string{config.EnvDestinationBucket},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewArchiveHandler(c.Storage, c.Config.Resources.DestinationBucket, c.Logger).Handle, nil
		},
	})
}

func registerWebSocket() {
	register(Function{
		Name:     "websocket-authorizer",
		Trigger:  "api-gateway-websocket",
		Required: []string{config.EnvJWTSecret},
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewAuthorizerHandler(c.AuthService(), c.Logger).Handle, nil
		},
	})
	register(Function{
		Name:    "websocket-bedrock-streaming",
		Trigger: "api-gateway-websocket",
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			posters := func(endpoint string) bedrock.ConnectionPoster {
				return c.APIGatewayManagement(endpoint)
			}
			return handlers.NewStoryStreamHandler(c.Bedrock, posters, c.Config.Bedrock.RelayBuffer, c.Logger).Handle, nil
		},
	})
	register(Function{
		Name:      "url-bedrock-streaming",
		Trigger:   "function-url",
		Streaming: true,
		Build: func(ctx context.Context, c *server.Container) (interface{}, error) {
			return handlers.NewURLStreamHandler(c.Bedrock, c.Config.Bedrock.RelayBuffer, c.Logger).Handle, nil
		},
	})
}
