package functions

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"lambda-event-patterns/internal/config"
	"lambda-event-patterns/pkg/server"
)

var deployed = []string{
	"apigw-item-create", "apigw-item-get", "apigw-http-router", "alb-greeter",
	"apigw-sqs-send", "apigw-sns-publish", "apigw-eventbridge-put", "apigw-sfn-start",
	"apigw-upload-url", "apigw-ssm-parameter", "apigw-async-invoke", "apigw-bedrock-converse",
	"ddbstream-logger", "ddbstream-sfn", "eventbridge-consumer", "sqs-eventbridge-fanout",
	"sqs-batch-processor", "sns-sqs-processor", "sns-consumer", "s3-rekognition-labels",
	"s3-bedrock-tagger", "s3-object-archiver", "sfn-order-task", "sqs-sfn-callback",
	"appconfig-feature-flags", "websocket-authorizer", "websocket-bedrock-streaming",
	"url-bedrock-streaming",
}

func testContainer(t *testing.T) *server.Container {
	t.Helper()

	cfg := &config.Config{
		Environment: "test",
		AWS:         config.AWSConfig{Region: "us-east-1"},
		Resources: config.ResourceConfig{
			TableName:          "items",
			EventBusName:       "default",
			EventSource:        "com.example.tests",
			EventHandlerConfig: `{"eventHandlers":[{"eventNames":["INSERT"],"stateMachineConfig":{"stateMachineArn":"arn:aws:states:us-east-1:123:stateMachine:orders"}}]}`,
		},
		Bedrock: config.BedrockConfig{ModelID: "test-model", RelayBuffer: 32},
		JWT:     config.JWTConfig{Secret: "test-secret"},
		Storage: config.StorageConfig{Type: "mock", RetryMaxAttempts: 1},
		Batch:   config.BatchConfig{Concurrency: 2},
	}
	awsCfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
	}

	c, err := server.NewContainerWithAWS(cfg, awsCfg)
	if err != nil {
		t.Fatalf("Failed to create container: %v", err)
	}
	return c
}

func TestCatalog(t *testing.T) {
	all := All()
	if len(all) != len(deployed) {
		t.Errorf("Expected %d functions, got %d", len(deployed), len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Errorf("Expected functions ordered by name, got %s before %s", all[i-1].Name, all[i].Name)
		}
	}

	for _, name := range deployed {
		f, ok := Lookup(name)
		if !ok {
			t.Errorf("Expected %s to be registered", name)
			continue
		}
		if f.Streaming != (name == "url-bedrock-streaming") {
			t.Errorf("Unexpected streaming flag for %s", name)
		}
	}
}

func TestBuild(t *testing.T) {
	c := testContainer(t)
	ctx := context.Background()

	for _, f := range All() {
		if f.Name == "appconfig-feature-flags" {
			// loads its snapshot from AppConfig
			continue
		}
		t.Run(f.Name, func(t *testing.T) {
			handler, err := f.Build(ctx, c)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if handler == nil {
				t.Error("Expected handler")
			}
		})
	}
}

func TestBuildInvalidStreamRules(t *testing.T) {
	c := testContainer(t)
	c.Config.Resources.EventHandlerConfig = `{"eventHandlers":[{"conditions":[{"jsonPath":"$.NewImage[","value":1}]}]}`

	f, _ := Lookup("ddbstream-sfn")
	if _, err := f.Build(context.Background(), c); err == nil {
		t.Error("Expected error for invalid rules")
	}
}

func TestInitUnknownFunction(t *testing.T) {
	if _, err := Init(context.Background(), "nope"); err == nil {
		t.Error("Expected error for unknown function")
	}
}
