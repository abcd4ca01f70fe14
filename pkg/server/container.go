package server

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/appconfigdata"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/appconfig"
	"lambda-event-patterns/internal/bedrock"
	"lambda-event-patterns/internal/config"
	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/internal/middleware"
	"lambda-event-patterns/internal/storage"
)

// Container holds all dependencies of a function
type Container struct {
	Config *config.Config
	Logger *logrus.Logger
	AWS    aws.Config

	DynamoDB      *dynamodb.Client
	SQS           *sqs.Client
	SNS           *sns.Client
	EventBridge   *eventbridge.Client
	StepFunctions *sfn.Client
	SSM           *ssm.Client
	Lambda        *lambdasvc.Client
	Rekognition   *rekognition.Client
	AppConfigData *appconfigdata.Client
	Bedrock       *bedrock.Model
	Storage       storage.ObjectStorage
}

// Bootstrap loads configuration, checks that every variable in required is
// set and builds the container. Entry points call it from init().
func Bootstrap(ctx context.Context, required ...string) (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.Require(required...); err != nil {
		return nil, err
	}
	return NewContainer(ctx, cfg)
}

// NewContainer resolves AWS credentials and region, then builds the container
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return NewContainerWithAWS(cfg, awsCfg)
}

// NewContainerWithAWS builds the container from an already resolved AWS
// configuration. Creating clients does not contact AWS.
func NewContainerWithAWS(cfg *config.Config, awsCfg aws.Config) (*Container, error) {
	if cfg.AWS.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
	}

	s3Client := s3.NewFromConfig(awsCfg, s3Options(cfg))

	store, err := newStorage(cfg.Storage, s3Client)
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Log)
	runtime := config.GetServerlessConfig()
	logger.WithFields(logrus.Fields{
		"deployment_mode": config.GetDeploymentMode(),
		"function":        runtime.FunctionName,
		"memory_mb":       runtime.MemoryMB,
		"region":          awsCfg.Region,
		"storage":         cfg.Storage.Type,
	}).Debug("Container initialized")

	return &Container{
		Config:        cfg,
		Logger:        logger,
		AWS:           awsCfg,
		DynamoDB:      dynamodb.NewFromConfig(awsCfg),
		SQS:           sqs.NewFromConfig(awsCfg),
		SNS:           sns.NewFromConfig(awsCfg),
		EventBridge:   eventbridge.NewFromConfig(awsCfg),
		StepFunctions: sfn.NewFromConfig(awsCfg),
		SSM:           ssm.NewFromConfig(awsCfg),
		Lambda:        lambdasvc.NewFromConfig(awsCfg),
		Rekognition:   rekognition.NewFromConfig(awsCfg),
		AppConfigData: appconfigdata.NewFromConfig(awsCfg),
		Bedrock:       bedrock.NewModel(bedrockruntime.NewFromConfig(awsCfg), cfg.Bedrock),
		Storage:       store,
	}, nil
}

// s3Options configures the client behind object storage. Retries belong to
// storage.RetryableObjectStorage, so the client makes a single attempt.
func s3Options(cfg *config.Config) func(*s3.Options) {
	return func(o *s3.Options) {
		// emulators such as LocalStack serve buckets by path
		o.UsePathStyle = cfg.AWS.Endpoint != ""
		o.RetryMaxAttempts = 1
	}
}

func newStorage(cfg config.StorageConfig, client *s3.Client) (storage.ObjectStorage, error) {
	retry := storage.DefaultRetryConfig().WithMaxAttempts(cfg.RetryMaxAttempts)
	store, err := storage.NewFactory(retry).Create(cfg.Type, storage.Backends{
		S3:        client,
		Presigner: s3.NewPresignClient(client),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	return store, nil
}

// APIGatewayManagement returns a management client for one WebSocket API
// stage, e.g. https://abc123.execute-api.us-east-1.amazonaws.com/prod
func (c *Container) APIGatewayManagement(endpoint string) *apigatewaymanagementapi.Client {
	return apigatewaymanagementapi.NewFromConfig(c.AWS, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
}

// AuthService returns the token service configured by JWT_SECRET
func (c *Container) AuthService() *middleware.AuthService {
	return middleware.NewAuthService(middleware.AuthConfig{
		JWTSecret: c.Config.JWT.Secret,
		Issuer:    c.Config.JWT.Issuer,
	})
}

// FeatureSnapshot loads the configured AppConfig profile once
func (c *Container) FeatureSnapshot(ctx context.Context) (*appconfig.Snapshot, error) {
	return appconfig.Load(ctx, c.AppConfigData, appconfig.Identifiers{
		Application: c.Config.AppConfig.Application,
		Environment: c.Config.AppConfig.Environment,
		Profile:     c.Config.AppConfig.Profile,
	})
}

// Close cleans up all resources
func (c *Container) Close() error {
	if c.Storage != nil {
		if err := c.Storage.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	return nil
}
