package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment variable names read by the entry points
const (
	EnvTableName          = "TABLE_NAME"
	EnvQueueURL           = "QUEUE_URL"
	EnvTopicARN           = "TOPIC_ARN"
	EnvEventBusName       = "EVENT_BUS_NAME"
	EnvEventSource        = "EVENT_SOURCE"
	EnvStateMachineARN    = "STATE_MACHINE_ARN"
	EnvBucketName         = "BUCKET_NAME"
	EnvDestinationBucket  = "DESTINATION_BUCKET"
	EnvParameterName      = "PARAMETER_NAME"
	EnvWorkerFunctionName = "WORKER_FUNCTION_NAME"
	EnvEventHandlerConfig = "EVENT_HANDLER_CONFIG"
	EnvModelID            = "MODEL_ID"
	EnvAppConfigApp       = "APPCONFIG_APPLICATION"
	EnvAppConfigEnv       = "APPCONFIG_ENVIRONMENT"
	EnvAppConfigProfile   = "APPCONFIG_PROFILE"
	EnvJWTSecret          = "JWT_SECRET"
)

// Config holds all configuration for the functions
type Config struct {
	Environment string
	Log         LogConfig
	AWS         AWSConfig
	Resources   ResourceConfig
	Bedrock     BedrockConfig
	AppConfig   AppConfigConfig
	JWT         JWTConfig
	Storage     StorageConfig
	Batch       BatchConfig
	Local       LocalConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string
	Timestamps bool
}

// AWSConfig holds SDK configuration
type AWSConfig struct {
	Region   string
	Endpoint string // optional override for local emulators
}

// ResourceConfig holds the names of the resources the functions talk to
type ResourceConfig struct {
	TableName          string
	QueueURL           string
	TopicARN           string
	EventBusName       string
	EventSource        string
	StateMachineARN    string
	BucketName         string
	DestinationBucket  string
	ParameterName      string
	WorkerFunctionName string
	EventHandlerConfig string
}

// BedrockConfig holds model invocation settings
type BedrockConfig struct {
	ModelID     string
	MaxTokens   int
	Temperature float64
	RelayBuffer int
}

// AppConfigConfig identifies the AppConfig profile to load at start-up
type AppConfigConfig struct {
	Application string
	Environment string
	Profile     string
}

// JWTConfig holds token validation settings for the WebSocket authorizer
type JWTConfig struct {
	Secret string
	Issuer string
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Type             string // "s3" or "mock"
	UploadURLExpiry  time.Duration
	RetryMaxAttempts int
}

// BatchConfig holds batch fan-out settings
type BatchConfig struct {
	Concurrency int
}

// LocalConfig holds settings for the local invoke emulator
type LocalConfig struct {
	Port      string
	RateLimit float64
	RateBurst int
}

// MissingEnvError lists required environment variables that are not set
type MissingEnvError struct {
	Names []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Names, ", "))
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()
	setDefaults()

	cfg := &Config{
		Environment: viper.GetString("ENVIRONMENT"),
		Log: LogConfig{
			Level:      viper.GetString("LOG_LEVEL"),
			Timestamps: viper.GetBool("LOG_TIMESTAMPS"),
		},
		AWS: AWSConfig{
			Region:   viper.GetString("AWS_REGION"),
			Endpoint: viper.GetString("AWS_ENDPOINT_URL"),
		},
		Resources: ResourceConfig{
			TableName:          viper.GetString(EnvTableName),
			QueueURL:           viper.GetString(EnvQueueURL),
			TopicARN:           viper.GetString(EnvTopicARN),
			EventBusName:       viper.GetString(EnvEventBusName),
			EventSource:        viper.GetString(EnvEventSource),
			StateMachineARN:    viper.GetString(EnvStateMachineARN),
			BucketName:         viper.GetString(EnvBucketName),
			DestinationBucket:  viper.GetString(EnvDestinationBucket),
			ParameterName:      viper.GetString(EnvParameterName),
			WorkerFunctionName: viper.GetString(EnvWorkerFunctionName),
			EventHandlerConfig: viper.GetString(EnvEventHandlerConfig),
		},
		Bedrock: BedrockConfig{
			ModelID:     viper.GetString(EnvModelID),
			MaxTokens:   viper.GetInt("MAX_TOKENS"),
			Temperature: viper.GetFloat64("TEMPERATURE"),
			RelayBuffer: viper.GetInt("RELAY_BUFFER"),
		},
		AppConfig: AppConfigConfig{
			Application: viper.GetString(EnvAppConfigApp),
			Environment: viper.GetString(EnvAppConfigEnv),
			Profile:     viper.GetString(EnvAppConfigProfile),
		},
		JWT: JWTConfig{
			Secret: viper.GetString(EnvJWTSecret),
			Issuer: viper.GetString("JWT_ISSUER"),
		},
		Storage: StorageConfig{
			Type:             viper.GetString("STORAGE_TYPE"),
			UploadURLExpiry:  viper.GetDuration("UPLOAD_URL_EXPIRY"),
			RetryMaxAttempts: viper.GetInt("RETRY_MAX_ATTEMPTS"),
		},
		Batch: BatchConfig{
			Concurrency: viper.GetInt("BATCH_CONCURRENCY"),
		},
		Local: LocalConfig{
			Port:      viper.GetString("LOCAL_PORT"),
			RateLimit: viper.GetFloat64("LOCAL_RATE_LIMIT"),
			RateBurst: viper.GetInt("LOCAL_RATE_BURST"),
		},
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_TIMESTAMPS", false)
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault(EnvModelID, "anthropic.claude-3-haiku-20240307-v1:0")
	viper.SetDefault("MAX_TOKENS", 512)
	viper.SetDefault("TEMPERATURE", 0.5)
	viper.SetDefault("RELAY_BUFFER", 32)
	viper.SetDefault("JWT_ISSUER", "")
	viper.SetDefault("STORAGE_TYPE", "s3")
	viper.SetDefault("UPLOAD_URL_EXPIRY", "15m")
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	viper.SetDefault("BATCH_CONCURRENCY", 10)
	viper.SetDefault("LOCAL_PORT", "9001")
	viper.SetDefault("LOCAL_RATE_LIMIT", 20)
	viper.SetDefault("LOCAL_RATE_BURST", 40)
}

// Require returns a MissingEnvError naming every variable in names that is unset or empty
func Require(names ...string) error {
	viper.AutomaticEnv()

	var missing []string
	for _, name := range names {
		if strings.TrimSpace(viper.GetString(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)
	return &MissingEnvError{Names: missing}
}

// GetEnv gets an environment variable with a fallback value
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvAsInt gets an environment variable as integer with a fallback value
func GetEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}
