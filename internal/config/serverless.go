package config

import (
	"os"
)

// ServerlessConfig describes the runtime the process is executing in
type ServerlessConfig struct {
	IsLambda     bool
	FunctionName string
	Version      string
	MemoryMB     int
	Region       string
	Stage        string
}

// GetServerlessConfig reads the variables the Lambda runtime injects
func GetServerlessConfig() *ServerlessConfig {
	return &ServerlessConfig{
		IsLambda:     isRunningInLambda(),
		FunctionName: os.Getenv("AWS_LAMBDA_FUNCTION_NAME"),
		Version:      os.Getenv("AWS_LAMBDA_FUNCTION_VERSION"),
		MemoryMB:     GetEnvAsInt("AWS_LAMBDA_FUNCTION_MEMORY_SIZE", 0),
		Region:       GetEnv("AWS_REGION", "us-east-1"),
		Stage:        GetEnv("STAGE", "dev"),
	}
}

// isRunningInLambda detects if the application is running in AWS Lambda
func isRunningInLambda() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// IsServerlessMode returns true if running in serverless mode
func IsServerlessMode() bool {
	return isRunningInLambda()
}

// GetDeploymentMode returns the current deployment mode
func GetDeploymentMode() string {
	if IsServerlessMode() {
		return "lambda"
	}
	return "local"
}
