// Package logging configures the structured logger shared by every function.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/config"
)

// New builds a JSON logger from the log configuration.
// Unknown levels fall back to info.
func New(cfg config.LogConfig) *logrus.Logger {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput is New with an explicit writer, used by tests.
func NewWithOutput(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{
		DisableTimestamp: !cfg.Timestamps,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// ForInvocation returns an entry tagged with the request id and function ARN
// of the current invocation when ctx carries a Lambda context.
func ForInvocation(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	entry := logrus.NewEntry(logger)
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		entry = entry.WithFields(logrus.Fields{
			"aws_request_id": lc.AwsRequestID,
			"function_arn":   lc.InvokedFunctionArn,
		})
	}
	return entry
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
