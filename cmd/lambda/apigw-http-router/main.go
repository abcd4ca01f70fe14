package main

import (
	"context"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	"lambda-event-patterns/internal/functions"
)

var handler interface{}

func init() {
	var err error
	handler, err = functions.Init(context.Background(), "apigw-http-router")
	if err != nil {
		panic("Failed to initialize function: " + err.Error())
	}
}

func main() {
	awslambda.Start(handler)
}
