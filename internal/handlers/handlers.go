// Package handlers contains one adapter per event source pattern. Each
// adapter validates its trigger payload, performs one or two SDK calls
// through a narrow client interface and maps the outcome to the response
// shape of its trigger.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"lambda-event-patterns/internal/middleware"
	"lambda-event-patterns/pkg/lambda"
)

var validate = validator.New()

// RequestError is a client error answered with a 4xx status
type RequestError struct {
	Status   int
	Response middleware.ErrorResponse
}

func (e *RequestError) Error() string {
	if e.Response.Message != "" {
		return e.Response.Error + ": " + e.Response.Message
	}
	return e.Response.Error
}

func badRequest(title, message string) *RequestError {
	return &RequestError{
		Status:   http.StatusBadRequest,
		Response: middleware.ErrorResponse{Error: title, Message: message},
	}
}

func notFound(title, message string) *RequestError {
	return &RequestError{
		Status:   http.StatusNotFound,
		Response: middleware.ErrorResponse{Error: title, Message: message},
	}
}

// decodeJSON decodes a request body into v and validates its struct tags
func decodeJSON(body []byte, v interface{}) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return badRequest("Invalid request body", "request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest("Invalid request body", err.Error())
	}
	return validateStruct(v)
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		reqErr := badRequest("Validation failed", "Request validation failed")
		reqErr.Response.ValidationErrors = middleware.FormatValidationErrors(validationErrors)
		return reqErr
	}
	return badRequest("Validation failed", err.Error())
}

// respond writes body as JSON with the given status
func respond(status int, body interface{}) (*lambda.Response, error) {
	return lambda.JSON(status, body)
}

// respondError answers request errors with their status. Anything else is
// returned as the invocation error.
func respondError(req *lambda.Request, err error) (*lambda.Response, error) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		resp := reqErr.Response
		resp.RequestID = req.RequestID
		return lambda.JSON(reqErr.Status, resp)
	}
	return nil, err
}
