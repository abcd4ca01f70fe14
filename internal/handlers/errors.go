package handlers

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// ErrUnknownRoute is returned for WebSocket routes no handler is bound to
var ErrUnknownRoute = errors.New("unknown route")

// MissingFieldError reports a required event field that was absent
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

func missing(field string) error {
	return &MissingFieldError{Field: field}
}

// isAPIError checks if err is a service error with one of the given codes
func isAPIError(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}
