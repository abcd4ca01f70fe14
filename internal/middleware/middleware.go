// Package middleware holds the gin middleware shared by the HTTP router
// function and the local emulator, and the JWT service used by the
// WebSocket authorizer.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// CORS middleware for handling Cross-Origin Resource Sharing
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, "+RequestIDHeader)
		c.Header("Access-Control-Expose-Headers", RequestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// ErrorHandler middleware for centralized error handling
func ErrorHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		logger.WithFields(logrus.Fields{
			"request_id": c.GetString(RequestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"error":      err.Error(),
		}).Error("Request error")

		response := ErrorResponse{RequestID: c.GetString(RequestIDKey)}

		switch err.Type {
		case gin.ErrorTypeBind:
			response.Error = "Invalid request format"
			response.Message = err.Error()
			if validationErrors, ok := err.Err.(validator.ValidationErrors); ok {
				response.Error = "Validation failed"
				response.Message = "Request validation failed"
				response.ValidationErrors = FormatValidationErrors(validationErrors)
			}
			c.JSON(http.StatusBadRequest, response)
		case gin.ErrorTypePublic:
			response.Error = "Request failed"
			response.Message = err.Error()
			c.JSON(http.StatusBadRequest, response)
		default:
			response.Error = "Internal server error"
			response.Message = "An internal error occurred"
			c.JSON(http.StatusInternalServerError, response)
		}
	}
}
