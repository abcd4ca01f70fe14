package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/middleware"
)

// RouterConfig holds configuration for setting up routes
type RouterConfig struct {
	Logger  *logrus.Logger
	Service string
}

// EchoRequest is the body accepted by POST /echo
type EchoRequest struct {
	Message string `json:"message" binding:"required,max=1000"`
}

// SetupRoutes configures the HTTP API routes
func SetupRoutes(router *gin.Engine, config *RouterConfig) {
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger(config.Logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.ErrorHandler(config.Logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   config.Service,
			"timestamp": time.Now().UTC(),
		})
	})

	router.GET("/hello/:name", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Hello, " + c.Param("name") + "!"})
	})

	router.POST("/echo", func(c *gin.Context) {
		var req EchoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypeBind)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":    req.Message,
			"request_id": c.GetString(middleware.RequestIDKey),
		})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, middleware.ErrorResponse{
			Error:     "Not found",
			Message:   "no route for " + c.Request.Method + " " + c.Request.URL.Path,
			RequestID: c.GetString(middleware.RequestIDKey),
		})
	})
}

// HTTPRouter serves the gin routes behind an HTTP API (payload v2)
type HTTPRouter struct {
	adapter *httpadapter.HandlerAdapterV2
}

// NewHTTPRouter builds the engine and wraps it for API Gateway
func NewHTTPRouter(config *RouterConfig) *HTTPRouter {
	router := gin.New()
	SetupRoutes(router, config)
	return &HTTPRouter{adapter: httpadapter.NewV2(router)}
}

// Handle proxies one HTTP API event through the router
func (r *HTTPRouter) Handle(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return r.adapter.ProxyWithContext(ctx, event)
}
