package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda/messages"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lambda-event-patterns/internal/config"
	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/internal/middleware"
	"lambda-event-patterns/pkg/lambda"
)

const (
	invokePath = "/2015-03-31/functions/:name/invocations"

	// synchronous invocation payload limit of the Lambda service
	maxPayloadSize = 6 << 20

	invocationTypeHeader = "X-Amz-Invocation-Type"
	functionErrorHeader  = "X-Amz-Function-Error"
)

func newServeCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Lambda Invoke API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if port != "" {
				cfg.Local.Port = port
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "port to listen on (defaults to LOCAL_PORT)")
	return cmd
}

func serve(cfg *config.Config) error {
	logger := logging.New(cfg.Log)

	functions := newCatalog(cfg)
	defer functions.Close()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(functions.Registry(), cfg, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Local.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	logger.WithField("port", cfg.Local.Port).Info("Local emulator started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down local emulator...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Local emulator exited")
	return nil
}

func newRouter(registry *lambda.Registry, cfg *config.Config, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.RateLimiter(cfg.Local.RateLimit, cfg.Local.RateBurst, logger))
	router.Use(middleware.RequestSizeLimit(maxPayloadSize))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"functions": len(registry.Names()),
			"timestamp": time.Now().UTC(),
		})
	})

	router.GET("/functions", listFunctions(registry))
	router.POST(invokePath, invokeFunction(registry, cfg.AWS.Region, logger))

	return router
}

// FunctionStatus is one entry of GET /functions
type FunctionStatus struct {
	Name        string     `json:"name"`
	Initialized bool       `json:"initialized"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

func listFunctions(registry *lambda.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := registry.Names()
		statuses := make([]FunctionStatus, 0, len(names))
		for _, name := range names {
			status := FunctionStatus{Name: name, Initialized: registry.Initialized(name)}
			if used := registry.LastUsed(name); !used.IsZero() {
				status.LastUsed = &used
			}
			statuses = append(statuses, status)
		}
		c.JSON(http.StatusOK, gin.H{"functions": statuses})
	}
}

func functionARN(region, name string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:000000000000:function:%s", region, name)
}

func invokeFunction(registry *lambda.Registry, region string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")

		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, middleware.ErrorResponse{
				Error:     "Request too large",
				Message:   err.Error(),
				RequestID: c.GetString(middleware.RequestIDKey),
			})
			return
		}
		if len(bytes.TrimSpace(payload)) == 0 {
			payload = []byte("{}")
		}

		lc := &lambdacontext.LambdaContext{
			AwsRequestID:       c.GetString(middleware.RequestIDKey),
			InvokedFunctionArn: functionARN(region, name),
		}

		switch c.GetHeader(invocationTypeHeader) {
		case "DryRun":
			if _, err := registry.Handler(lambdacontext.NewContext(c.Request.Context(), lc), name); err != nil {
				writeInvokeError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
			return
		case "Event":
			if !contains(registry.Names(), name) {
				writeInvokeError(c, fmt.Errorf("%w: %s", lambda.ErrFunctionNotFound, name))
				return
			}
			go func() {
				ctx := lambdacontext.NewContext(context.Background(), lc)
				if _, err := registry.Invoke(ctx, name, payload); err != nil {
					logger.WithError(err).WithFields(logrus.Fields{
						"function":   name,
						"request_id": lc.AwsRequestID,
					}).Error("Asynchronous invocation failed")
				}
			}()
			c.Status(http.StatusAccepted)
			return
		}

		out, err := registry.Invoke(lambdacontext.NewContext(c.Request.Context(), lc), name, payload)
		if err != nil {
			writeInvokeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", out)
	}
}

// writeInvokeError answers the way the Invoke API does: an unknown function
// is a 404, anything raised by the function is a 200 flagged by the
// function error header
func writeInvokeError(c *gin.Context, err error) {
	if errors.Is(err, lambda.ErrFunctionNotFound) {
		c.JSON(http.StatusNotFound, messages.InvokeResponse_Error{
			Message: err.Error(),
			Type:    "ResourceNotFoundException",
		})
		return
	}

	_ = c.Error(err)
	c.Header(functionErrorHeader, "Unhandled")
	c.JSON(http.StatusOK, messages.InvokeResponse_Error{
		Message: err.Error(),
		Type:    errorType(err),
	})
}

func errorType(err error) string {
	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "Error"
	}
	return t.Name()
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
