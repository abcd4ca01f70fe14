package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"lambda-event-patterns/internal/appconfig"
	"lambda-event-patterns/internal/logging"
	"lambda-event-patterns/pkg/lambda"
)

// FeatureFlagHandler answers flag lookups from a configuration snapshot
// loaded once at start-up
type FeatureFlagHandler struct {
	snapshot *appconfig.Snapshot
	logger   *logrus.Logger
}

// NewFeatureFlagHandler creates a new feature flag handler
func NewFeatureFlagHandler(snapshot *appconfig.Snapshot, logger *logrus.Logger) *FeatureFlagHandler {
	return &FeatureFlagHandler{snapshot: snapshot, logger: logger}
}

// HandleFlag returns the flag named by the name path parameter, or every
// flag when no name is given
func (h *FeatureFlagHandler) HandleFlag(ctx context.Context, req *lambda.Request) (*lambda.Response, error) {
	log := logging.ForInvocation(ctx, h.logger)

	name := req.PathParams["name"]
	if name == "" {
		name = req.QueryParams["name"]
	}

	if name == "" {
		return respond(http.StatusOK, map[string]interface{}{
			"profile": h.snapshot.Profile,
			"flags":   h.snapshot.Flags(),
		})
	}

	flag, ok := h.snapshot.Flag(name)
	if !ok {
		log.WithField("flag", name).Info("Unknown feature flag")
		return respondError(req, notFound("Flag not found", "no feature flag named "+name))
	}

	log.WithFields(logrus.Fields{
		"flag":    flag.Name,
		"enabled": flag.Enabled,
	}).Debug("Feature flag read")
	return respond(http.StatusOK, flag)
}
