package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthqueue/healthqueue/internal/platform/auth"
	"github.com/healthqueue/healthqueue/internal/platform/hipaa"
)

// EventLogger persists audit events. *hipaa.AuditLogger satisfies it.
type EventLogger interface {
	LogEvent(ctx context.Context, event *hipaa.AuditEvent) error
}

// AuditConfig wires the audit middleware.
type AuditConfig struct {
	Events EventLogger
	// Enabled is consulted per request so the audit toggle applies live.
	Enabled func() bool
}

// Audit records a data_modification event for every mutating /api/v1 request,
// or access_denied when the request was refused. Reads only reach the
// structured log.
func Audit(logger zerolog.Logger, cfg AuditConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			rid, _ := c.Get("request_id").(string)
			status := statusOf(c, err)
			userID := auth.UserIDFromContext(ctx)
			resourceType, resourceID := resourceFromPath(path)

			logger.Info().
				Str("type", "audit").
				Str("request_id", rid).
				Str("user_id", userID).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("resource_type", resourceType).
				Str("resource_id", resourceID).
				Str("method", req.Method).
				Str("path", path).
				Int("status", status).
				Msg("api_access")

			if !isMutation(req.Method) || cfg.Events == nil || (cfg.Enabled != nil && !cfg.Enabled()) {
				return err
			}

			granted := status != http.StatusUnauthorized && status != http.StatusForbidden
			eventType := hipaa.EventDataModification
			if !granted {
				eventType = hipaa.EventAccessDenied
			}
			event := &hipaa.AuditEvent{
				EventType:     eventType,
				Action:        req.Method + " " + c.Path(),
				ResourceType:  resourceType,
				ResourceID:    resourceID,
				ActorID:       userID,
				ActorEmail:    auth.EmailFromContext(ctx),
				ActorRole:     auth.PrimaryRole(ctx),
				AccessGranted: granted,
				Details: map[string]any{
					"status":     status,
					"request_id": rid,
					"path":       path,
				},
				IPAddress: c.RealIP(),
				UserAgent: req.UserAgent(),
			}
			if recErr := cfg.Events.LogEvent(ctx, event); recErr != nil {
				logger.Error().Err(recErr).Str("request_id", rid).Msg("failed to record audit event")
			}
			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// statusOf returns the status the client will see for err.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// resourceFromPath splits /api/v1/<type>/<id>/... into its type and, when the
// second segment is a UUID, its id.
func resourceFromPath(path string) (string, string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	resourceType := "unknown"
	if len(segments) > 0 && segments[0] != "" {
		resourceType = segments[0]
	}
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			return resourceType, segments[1]
		}
	}
	return resourceType, ""
}
