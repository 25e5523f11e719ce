package hipaa

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthqueue/healthqueue/internal/platform/auth"
)

// RetentionHandler exposes retention policies and a manual purge.
type RetentionHandler struct {
	service *RetentionService
	now     func() time.Time
}

func NewRetentionHandler(service *RetentionService) *RetentionHandler {
	return &RetentionHandler{service: service, now: time.Now}
}

// RegisterRoutes registers doctor-only retention routes on the API group.
func (h *RetentionHandler) RegisterRoutes(g *echo.Group) {
	doctor := g.Group("/retention-policies", auth.RequireRole(auth.RoleDoctor))
	doctor.GET("", h.HandleListPolicies)
	doctor.GET("/:resourceType", h.HandleGetPolicy)
	doctor.POST("/purge", h.HandlePurge)
}

// HandleListPolicies handles GET /api/v1/retention-policies.
func (h *RetentionHandler) HandleListPolicies(c echo.Context) error {
	policies := h.service.GetAllPolicies()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"policies": policies,
		"total":    len(policies),
	})
}

// HandleGetPolicy handles GET /api/v1/retention-policies/:resourceType.
func (h *RetentionHandler) HandleGetPolicy(c echo.Context) error {
	resourceType := c.Param("resourceType")
	policy := h.service.GetPolicy(resourceType)
	if policy == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no retention policy found for resource type: "+resourceType)
	}
	return c.JSON(http.StatusOK, policy)
}

// HandlePurge handles POST /api/v1/retention-policies/purge.
func (h *RetentionHandler) HandlePurge(c echo.Context) error {
	now := h.now().UTC()
	counts, err := h.service.RunPurge(c.Request().Context(), now)
	body := map[string]interface{}{
		"purged": counts,
		"as_of":  now,
	}
	if err != nil {
		body["error"] = err.Error()
		return c.JSON(http.StatusInternalServerError, body)
	}
	return c.JSON(http.StatusOK, body)
}
