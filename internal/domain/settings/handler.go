package settings

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthqueue/healthqueue/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – doctor, staff
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleStaff))
	readGroup.GET("/settings", h.GetSettings)

	// Write endpoints – doctor
	writeGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	writeGroup.PUT("/settings", h.UpdateSettings)
	writeGroup.POST("/settings/reset", h.ResetSettings)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{
		ID:    auth.UserIDFromContext(ctx),
		Email: auth.EmailFromContext(ctx),
		Role:  auth.PrimaryRole(ctx),
	}
}

func httpError(err error) error {
	if errors.Is(err, ErrInvalid) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) GetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Current())
}

// UpdateSettings accepts a partial document; omitted keys keep their current
// value.
func (h *Handler) UpdateSettings(c echo.Context) error {
	next := h.svc.Current()
	if err := c.Bind(&next); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	saved, err := h.svc.Update(c.Request().Context(), next, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) ResetSettings(c echo.Context) error {
	saved, err := h.svc.Reset(c.Request().Context(), actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}
