package queue

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthqueue/healthqueue/internal/platform/auth"
)

type Handler struct {
	svc    *Service
	engine *Engine
}

func NewHandler(svc *Service, engine *Engine) *Handler {
	return &Handler{svc: svc, engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – doctor, staff
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleStaff))
	readGroup.GET("/queue", h.GetBoard)
	readGroup.GET("/queue/stats", h.GetStats)
	readGroup.GET("/queue/history", h.GetHistory)
	readGroup.GET("/queue/:id", h.GetEntry)

	// Write endpoints – doctor, staff; priority assignment is checked per actor
	writeGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleStaff))
	writeGroup.POST("/queue", h.Enqueue)
	writeGroup.POST("/queue/:id/call", h.Call)
	writeGroup.POST("/queue/:id/serve", h.Serve)
	writeGroup.POST("/queue/:id/complete", h.Complete)
	writeGroup.PUT("/queue/:id/status", h.SetStatus)
	writeGroup.DELETE("/queue/:id", h.Remove)
	writeGroup.POST("/queue/refresh", h.Refresh)

	// Priority override – doctor only
	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.POST("/queue/:id/priority", h.OverridePriority)
}

// RegisterPublicRoutes mounts the unauthenticated display endpoints.
func (h *Handler) RegisterPublicRoutes(e *echo.Echo) {
	e.GET("/display/board", h.GetDisplay)
	e.GET("/health/engine", h.GetEngineHealth)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{
		ID:    auth.UserIDFromContext(ctx),
		Email: auth.EmailFromContext(ctx),
		Role:  auth.PrimaryRole(ctx),
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// httpError maps queue errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrEntryNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPriorityNotAllowed):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrJustificationRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// -- Board --

type boardResponse struct {
	*Board
	Stats  Stats        `json:"stats"`
	Health EngineHealth `json:"health"`
}

func (h *Handler) GetBoard(c echo.Context) error {
	board, ok := h.engine.Board()
	if !ok {
		var err error
		board, err = h.engine.Refresh(c.Request().Context())
		if err != nil && board == nil {
			return httpError(err)
		}
	}
	return c.JSON(http.StatusOK, boardResponse{Board: board, Stats: StatsOf(board), Health: h.engine.Health()})
}

func (h *Handler) Refresh(c echo.Context) error {
	board, err := h.engine.Refresh(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, boardResponse{Board: board, Stats: StatsOf(board), Health: h.engine.Health()})
}

// GetDisplay always answers with a board body. A failed refresh after the
// first load only flags the board stale.
func (h *Handler) GetDisplay(c echo.Context) error {
	if !h.engine.Health().Loaded {
		return c.JSON(http.StatusServiceUnavailable, h.engine.Display())
	}
	return c.JSON(http.StatusOK, h.engine.Display())
}

func (h *Handler) GetEngineHealth(c echo.Context) error {
	health := h.engine.Health()
	if !health.Loaded || health.Stale {
		return c.JSON(http.StatusServiceUnavailable, health)
	}
	return c.JSON(http.StatusOK, health)
}

// -- Reads --

func (h *Handler) GetStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetHistory(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	items, err := h.svc.History(c.Request().Context(), limit)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Entry{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	entry, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// -- Writes --

type enqueueBody struct {
	PatientID string `json:"patient_id"`
	Priority  string `json:"priority"`
}

func (h *Handler) Enqueue(c echo.Context) error {
	var body enqueueBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pid, err := uuid.Parse(body.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	req := EnqueueRequest{PatientID: pid}
	if body.Priority != "" {
		p, err := ParsePriority(body.Priority)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		req.Priority = &p
	}

	res, err := h.svc.Enqueue(c.Request().Context(), req, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) transition(c echo.Context, action Action) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	entry, err := h.svc.Transition(c.Request().Context(), id, action, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Call(c echo.Context) error     { return h.transition(c, ActionCall) }
func (h *Handler) Serve(c echo.Context) error    { return h.transition(c, ActionServe) }
func (h *Handler) Complete(c echo.Context) error { return h.transition(c, ActionComplete) }

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := ParseStatus(body.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.svc.SetStatus(c.Request().Context(), id, to, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

type overrideBody struct {
	Priority      string `json:"priority"`
	Justification string `json:"justification"`
}

func (h *Handler) OverridePriority(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body overrideBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := ParsePriority(body.Priority)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.svc.OverridePriority(c.Request().Context(), id, to, body.Justification, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Remove(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Remove(c.Request().Context(), id, actorFrom(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
