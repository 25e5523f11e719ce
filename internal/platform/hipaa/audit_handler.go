package hipaa

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthqueue/healthqueue/internal/platform/auth"
	"github.com/healthqueue/healthqueue/pkg/pagination"
)

// AuditHandler serves the audit trail to doctors.
type AuditHandler struct {
	audit *AuditLogger
}

func NewAuditHandler(audit *AuditLogger) *AuditHandler {
	return &AuditHandler{audit: audit}
}

func (h *AuditHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleDoctor))
	g.GET("/audit-logs", h.HandleSearch)
	g.GET("/audit-logs/export", h.HandleExport)
}

// parseFilter extracts an AuditFilter from query parameters. from and to are
// RFC 3339 timestamps.
func parseFilter(c echo.Context) (AuditFilter, error) {
	f := AuditFilter{
		EventType:    c.QueryParam("event_type"),
		ActorID:      c.QueryParam("actor_id"),
		ResourceType: c.QueryParam("resource_type"),
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := c.QueryParam(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: expected RFC 3339", p.name))
		}
		*p.dst = &t
	}
	if v := c.QueryParam("access_granted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid access_granted")
		}
		f.AccessGranted = &b
	}
	return f, nil
}

// HandleSearch handles GET /api/v1/audit-logs.
func (h *AuditHandler) HandleSearch(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	events, total, err := h.audit.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if events == nil {
		events = []*AuditEvent{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg.Limit, pg.Offset))
}

const maxExportRows = 10000

// HandleExport handles GET /api/v1/audit-logs/export?format=csv|json.
func (h *AuditHandler) HandleExport(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	format := c.QueryParam("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		return echo.NewHTTPError(http.StatusBadRequest, "format must be csv or json")
	}

	events, _, err := h.audit.Search(c.Request().Context(), f, maxExportRows, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	contentType := "text/csv"
	if format == "json" {
		contentType = echo.MIMEApplicationJSON
	}
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=\"audit_export_%s.%s\"", time.Now().UTC().Format("20060102_150405"), format))
	c.Response().WriteHeader(http.StatusOK)

	if format == "json" {
		return ExportJSON(events, c.Response())
	}
	return ExportCSV(events, c.Response())
}

// ExportCSV writes events as CSV with a header row.
func ExportCSV(events []*AuditEvent, w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"ID", "CreatedAt", "EventType", "Action", "ResourceType", "ResourceID",
		"ActorID", "ActorEmail", "ActorRole", "AccessGranted", "IPAddress", "UserAgent", "Details"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("audit export csv: write header: %w", err)
	}
	for _, e := range events {
		details := ""
		if len(e.Details) > 0 {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("audit export csv: encode details: %w", err)
			}
			details = string(b)
		}
		record := []string{
			e.ID.String(),
			e.CreatedAt.Format(time.RFC3339),
			e.EventType,
			e.Action,
			e.ResourceType,
			e.ResourceID,
			e.ActorID,
			e.ActorEmail,
			e.ActorRole,
			strconv.FormatBool(e.AccessGranted),
			e.IPAddress,
			e.UserAgent,
			details,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("audit export csv: write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportJSON writes events as a JSON array.
func ExportJSON(events []*AuditEvent, w io.Writer) error {
	if events == nil {
		events = []*AuditEvent{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("audit export json: %w", err)
	}
	return nil
}
