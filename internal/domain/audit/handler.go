package audit

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ayushbridge/ayushbridge/internal/platform/middleware"
	"github.com/ayushbridge/ayushbridge/pkg/pagination"
)

// Handler serves the admin audit query endpoint.
type Handler struct {
	repo Repository
}

// NewHandler creates the audit handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes mounts the audit routes on the admin group.
func (h *Handler) RegisterRoutes(admin *echo.Group) {
	admin.GET("/audit", h.List)
}

// List handles GET /admin/audit with optional actor, action, resource_type,
// outcome, since, until, page and limit filters. Timestamps are RFC 3339.
func (h *Handler) List(c echo.Context) error {
	f := ListFilter{
		Actor:        c.QueryParam("actor"),
		Action:       c.QueryParam("action"),
		ResourceType: c.QueryParam("resource_type"),
		Outcome:      c.QueryParam("outcome"),
	}

	for _, bound := range []struct {
		param string
		into  **time.Time
	}{
		{"since", &f.Since},
		{"until", &f.Until},
	} {
		raw := c.QueryParam(bound.param)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
				bound.param+" must be an RFC 3339 timestamp")
		}
		*bound.into = &ts
	}

	p := pagination.FromContext(c, 50, 200)
	f.Page, f.Limit = p.Page, p.Limit
	f.Normalize()

	records, total, err := h.repo.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if records == nil {
		records = []*Record{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"total":   total,
		"page":    f.Page,
		"limit":   f.Limit,
		"records": records,
	})
}
