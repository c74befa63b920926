package batch

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ayushbridge/ayushbridge/internal/domain/mapping"
	"github.com/ayushbridge/ayushbridge/internal/platform/middleware"
)

// Rough per-item cost used for the admission estimate, covering the model
// calls plus the inter-item delay.
const estimatedSecondsPerItem = 3

// Handler serves the async batch endpoints.
type Handler struct {
	queue *Queue
}

// NewHandler creates the batch handler.
func NewHandler(queue *Queue) *Handler {
	return &Handler{queue: queue}
}

// RegisterRoutes mounts the async batch routes. enqueueGroup carries the
// stricter batch limiter class; statusGroup the standard one.
func (h *Handler) RegisterRoutes(enqueueGroup, statusGroup *echo.Group) {
	enqueueGroup.POST("/mapping/batch/async", h.Enqueue)
	statusGroup.GET("/mapping/batch/:id", h.Status)
	statusGroup.GET("/mapping/batch/:id/results", h.Results)
	statusGroup.DELETE("/mapping/batch/:id", h.Cancel)
}

type enqueueRequest struct {
	Codes       []mapping.TranslateRequest `json:"codes"`
	CallbackURL string                     `json:"callback_url,omitempty"`
	SaveResults *bool                      `json:"save_results,omitempty"`
}

// Enqueue handles POST /api/v1/mapping/batch/async with a 202 response.
func (h *Handler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"request body must be JSON with a codes array")
	}
	for _, code := range req.Codes {
		if _, err := code.Validate(); err != nil {
			return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation, err.Error())
		}
	}

	save := true
	if req.SaveResults != nil {
		save = *req.SaveResults
	}
	actor, _ := c.Get("actor").(string)

	job, err := h.queue.Enqueue(EnqueueRequest{
		Codes:       req.Codes,
		Actor:       actor,
		CallbackURL: req.CallbackURL,
		SaveResults: save,
	})
	switch {
	case errors.Is(err, ErrEmptyJob), errors.Is(err, ErrTooManyCodes):
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation, err.Error())
	case errors.Is(err, ErrQueueStopped):
		return middleware.NewError(http.StatusServiceUnavailable, middleware.ErrUpstream,
			"server is shutting down")
	case err != nil:
		return err
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"success":        true,
		"job_id":         job.ID,
		"status":         job.Status,
		"progress":       job.Progress,
		"estimated_time": len(req.Codes) * estimatedSecondsPerItem,
	})
}

func (h *Handler) jobFromParam(c echo.Context) (*Job, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"job id must be a UUID")
	}
	job, err := h.queue.Get(id)
	if errors.Is(err, ErrJobNotFound) {
		return nil, middleware.NewError(http.StatusNotFound, middleware.ErrNotFound,
			"job "+id.String()+" not found")
	}
	return job, err
}

// Status handles GET /api/v1/mapping/batch/:id.
func (h *Handler) Status(c echo.Context) error {
	job, err := h.jobFromParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"job_id":       job.ID,
		"status":       job.Status,
		"progress":     job.Progress,
		"created_at":   job.CreatedAt,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
	})
}

// Results handles GET /api/v1/mapping/batch/:id/results. Pending items are
// visible with their current status.
func (h *Handler) Results(c echo.Context) error {
	job, err := h.jobFromParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"job_id":   job.ID,
		"status":   job.Status,
		"progress": job.Progress,
		"results":  job.Items,
	})
}

// Cancel handles DELETE /api/v1/mapping/batch/:id.
func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"job id must be a UUID")
	}

	job, err := h.queue.Cancel(id)
	switch {
	case errors.Is(err, ErrJobNotFound):
		return middleware.NewError(http.StatusNotFound, middleware.ErrNotFound,
			"job "+id.String()+" not found")
	case errors.Is(err, ErrJobTerminal):
		return middleware.NewError(http.StatusConflict, middleware.ErrValidation,
			"job has already finished")
	case err != nil:
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"job_id":  job.ID,
		"status":  job.Status,
	})
}
