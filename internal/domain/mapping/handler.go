package mapping

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ayushbridge/ayushbridge/internal/domain/terminology"
	"github.com/ayushbridge/ayushbridge/internal/platform/fhir"
	"github.com/ayushbridge/ayushbridge/internal/platform/middleware"
	"github.com/ayushbridge/ayushbridge/pkg/pagination"
)

const maxSyncBatch = 100

// Handler serves the translate, listing and stats endpoints plus the FHIR
// ConceptMap/$translate operation.
type Handler struct {
	svc *Service
}

// NewHandler creates the mapping handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the REST routes and $translate. translateG carries
// the mapping limiter class and the request deadline, listG the standard
// class, batchG the batch class. The async batch routes live in the batch
// package.
func (h *Handler) RegisterRoutes(translateG, listG, batchG, fhirG *echo.Group) {
	translateG.POST("/mapping", h.Translate)
	listG.GET("/mapping", h.List)
	listG.GET("/mapping/stats", h.Stats)
	batchG.POST("/mapping/batch", h.BatchSync)

	fhirG.POST("/ConceptMap/$translate", h.FHIRTranslate)
}

// Translate handles POST /api/v1/mapping.
func (h *Handler) Translate(c echo.Context) error {
	var req TranslateRequest
	if err := c.Bind(&req); err != nil {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"request body must be JSON with code and system")
	}
	system, err := req.Validate()
	if err != nil {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation, err.Error())
	}

	resp, err := h.svc.Translate(c.Request().Context(), req.Code, system, true)
	if err != nil {
		return translateError(err, req.Code)
	}
	return c.JSON(http.StatusOK, resp)
}

func translateError(err error, code string) error {
	switch {
	case errors.Is(err, terminology.ErrNotFound):
		return middleware.NewError(http.StatusNotFound, middleware.ErrNotFound,
			"source code "+code+" not found")
	case errors.Is(err, context.DeadlineExceeded):
		return middleware.NewError(http.StatusGatewayTimeout, middleware.ErrDeadline,
			"request exceeded the processing deadline; submit large workloads to POST /api/v1/mapping/batch/async")
	default:
		return err
	}
}

// List handles GET /api/v1/mapping.
func (h *Handler) List(c echo.Context) error {
	f := ListFilter{
		Status: c.QueryParam("status"),
		Search: c.QueryParam("search"),
		SortBy: c.QueryParam("sort"),
	}
	if raw := c.QueryParam("system"); raw != "" {
		system, err := terminology.ParseSystem(raw)
		if err != nil {
			return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation, err.Error())
		}
		f.System = system
	}
	if raw := c.QueryParam("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
				"min_confidence must be a number in [0,1]")
		}
		f.MinConfidence = v
	}
	p := pagination.FromContext(c, 20, 100)
	f.Page, f.Limit = p.Page, p.Limit
	f.Normalize()

	list, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*Mapping{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"total":   total,
		"page":    f.Page,
		"limit":   f.Limit,
		"data":    list,
	})
}

// Stats handles GET /api/v1/mapping/stats.
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.svc.AggregateStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   stats,
	})
}

type batchSyncRequest struct {
	Codes []TranslateRequest `json:"codes"`
}

// BatchSync handles POST /api/v1/mapping/batch: existing-mapping lookups
// only, never the pipeline.
func (h *Handler) BatchSync(c echo.Context) error {
	var req batchSyncRequest
	if err := c.Bind(&req); err != nil {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"request body must be JSON with a codes array")
	}
	if len(req.Codes) == 0 {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"codes must not be empty")
	}
	if len(req.Codes) > maxSyncBatch {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"codes exceeds the maximum of 100 per request")
	}

	ctx := c.Request().Context()
	results := make([]BatchItemResult, 0, len(req.Codes))
	found := 0
	for _, code := range req.Codes {
		item := h.svc.LookupExisting(ctx, code)
		if item.Found {
			found++
		}
		results = append(results, item)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"total":   len(results),
		"found":   found,
		"results": results,
	})
}

// FHIRTranslate handles POST /fhir/ConceptMap/$translate. It shares the
// translate service (and therefore the mappings cache) with POST /mapping.
func (h *Handler) FHIRTranslate(c echo.Context) error {
	var params fhir.Parameters
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest,
			fhir.ValidationOutcome("request body must be a Parameters resource"))
	}

	code := params.StringValue("code")
	rawSystem := params.StringValue("system")
	if coding := params.CodingValue("coding"); coding != nil {
		if code == "" {
			code = coding.Code
		}
		if rawSystem == "" {
			rawSystem = coding.System
		}
	}
	if code == "" || rawSystem == "" {
		return c.JSON(http.StatusBadRequest,
			fhir.ValidationOutcome("both code and system parameters are required"))
	}

	system, err := parseFHIRSystem(rawSystem)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome(err.Error()))
	}

	resp, err := h.svc.Translate(c.Request().Context(), code, system, true)
	if errors.Is(err, terminology.ErrNotFound) {
		return c.JSON(http.StatusNotFound,
			fhir.NotFoundOutcome("code "+code+" not found in system "+string(system)))
	}
	if err != nil {
		return translateError(err, code)
	}

	out := fhir.NewParameters()
	matched := resp.Mapping.Target != nil
	out.AddBoolean("result", matched)
	if matched {
		// The pipeline labels everything it persists AI_VALIDATED, and the
		// cache only ever holds pipeline output.
		out.AddPart("match",
			fhir.CodePart("equivalence", strings.ToLower(resp.Mapping.Equivalence)),
			fhir.CodingPart("concept", fhir.Coding{
				System:  terminology.TargetSystemURI,
				Code:    resp.Mapping.Target.Code,
				Display: resp.Mapping.Target.Title,
			}),
			fhir.StringPart("source", SourceAIValidated),
			fhir.DecimalPart("confidence", resp.Mapping.Confidence),
		)
	}
	return c.JSON(http.StatusOK, out)
}

// parseFHIRSystem accepts the canonical NAMASTE CodeSystem URIs as well as
// the plain system names.
func parseFHIRSystem(raw string) (terminology.System, error) {
	for _, s := range terminology.Systems {
		if raw == s.URI() {
			return s, nil
		}
	}
	return terminology.ParseSystem(strings.TrimPrefix(raw, "namaste-"))
}
