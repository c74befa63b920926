package terminology

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ayushbridge/ayushbridge/internal/platform/fhir"
	"github.com/ayushbridge/ayushbridge/internal/platform/middleware"
)

const (
	autocompleteMinQuery     = 2
	autocompleteDefaultLimit = 20
	autocompleteMaxLimit     = 50
	expandDefaultCount       = 20
	expandMaxCount           = 100
)

// Handler serves the catalog REST endpoints and the CodeSystem/ValueSet FHIR
// operations.
type Handler struct {
	svc           *Service
	serverName    string
	serverVersion string
}

// NewHandler creates the terminology handler.
func NewHandler(svc *Service, serverName, serverVersion string) *Handler {
	return &Handler{svc: svc, serverName: serverName, serverVersion: serverVersion}
}

// RegisterRoutes mounts the REST routes on api and the FHIR routes on fhirG.
func (h *Handler) RegisterRoutes(api, fhirG *echo.Group) {
	api.GET("/autocomplete/source", h.AutocompleteSource)
	api.GET("/autocomplete/target", h.AutocompleteTarget)

	fhirG.GET("/metadata", h.Metadata)
	fhirG.GET("/CodeSystem", h.ListCodeSystems)
	fhirG.GET("/CodeSystem/$lookup", h.Lookup)
	fhirG.POST("/CodeSystem/$lookup", h.LookupPost)
	fhirG.GET("/CodeSystem/:id", h.GetCodeSystem)
	fhirG.GET("/ValueSet/$expand", h.Expand)
	fhirG.POST("/ValueSet/$expand", h.ExpandPost)
}

// =========== REST autocomplete ===========

func autocompleteLimit(c echo.Context) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = autocompleteDefaultLimit
	}
	if limit > autocompleteMaxLimit {
		limit = autocompleteMaxLimit
	}
	return limit
}

// AutocompleteSource handles GET /api/v1/autocomplete/source.
func (h *Handler) AutocompleteSource(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if len(q) < autocompleteMinQuery {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"query parameter q must be at least 2 characters")
	}

	var system System
	if raw := c.QueryParam("system"); raw != "" {
		parsed, err := ParseSystem(raw)
		if err != nil {
			return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation, err.Error())
		}
		system = parsed
	}

	results, err := h.svc.AutocompleteSource(c.Request().Context(), q, system, autocompleteLimit(c))
	if err != nil {
		return err
	}

	items := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]interface{}{
			"code":          r.Code,
			"system":        r.System,
			"term":          r.Term,
			"english_name":  r.EnglishName,
			"native_script": r.NativeScript,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"query":   q,
		"count":   len(items),
		"results": items,
	})
}

// AutocompleteTarget handles GET /api/v1/autocomplete/target.
func (h *Handler) AutocompleteTarget(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if len(q) < autocompleteMinQuery {
		return middleware.NewError(http.StatusBadRequest, middleware.ErrValidation,
			"query parameter q must be at least 2 characters")
	}

	results, err := h.svc.AutocompleteTarget(c.Request().Context(), q, autocompleteLimit(c))
	if err != nil {
		return err
	}

	items := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]interface{}{
			"code":     r.Code,
			"title":    r.Title,
			"category": r.Category,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"query":   q,
		"count":   len(items),
		"results": items,
	})
}

// =========== FHIR CodeSystem ===========

// Metadata handles GET /fhir/metadata.
func (h *Handler) Metadata(c echo.Context) error {
	return c.JSON(http.StatusOK, fhir.NewCapabilityStatement(h.serverName, h.serverVersion))
}

const targetCodeSystemID = "icd11-tm2"

func codeSystemSummary(system System) *fhir.CodeSystem {
	return &fhir.CodeSystem{
		ResourceType: "CodeSystem",
		ID:           "namaste-" + string(system),
		URL:          system.URI(),
		Name:         "NAMASTE" + strings.ToUpper(string(system)[:1]) + string(system)[1:],
		Title:        system.Title(),
		Status:       "active",
		Content:      "not-present",
		Publisher:    "Ministry of Ayush",
	}
}

func targetCodeSystemSummary() *fhir.CodeSystem {
	return &fhir.CodeSystem{
		ResourceType: "CodeSystem",
		ID:           targetCodeSystemID,
		URL:          TargetSystemURI,
		Name:         "ICD11TM2",
		Title:        "ICD-11 Traditional Medicine Module 2",
		Status:       "active",
		Content:      "not-present",
		Publisher:    "World Health Organization",
	}
}

// ListCodeSystems handles GET /fhir/CodeSystem.
func (h *Handler) ListCodeSystems(c echo.Context) error {
	resources := make([]interface{}, 0, len(Systems)+1)
	for _, s := range Systems {
		resources = append(resources, codeSystemSummary(s))
	}
	resources = append(resources, targetCodeSystemSummary())
	return c.JSON(http.StatusOK, fhir.NewSearchSet(resources...))
}

// GetCodeSystem handles GET /fhir/CodeSystem/:id.
func (h *Handler) GetCodeSystem(c echo.Context) error {
	id := c.Param("id")
	if id == targetCodeSystemID {
		return c.JSON(http.StatusOK, targetCodeSystemSummary())
	}
	if system, err := ParseSystem(strings.TrimPrefix(id, "namaste-")); err == nil {
		return c.JSON(http.StatusOK, codeSystemSummary(system))
	}
	return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("CodeSystem "+id+" is not known to this server"))
}

// resolveSystem maps a system parameter (canonical URI or plain name) onto a
// source system, or reports that it names the target catalog.
func resolveSystem(raw string) (system System, isTarget bool, err error) {
	if raw == TargetSystemURI || strings.EqualFold(raw, "icd11") || raw == targetCodeSystemID {
		return "", true, nil
	}
	for _, s := range Systems {
		if raw == s.URI() {
			return s, false, nil
		}
	}
	s, perr := ParseSystem(strings.TrimPrefix(raw, "namaste-"))
	if perr != nil {
		return "", false, perr
	}
	return s, false, nil
}

// Lookup handles GET /fhir/CodeSystem/$lookup with system and code query
// parameters.
func (h *Handler) Lookup(c echo.Context) error {
	return h.lookup(c, c.QueryParam("system"), c.QueryParam("code"))
}

// LookupPost handles POST /fhir/CodeSystem/$lookup with a Parameters body.
func (h *Handler) LookupPost(c echo.Context) error {
	var params fhir.Parameters
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome("request body must be a Parameters resource"))
	}
	return h.lookup(c, params.StringValue("system"), params.StringValue("code"))
}

func (h *Handler) lookup(c echo.Context, rawSystem, code string) error {
	if rawSystem == "" || code == "" {
		return c.JSON(http.StatusBadRequest,
			fhir.ValidationOutcome("both system and code parameters are required"))
	}

	system, isTarget, err := resolveSystem(rawSystem)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome(err.Error()))
	}

	ctx := c.Request().Context()

	if isTarget {
		target, err := h.svc.LookupTarget(ctx, code)
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound,
				fhir.NotFoundOutcome("code "+code+" not found in ICD-11 TM2"))
		}
		if err != nil {
			return err
		}
		out := fhir.NewParameters().
			AddString("name", "ICD-11 Traditional Medicine Module 2").
			AddString("display", target.Title)
		if target.Definition != "" {
			out.AddPart("property",
				fhir.CodePart("code", "definition"),
				fhir.StringPart("value", target.Definition))
		}
		return c.JSON(http.StatusOK, out)
	}

	source, err := h.svc.LookupSource(ctx, code, system)
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound,
			fhir.NotFoundOutcome("code "+code+" not found in system "+string(system)))
	}
	if err != nil {
		return err
	}

	out := fhir.NewParameters().
		AddString("name", system.Title()).
		AddString("display", source.Term)
	if def := source.ShortDefinition; def != "" {
		out.AddPart("property",
			fhir.CodePart("code", "definition"),
			fhir.StringPart("value", def))
	}
	if source.NativeScript != "" {
		out.AddPart("designation",
			fhir.CodePart("language", system.DesignationLanguage()),
			fhir.StringPart("value", source.NativeScript))
	}
	return c.JSON(http.StatusOK, out)
}

// =========== FHIR ValueSet ===========

// Expand handles GET /fhir/ValueSet/$expand.
func (h *Handler) Expand(c echo.Context) error {
	count, _ := strconv.Atoi(c.QueryParam("count"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return h.expand(c, c.QueryParam("filter"), count, offset)
}

// ExpandPost handles POST /fhir/ValueSet/$expand with a Parameters body.
func (h *Handler) ExpandPost(c echo.Context) error {
	var params fhir.Parameters
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome("request body must be a Parameters resource"))
	}
	count, _ := strconv.Atoi(params.StringValue("count"))
	offset, _ := strconv.Atoi(params.StringValue("offset"))
	return h.expand(c, params.StringValue("filter"), count, offset)
}

func (h *Handler) expand(c echo.Context, filter string, count, offset int) error {
	if count <= 0 {
		count = expandDefaultCount
	}
	if count > expandMaxCount {
		count = expandMaxCount
	}
	if offset < 0 {
		offset = 0
	}

	codes, total, err := h.svc.Expand(c.Request().Context(), strings.TrimSpace(filter), count, offset)
	if err != nil {
		return err
	}

	contains := make([]fhir.ValueSetContains, 0, len(codes))
	for _, sc := range codes {
		display := sc.Term
		if sc.EnglishName != "" {
			display = sc.Term + " (" + sc.EnglishName + ")"
		}
		contains = append(contains, fhir.ValueSetContains{
			System:  sc.System.URI(),
			Code:    sc.Code,
			Display: display,
		})
	}

	vs := fhir.NewValueSetExpansion(
		"https://namaste.ayush.gov.in/fhir/ValueSet/namaste-codes",
		total, offset, contains)
	return c.JSON(http.StatusOK, vs)
}
