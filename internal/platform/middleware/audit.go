package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AuditEntry captures who did what to which resource, with the response
// status and timing. Entries feed both the structured log and the audit
// store.
type AuditEntry struct {
	RequestID    string
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Method       string
	Path         string
	StatusCode   int
	Outcome      string
	IPAddress    string
	UserAgent    string
	Duration     time.Duration
	Timestamp    time.Time
}

// AuditRecorder persists audit entries. The middleware stays decoupled from
// the concrete store so tests can provide a mock implementation.
type AuditRecorder interface {
	Record(entry AuditEntry)
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry)

func (f AuditRecorderFunc) Record(entry AuditEntry) {
	f(entry)
}

// Audit returns middleware that records every request under /api/v1, /fhir
// and /admin. The entry is built after the handler runs so it carries the
// final status code. Recording must not block the response path, so the
// recorder is expected to queue internally.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			resourceType, resourceID := splitResourcePath(path)

			entry := AuditEntry{
				RequestID:    GetRequestID(c),
				Actor:        actorFromContext(c),
				Action:       deriveAction(req.Method, path),
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Method:       req.Method,
				Path:         path,
				StatusCode:   status,
				Outcome:      outcomeForStatus(status),
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				Duration:     time.Since(start),
				Timestamp:    time.Now().UTC(),
			}

			for _, r := range recorders {
				if r != nil {
					r.Record(entry)
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("actor", entry.Actor).
				Str("action", entry.Action).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Int("status", entry.StatusCode).
				Str("outcome", entry.Outcome).
				Str("remote_ip", entry.IPAddress).
				Dur("duration", entry.Duration).
				Msg("audit")

			return err
		}
	}
}

// isAuditablePath returns true for the API, FHIR and admin surfaces. Health
// and metrics probes are not audited.
func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/") ||
		strings.HasPrefix(path, "/fhir/") ||
		strings.HasPrefix(path, "/admin/")
}

// actorFromContext returns the authenticated principal set by the identity
// middleware, or "anonymous".
func actorFromContext(c echo.Context) string {
	if actor, ok := c.Get("actor").(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}

// deriveAction maps a request to a domain action name. Translation and batch
// endpoints get specific verbs; everything else falls back to the HTTP
// method's CRUD meaning.
func deriveAction(method, path string) string {
	switch {
	case strings.Contains(path, "$translate") || (method == http.MethodPost && strings.HasSuffix(path, "/mapping")):
		return "translate"
	case strings.Contains(path, "/mapping/batch"):
		if method == http.MethodDelete {
			return "batch_cancel"
		}
		if method == http.MethodPost {
			return "batch_submit"
		}
		return "batch_read"
	case strings.Contains(path, "$lookup"):
		return "lookup"
	case strings.Contains(path, "$expand"):
		return "expand"
	case strings.HasPrefix(path, "/admin/"):
		return "admin_" + methodToAction(method)
	default:
		return methodToAction(method)
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// outcomeForStatus classifies the response for the audit trail.
func outcomeForStatus(status int) string {
	if status < 400 {
		return "success"
	}
	return "failure"
}

// splitResourcePath extracts the resource type and trailing identifier from
// an auditable path:
//
//	/api/v1/mapping/batch/abc-123     -> ("mapping", "batch/abc-123")
//	/fhir/CodeSystem/namaste-ayurveda -> ("CodeSystem", "namaste-ayurveda")
//	/fhir/CodeSystem/$lookup          -> ("CodeSystem", "")
//	/admin/cache/stats                -> ("cache", "stats")
func splitResourcePath(path string) (resourceType, resourceID string) {
	var rest string
	switch {
	case strings.HasPrefix(path, "/api/v1/"):
		rest = strings.TrimPrefix(path, "/api/v1/")
	case strings.HasPrefix(path, "/fhir/"):
		rest = strings.TrimPrefix(path, "/fhir/")
	case strings.HasPrefix(path, "/admin/"):
		rest = strings.TrimPrefix(path, "/admin/")
	default:
		return "unknown", ""
	}

	segments := strings.Split(rest, "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", ""
	}
	resourceType = segments[0]
	if len(segments) > 1 && segments[1] != "" && !strings.HasPrefix(segments[1], "$") {
		resourceID = strings.Join(segments[1:], "/")
	}
	return resourceType, resourceID
}
