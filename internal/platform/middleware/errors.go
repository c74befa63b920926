package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Machine-readable error labels carried in every error response body.
const (
	ErrValidation  = "VALIDATION_ERROR"
	ErrNotFound    = "NOT_FOUND"
	ErrRateLimited = "RATE_LIMITED"
	ErrDeadline    = "DEADLINE_EXCEEDED"
	ErrUpstream    = "UPSTREAM_UNAVAILABLE"
	ErrInternal    = "INTERNAL_ERROR"
)

// NewError builds an echo.HTTPError whose message carries a machine label
// alongside the human-readable text. The central error handler renders it
// as the service's error envelope.
func NewError(status int, label, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, map[string]interface{}{
		"code":    label,
		"message": message,
	})
}

// labelForStatus maps an HTTP status to a default machine label for errors
// raised without an explicit one.
func labelForStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusGatewayTimeout:
		return ErrDeadline
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		return ErrUpstream
	case status >= 400 && status < 500:
		return ErrValidation
	default:
		return ErrInternal
	}
}

// ErrorHandler returns a central echo.HTTPErrorHandler that renders every
// error with a request id and a machine label. FHIR routes receive an
// OperationOutcome; all other routes receive the JSON error envelope.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		label := ErrInternal
		message := "internal server error"

		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
			switch m := he.Message.(type) {
			case map[string]interface{}:
				if v, ok := m["code"].(string); ok {
					label = v
				} else {
					label = labelForStatus(status)
				}
				if v, ok := m["message"].(string); ok {
					message = v
				}
			case string:
				label = labelForStatus(status)
				message = m
			default:
				label = labelForStatus(status)
			}
		}

		rid := GetRequestID(c)

		if status >= 500 {
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Int("status", status).
				Msg("request failed")
		}

		var body interface{}
		if strings.HasPrefix(c.Request().URL.Path, "/fhir") {
			body = map[string]interface{}{
				"resourceType": "OperationOutcome",
				"id":           rid,
				"issue": []map[string]interface{}{
					{
						"severity":    "error",
						"code":        fhirIssueCode(status),
						"diagnostics": message,
					},
				},
			}
		} else {
			body = map[string]interface{}{
				"success":    false,
				"request_id": rid,
				"error": map[string]interface{}{
					"code":    label,
					"message": message,
				},
			}
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

// fhirIssueCode maps an HTTP status to a FHIR OperationOutcome issue code.
func fhirIssueCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not-found"
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusTooManyRequests:
		return "throttled"
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "transient"
	default:
		return "exception"
	}
}
