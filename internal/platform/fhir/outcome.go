// Package fhir provides the minimal FHIR R4 surface the terminology
// operations need: OperationOutcome, Parameters and the server
// CapabilityStatement.
package fhir

// OperationOutcome severity levels per FHIR R4.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes per FHIR R4.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeRequired     = "required"
	IssueTypeValue        = "value"
	IssueTypeNotFound     = "not-found"
	IssueTypeProcessing   = "processing"
	IssueTypeThrottled    = "throttled"
	IssueTypeNotSupported = "not-supported"
	IssueTypeException    = "exception"
	IssueTypeTimeout      = "timeout"
	IssueTypeCodeInvalid  = "code-invalid"
)

// OperationOutcomeIssue is one issue in an OperationOutcome.
type OperationOutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

// OperationOutcome is the FHIR error/report resource returned by the /fhir
// endpoints.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

// NewOperationOutcome builds a single-issue OperationOutcome.
func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

// ErrorOutcome builds an error-severity OperationOutcome with the given
// issue type.
func ErrorOutcome(code, diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, code, diagnostics)
}

// NotFoundOutcome builds the outcome returned when a code or resource does
// not exist.
func NotFoundOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, diagnostics)
}

// ValidationOutcome builds the outcome returned for malformed operation
// parameters.
func ValidationOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, diagnostics)
}
