package mapping

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayushbridge/ayushbridge/internal/domain/terminology"
)

// ErrNotFound is returned when a mapping row does not exist.
var ErrNotFound = errors.New("mapping not found")

// Equivalence labels how a source concept relates to its target.
const (
	EquivalenceEquivalent = "EQUIVALENT"
	EquivalenceWider      = "WIDER"
	EquivalenceNarrower   = "NARROWER"
	EquivalenceInexact    = "INEXACT"
	EquivalenceUnmatched  = "UNMATCHED"
	EquivalenceDisjoint   = "DISJOINT"
)

// validEquivalences covers the whole taxonomy. DISJOINT is accepted on
// human-entered rows only; the pipeline never produces it.
var validEquivalences = map[string]bool{
	EquivalenceEquivalent: true,
	EquivalenceWider:      true,
	EquivalenceNarrower:   true,
	EquivalenceInexact:    true,
	EquivalenceUnmatched:  true,
	EquivalenceDisjoint:   true,
}

// IsValidEquivalence reports whether s is a known equivalence label.
func IsValidEquivalence(s string) bool { return validEquivalences[s] }

// Mapping provenance labels.
const (
	SourceDeterministic  = "DETERMINISTIC"
	SourceSemantic       = "SEMANTIC"
	SourceAIValidated    = "AI_VALIDATED"
	SourceHumanValidated = "HUMAN_VALIDATED"
)

// Validation workflow states.
const (
	ValidationPending     = "PENDING"
	ValidationApproved    = "APPROVED"
	ValidationRejected    = "REJECTED"
	ValidationNeedsReview = "NEEDS_REVIEW"
)

// Mapping is one persisted (source, target) pair with its adjudication.
type Mapping struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	SourceCodeID     uuid.UUID  `db:"source_code_id" json:"source_code_id"`
	TargetCodeID     uuid.UUID  `db:"target_code_id" json:"target_code_id"`
	Equivalence      string     `db:"equivalence" json:"equivalence"`
	Confidence       float64    `db:"confidence" json:"confidence"`
	MappingSource    string     `db:"mapping_source" json:"mapping_source"`
	ValidationStatus string     `db:"validation_status" json:"validation_status"`
	Validator        string     `db:"validator" json:"validator,omitempty"`
	ValidatedAt      *time.Time `db:"validated_at" json:"validated_at,omitempty"`
	Reasoning        string     `db:"reasoning" json:"reasoning,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`

	// Denormalized join columns for listings.
	SourceCode   string             `db:"-" json:"source_code,omitempty"`
	SourceSystem terminology.System `db:"-" json:"source_system,omitempty"`
	SourceTerm   string             `db:"-" json:"source_term,omitempty"`
	TargetCode   string             `db:"-" json:"target_code,omitempty"`
	TargetTitle  string             `db:"-" json:"target_title,omitempty"`
}

// Validate checks the row invariants before persistence.
func (m *Mapping) Validate() error {
	if m.SourceCodeID == uuid.Nil || m.TargetCodeID == uuid.Nil {
		return fmt.Errorf("mapping requires both source and target references")
	}
	if !IsValidEquivalence(m.Equivalence) {
		return fmt.Errorf("invalid equivalence %q", m.Equivalence)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence %f out of [0,1]", m.Confidence)
	}
	return nil
}

// TranslateRequest is the body of POST /mapping and the per-code element of
// the batch endpoints.
type TranslateRequest struct {
	Code    string `json:"code"`
	System  string `json:"system"`
	Term    string `json:"term,omitempty"`
	Context string `json:"context,omitempty"`
}

// Validate rejects missing fields and unknown systems.
func (r *TranslateRequest) Validate() (terminology.System, error) {
	if strings.TrimSpace(r.Code) == "" {
		return "", fmt.Errorf("code is required")
	}
	system, err := terminology.ParseSystem(r.System)
	if err != nil {
		return "", err
	}
	return system, nil
}

// Result sources distinguish a cache hit from a fresh pipeline run.
const (
	ResultSourceCached = "cached"
	ResultSourceAI     = "ai_workflow"
)

// MappedSource echoes the input code in the translate response.
type MappedSource struct {
	Code        string             `json:"code"`
	System      terminology.System `json:"system"`
	Term        string             `json:"term"`
	EnglishName string             `json:"english_name,omitempty"`
}

// MappedTarget is the selected ICD-11 TM2 code; nil when unmatched.
type MappedTarget struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

// MappingResult is the mapping element of the translate response.
type MappingResult struct {
	Source      MappedSource  `json:"source"`
	Target      *MappedTarget `json:"target"`
	Equivalence string        `json:"equivalence"`
	Confidence  float64       `json:"confidence"`
	Reasoning   string        `json:"reasoning,omitempty"`
}

// TranslateResponse is the success envelope of POST /mapping.
type TranslateResponse struct {
	Success          bool          `json:"success"`
	Source           string        `json:"source"`
	Mapping          MappingResult `json:"mapping"`
	Errors           []string      `json:"errors,omitempty"`
	ProcessingTimeMS int64         `json:"processing_time_ms"`
}

// ListFilter narrows GET /mapping listings.
type ListFilter struct {
	System        terminology.System
	MinConfidence float64
	Status        string
	Search        string
	SortBy        string
	Page          int
	Limit         int
}

// Normalize applies defaults and caps.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	switch f.SortBy {
	case "confidence", "equivalence", "created_at":
	default:
		f.SortBy = "created_at"
	}
}

// Stats is the aggregate returned by GET /mapping/stats.
type Stats struct {
	Total              int            `json:"total"`
	ByMappingSource    map[string]int `json:"by_mapping_source"`
	ByValidationStatus map[string]int `json:"by_validation_status"`
	ByEquivalence      map[string]int `json:"by_equivalence"`
	AverageConfidence  float64        `json:"average_confidence"`
}
