package terminology

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned by repositories when a code does not exist.
var ErrNotFound = errors.New("code not found")

// System identifies one of the NAMASTE source terminologies.
type System string

const (
	SystemAyurveda System = "ayurveda"
	SystemSiddha   System = "siddha"
	SystemUnani    System = "unani"
)

// Systems lists every supported source system in stable order.
var Systems = []System{SystemAyurveda, SystemSiddha, SystemUnani}

// ParseSystem validates a caller-supplied system string.
func ParseSystem(s string) (System, error) {
	switch System(strings.ToLower(strings.TrimSpace(s))) {
	case SystemAyurveda:
		return SystemAyurveda, nil
	case SystemSiddha:
		return SystemSiddha, nil
	case SystemUnani:
		return SystemUnani, nil
	default:
		return "", fmt.Errorf("unknown system %q (expected ayurveda, siddha or unani)", s)
	}
}

// URI returns the canonical CodeSystem URI for the system.
func (s System) URI() string {
	return "https://namaste.ayush.gov.in/fhir/CodeSystem/namaste-" + string(s)
}

// DesignationLanguage returns the BCP-47 language tag used for the native
// term designation in FHIR $lookup responses: Sanskrit for Ayurveda, Tamil
// for Siddha, Urdu for Unani.
func (s System) DesignationLanguage() string {
	switch s {
	case SystemSiddha:
		return "ta"
	case SystemUnani:
		return "ur"
	default:
		return "sa"
	}
}

// Title returns a display title for the system's CodeSystem resource.
func (s System) Title() string {
	switch s {
	case SystemSiddha:
		return "NAMASTE Siddha Terminology"
	case SystemUnani:
		return "NAMASTE Unani Terminology"
	default:
		return "NAMASTE Ayurveda Terminology"
	}
}

// TargetSystemURI is the CodeSystem URI of the ICD-11 Traditional Medicine
// Module 2 target catalog.
const TargetSystemURI = "http://id.who.int/icd/release/11/mms"

// SourceCode is one entry in a NAMASTE catalog.
type SourceCode struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	Code            string           `db:"code" json:"code"`
	System          System           `db:"system" json:"system"`
	Term            string           `db:"term" json:"term"`
	TermNormalized  string           `db:"term_normalized" json:"term_normalized,omitempty"`
	NativeScript    string           `db:"native_script" json:"native_script,omitempty"`
	EnglishName     string           `db:"english_name" json:"english_name,omitempty"`
	ShortDefinition string           `db:"short_definition" json:"short_definition,omitempty"`
	LongDefinition  string           `db:"long_definition" json:"long_definition,omitempty"`
	SearchableText  string           `db:"searchable_text" json:"searchable_text,omitempty"`
	Embedding       *pgvector.Vector `db:"embedding" json:"-"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// DescriptionText returns the text the translation pipeline normalizes and
// embeds: the first populated field in priority order, preferring concise
// English descriptions over native terms. Empty when no field is populated.
func (s *SourceCode) DescriptionText() string {
	for _, f := range []string{s.ShortDefinition, s.EnglishName, s.LongDefinition, s.Term, s.TermNormalized} {
		if strings.TrimSpace(f) != "" {
			return strings.ToLower(strings.TrimSpace(f))
		}
	}
	return ""
}

// DocumentText returns the text embedded when indexing the source catalog.
// It mirrors DescriptionText so query and document vectors describe the same
// concept surface.
func (s *SourceCode) DocumentText() string {
	return s.DescriptionText()
}

// TargetCode is one entry in the ICD-11 TM2 catalog.
type TargetCode struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	Code               string           `db:"code" json:"code"`
	Title              string           `db:"title" json:"title"`
	Definition         string           `db:"definition" json:"definition,omitempty"`
	Category           string           `db:"category" json:"category,omitempty"`
	ParentCode         string           `db:"parent_code" json:"parent_code,omitempty"`
	Synonyms           []string         `db:"synonyms" json:"synonyms,omitempty"`
	Inclusions         []string         `db:"inclusions" json:"inclusions,omitempty"`
	Exclusions         []string         `db:"exclusions" json:"exclusions,omitempty"`
	TraditionalSystems []string         `db:"traditional_systems" json:"traditional_systems,omitempty"`
	Embedding          *pgvector.Vector `db:"embedding" json:"-"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// DocumentText returns the text embedded when indexing the target catalog.
func (t *TargetCode) DocumentText() string {
	if t.Definition != "" {
		return t.Title + ". " + t.Definition
	}
	return t.Title
}

// ScoredTarget is a retrieval candidate with its ranking score. The score's
// meaning depends on the strategy that produced it: cosine similarity for
// vector search, ts_rank for full-text, matched-keyword fraction for the
// keyword fallback. Scores are nonnegative and lists are ordered score
// descending with ties broken by code ascending.
type ScoredTarget struct {
	Target *TargetCode `json:"target"`
	Score  float64     `json:"score"`
}

// Coverage reports how much of one catalog carries embeddings.
type Coverage struct {
	Catalog      string  `json:"catalog"`
	Total        int     `json:"total"`
	WithVectors  int     `json:"with_embeddings"`
	Percentage   float64 `json:"percentage"`
}
