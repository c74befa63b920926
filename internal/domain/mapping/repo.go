package mapping

import (
	"context"

	"github.com/google/uuid"
)

// UpsertParams carries the pipeline's decision into the store.
type UpsertParams struct {
	SourceCodeID  uuid.UUID
	TargetCodeID  uuid.UUID
	Equivalence   string
	Confidence    float64
	MappingSource string
	Reasoning     string
}

// Repository is the persistence interface for mappings.
type Repository interface {
	// Upsert writes atomically under (source_code_id, target_code_id). An
	// existing row updated by the pipeline keeps created_at; a row whose
	// mapping_source is HUMAN_VALIDATED keeps every human-owned field and
	// only bumps updated_at.
	Upsert(ctx context.Context, p UpsertParams) (*Mapping, error)

	// FindBySourceCode returns every mapping for one source code, newest
	// first.
	FindBySourceCode(ctx context.Context, sourceCodeID uuid.UUID) ([]*Mapping, error)

	// List pages through mappings with the given filter.
	List(ctx context.Context, f ListFilter) ([]*Mapping, int, error)

	// AggregateStats computes the totals for GET /mapping/stats.
	AggregateStats(ctx context.Context) (*Stats, error)
}
