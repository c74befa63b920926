package terminology

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// SourceRepository is the persistence interface for the NAMASTE catalogs.
type SourceRepository interface {
	// FindByCode is the unique lookup on (code, system). Returns ErrNotFound
	// when the code does not exist.
	FindByCode(ctx context.Context, code string, system System) (*SourceCode, error)

	// Autocomplete returns codes whose term, english name, searchable text or
	// code contains q (case-insensitive), ordered by term. An empty system
	// searches every catalog.
	Autocomplete(ctx context.Context, q string, system System, limit int) ([]*SourceCode, error)

	// Expand pages through the source catalogs with an optional substring
	// filter over term, english_name and searchable_text. Returns the page
	// and the unpaged total.
	Expand(ctx context.Context, filter string, count, offset int) ([]*SourceCode, int, error)

	// EmbeddingCoverage counts rows with and without embeddings.
	EmbeddingCoverage(ctx context.Context) (*Coverage, error)

	// ListMissingEmbeddings returns up to limit rows without an embedding.
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*SourceCode, error)

	// SetEmbedding stores the vector for one row.
	SetEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector) error
}

// TargetRepository is the persistence interface for the ICD-11 TM2 catalog,
// including the three retrieval strategies the candidate retriever layers.
type TargetRepository interface {
	// FindByCode is the unique lookup on the globally unique target code.
	FindByCode(ctx context.Context, code string) (*TargetCode, error)

	// Autocomplete returns codes whose title or code contains q.
	Autocomplete(ctx context.Context, q string, limit int) ([]*TargetCode, error)

	// SearchFullText ranks candidates lexically over title and definition.
	// Results are ordered score descending, ties by code ascending.
	SearchFullText(ctx context.Context, query string, k int) ([]*ScoredTarget, error)

	// SearchByKeywords scores candidates by the fraction of keywords appearing
	// (case-insensitively) in title or definition. Zero-score rows are
	// dropped; ordering matches SearchFullText.
	SearchByKeywords(ctx context.Context, keywords []string, k int) ([]*ScoredTarget, error)

	// SearchByVector returns candidates whose cosine similarity to vec is at
	// least minSimilarity, ordered by similarity descending, ties by code
	// ascending. Rows without an embedding are excluded.
	SearchByVector(ctx context.Context, vec pgvector.Vector, k int, minSimilarity float64) ([]*ScoredTarget, error)

	EmbeddingCoverage(ctx context.Context) (*Coverage, error)
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*TargetCode, error)
	SetEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector) error
}
