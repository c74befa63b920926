package terminology

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
)

// DocumentEmbedder is the slice of the embedding client the catalog service
// needs for backfilling vectors.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([]pgvector.Vector, error)
}

// embedBatchSize is how many documents go into one embedder call during
// backfill.
const embedBatchSize = 10

// GenerateResult summarizes one embedding backfill run.
type GenerateResult struct {
	Catalog   string `json:"catalog"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
}

// Service exposes catalog lookups, autocomplete, ValueSet expansion and
// embedding maintenance over the two repositories.
type Service struct {
	sources  SourceRepository
	targets  TargetRepository
	embedder DocumentEmbedder
	logger   zerolog.Logger
}

// NewService creates the terminology service. embedder may be nil; embedding
// generation then reports an error while lookups keep working.
func NewService(sources SourceRepository, targets TargetRepository, embedder DocumentEmbedder, logger zerolog.Logger) *Service {
	return &Service{
		sources:  sources,
		targets:  targets,
		embedder: embedder,
		logger:   logger.With().Str("component", "terminology").Logger(),
	}
}

// LookupSource resolves one NAMASTE code in the given system.
func (s *Service) LookupSource(ctx context.Context, code string, system System) (*SourceCode, error) {
	return s.sources.FindByCode(ctx, code, system)
}

// LookupTarget resolves one ICD-11 TM2 code.
func (s *Service) LookupTarget(ctx context.Context, code string) (*TargetCode, error) {
	return s.targets.FindByCode(ctx, code)
}

// AutocompleteSource searches the NAMASTE catalogs. system may be empty to
// search all three.
func (s *Service) AutocompleteSource(ctx context.Context, q string, system System, limit int) ([]*SourceCode, error) {
	return s.sources.Autocomplete(ctx, q, system, limit)
}

// AutocompleteTarget searches the ICD-11 TM2 catalog.
func (s *Service) AutocompleteTarget(ctx context.Context, q string, limit int) ([]*TargetCode, error) {
	return s.targets.Autocomplete(ctx, q, limit)
}

// Expand pages through the source catalogs for ValueSet/$expand.
func (s *Service) Expand(ctx context.Context, filter string, count, offset int) ([]*SourceCode, int, error) {
	return s.sources.Expand(ctx, filter, count, offset)
}

// EmbeddingStats reports vector coverage for both catalogs.
func (s *Service) EmbeddingStats(ctx context.Context) ([]*Coverage, error) {
	src, err := s.sources.EmbeddingCoverage(ctx)
	if err != nil {
		return nil, err
	}
	tgt, err := s.targets.EmbeddingCoverage(ctx)
	if err != nil {
		return nil, err
	}
	return []*Coverage{src, tgt}, nil
}

// GenerateEmbeddings backfills vectors for up to limit rows of one catalog
// ("source" or "target"), embedding document text in batches. Rows whose
// batch fails to embed, or whose document text is empty, count as failed;
// the run continues past per-batch failures.
func (s *Service) GenerateEmbeddings(ctx context.Context, catalog string, limit int) (*GenerateResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("embedding generation unavailable: no embedder configured")
	}
	if limit <= 0 {
		limit = 100
	}

	switch catalog {
	case "source":
		rows, err := s.sources.ListMissingEmbeddings(ctx, limit)
		if err != nil {
			return nil, err
		}
		docs := make([]embedDoc, 0, len(rows))
		for _, r := range rows {
			docs = append(docs, embedDoc{id: r.ID.String(), text: r.DocumentText(), set: func(ctx context.Context, v pgvector.Vector) error {
				return s.sources.SetEmbedding(ctx, r.ID, v)
			}})
		}
		res := s.embedAll(ctx, catalog, docs)
		if cov, err := s.sources.EmbeddingCoverage(ctx); err == nil {
			res.Remaining = cov.Total - cov.WithVectors
		}
		return res, nil
	case "target":
		rows, err := s.targets.ListMissingEmbeddings(ctx, limit)
		if err != nil {
			return nil, err
		}
		docs := make([]embedDoc, 0, len(rows))
		for _, r := range rows {
			docs = append(docs, embedDoc{id: r.Code, text: r.DocumentText(), set: func(ctx context.Context, v pgvector.Vector) error {
				return s.targets.SetEmbedding(ctx, r.ID, v)
			}})
		}
		res := s.embedAll(ctx, catalog, docs)
		if cov, err := s.targets.EmbeddingCoverage(ctx); err == nil {
			res.Remaining = cov.Total - cov.WithVectors
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unknown catalog %q (expected source or target)", catalog)
	}
}

type embedDoc struct {
	id   string
	text string
	set  func(context.Context, pgvector.Vector) error
}

func (s *Service) embedAll(ctx context.Context, catalog string, docs []embedDoc) *GenerateResult {
	res := &GenerateResult{Catalog: catalog}

	// Rows with nothing to embed cannot succeed; drop them up front.
	embeddable := docs[:0]
	for _, d := range docs {
		if d.text == "" {
			res.Failed++
			continue
		}
		embeddable = append(embeddable, d)
	}

	for start := 0; start < len(embeddable); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(embeddable) {
			end = len(embeddable)
		}
		batch := embeddable[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.text
		}

		vecs, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil || len(vecs) != len(batch) {
			s.logger.Warn().Err(err).Str("catalog", catalog).Int("batch", len(batch)).
				Msg("embedding batch failed")
			res.Failed += len(batch)
			continue
		}

		for i, d := range batch {
			if err := d.set(ctx, vecs[i]); err != nil {
				s.logger.Warn().Err(err).Str("id", d.id).Msg("storing embedding failed")
				res.Failed++
				continue
			}
			res.Processed++
		}
	}
	return res
}
