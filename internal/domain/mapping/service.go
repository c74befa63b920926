package mapping

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayushbridge/ayushbridge/internal/domain/terminology"
	"github.com/ayushbridge/ayushbridge/internal/platform/cache"
	"github.com/ayushbridge/ayushbridge/internal/platform/telemetry"
)

// Service runs translations end to end: cache check, source lookup, pipeline,
// persistence, cache repopulation.
type Service struct {
	sources  terminology.SourceRepository
	repo     Repository
	pipeline *Pipeline
	mappings *cache.Cache
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

// NewService wires the translation service. mappings is the shared mappings
// cache keyed by "system|code".
func NewService(sources terminology.SourceRepository, repo Repository, pipeline *Pipeline,
	mappings *cache.Cache, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		sources:  sources,
		repo:     repo,
		pipeline: pipeline,
		mappings: mappings,
		metrics:  metrics,
		logger:   logger.With().Str("component", "mapping").Logger(),
	}
}

func mappingCacheKey(system terminology.System, code string) string {
	return string(system) + "|" + code
}

// Translate maps one source code. persist controls whether a selected target
// is written to the store (batch jobs may opt out). A cached result returns
// without touching the pipeline. Unknown codes return
// terminology.ErrNotFound.
func (s *Service) Translate(ctx context.Context, code string, system terminology.System, persist bool) (*TranslateResponse, error) {
	started := time.Now()
	key := mappingCacheKey(system, code)

	if v, ok := s.mappings.Get(key); ok {
		s.metrics.RecordCacheHit(cache.NameMappings)
		result := v.(MappingResult)
		return &TranslateResponse{
			Success:          true,
			Source:           ResultSourceCached,
			Mapping:          result,
			ProcessingTimeMS: time.Since(started).Milliseconds(),
		}, nil
	}
	s.metrics.RecordCacheMiss(cache.NameMappings)

	source, err := s.sources.FindByCode(ctx, code, system)
	if err != nil {
		return nil, err
	}

	st, err := s.pipeline.Run(ctx, source)
	if err != nil {
		return nil, err
	}

	result := MappingResult{
		Source: MappedSource{
			Code:        source.Code,
			System:      source.System,
			Term:        source.Term,
			EnglishName: source.EnglishName,
		},
		Equivalence: st.Equivalence,
		Confidence:  st.Confidence,
		Reasoning:   st.Reasoning,
	}
	if st.Selected != nil {
		result.Target = &MappedTarget{Code: st.Selected.Code, Title: st.Selected.Title}
	}

	// Unmatched outcomes are returned but never persisted or cached, so the
	// next request re-runs the pipeline.
	if st.Selected != nil && persist {
		_, perr := s.repo.Upsert(ctx, UpsertParams{
			SourceCodeID:  source.ID,
			TargetCodeID:  st.Selected.ID,
			Equivalence:   st.Equivalence,
			Confidence:    st.Confidence,
			MappingSource: SourceAIValidated,
			Reasoning:     st.Reasoning,
		})
		if perr != nil {
			// Swallowed: the caller still gets the result, and the cache
			// stays empty so the next call retries persistence.
			s.logger.Error().Err(perr).
				Str("code", code).Str("system", string(system)).
				Msg("mapping persistence failed")
		} else {
			s.mappings.Delete(key)
			s.mappings.Set(key, result)
		}
	}

	return &TranslateResponse{
		Success:          true,
		Source:           ResultSourceAI,
		Mapping:          result,
		Errors:           st.Errors,
		ProcessingTimeMS: time.Since(started).Milliseconds(),
	}, nil
}

// BatchItemResult is one element of the sync batch response.
type BatchItemResult struct {
	Code    string          `json:"code"`
	System  string          `json:"system"`
	Found   bool            `json:"found"`
	Mapping *MappingResult  `json:"mapping,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// LookupExisting serves the sync batch endpoint: it reads stored mappings
// only and never runs the pipeline.
func (s *Service) LookupExisting(ctx context.Context, req TranslateRequest) BatchItemResult {
	item := BatchItemResult{Code: req.Code, System: req.System}

	system, err := req.Validate()
	if err != nil {
		item.Error = err.Error()
		return item
	}

	source, err := s.sources.FindByCode(ctx, req.Code, system)
	if err != nil {
		item.Error = "code not found"
		return item
	}

	rows, err := s.repo.FindBySourceCode(ctx, source.ID)
	if err != nil {
		item.Error = "lookup failed"
		return item
	}
	if len(rows) == 0 {
		return item
	}

	best := rows[0]
	item.Found = true
	item.Mapping = &MappingResult{
		Source: MappedSource{
			Code:        source.Code,
			System:      source.System,
			Term:        source.Term,
			EnglishName: source.EnglishName,
		},
		Target:      &MappedTarget{Code: best.TargetCode, Title: best.TargetTitle},
		Equivalence: best.Equivalence,
		Confidence:  best.Confidence,
		Reasoning:   best.Reasoning,
	}
	return item
}

// List pages through stored mappings.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Mapping, int, error) {
	return s.repo.List(ctx, f)
}

// AggregateStats returns the mapping statistics.
func (s *Service) AggregateStats(ctx context.Context) (*Stats, error) {
	return s.repo.AggregateStats(ctx)
}
