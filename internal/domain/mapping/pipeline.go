package mapping

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/ayushbridge/ayushbridge/internal/domain/terminology"
	"github.com/ayushbridge/ayushbridge/internal/platform/cache"
	"github.com/ayushbridge/ayushbridge/internal/platform/telemetry"
)

// Score above which the top candidate is accepted without adjudication.
const highConfidenceThreshold = 0.9

// Floor applied to the confidence of a high-confidence bypass.
const highConfidenceFloor = 0.85

// At most this many candidates are put in front of the adjudicator.
const adjudicateTopN = 3

// Embedder computes query vectors for source descriptions.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) (pgvector.Vector, error)
}

// Candidate is one target option handed to the adjudicator.
type Candidate struct {
	Code       string
	Title      string
	Definition string
}

// Adjudication is the adjudicator's decision.
type Adjudication struct {
	SelectedCode string
	Confidence   float64
	Equivalence  string
	Reasoning    string
}

// Adjudicator asks an external model to choose among candidates.
type Adjudicator interface {
	Adjudicate(ctx context.Context, source *terminology.SourceCode, candidates []Candidate) (*Adjudication, error)
}

// PipelineState is the per-request mutable state threaded through the
// stages. It never outlives the request.
type PipelineState struct {
	Source     *terminology.SourceCode
	Normalized string
	Embedding  *pgvector.Vector
	Candidates []*terminology.ScoredTarget
	Strategy   string

	Selected    *terminology.TargetCode
	Confidence  float64
	Equivalence string
	Reasoning   string

	Errors    []string
	ElapsedMS int64
}

func (st *PipelineState) addError(msg string) {
	st.Errors = append(st.Errors, msg)
}

// Pipeline runs normalize → embed → retrieve → route → adjudicate for one
// source code. Embedder and adjudicator may be nil; the pipeline then takes
// the corresponding degraded path.
type Pipeline struct {
	retriever   *Retriever
	embedder    Embedder
	adjudicator Adjudicator
	embedCache  *cache.Cache
	metrics     *telemetry.Metrics
	logger      zerolog.Logger
}

// NewPipeline wires the pipeline. embedCache holds query vectors keyed by
// truncated text and may be shared with other components.
func NewPipeline(retriever *Retriever, embedder Embedder, adjudicator Adjudicator,
	embedCache *cache.Cache, metrics *telemetry.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		retriever:   retriever,
		embedder:    embedder,
		adjudicator: adjudicator,
		embedCache:  embedCache,
		metrics:     metrics,
		logger:      logger.With().Str("component", "pipeline").Logger(),
	}
}

// embedCacheKey truncates text deterministically to the first 100 characters.
func embedCacheKey(text string) string {
	runes := []rune(text)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return string(runes)
}

// Run executes the state machine. It returns the final state; hard failures
// (context cancellation, store errors on retrieval) surface as the error.
func (p *Pipeline) Run(ctx context.Context, source *terminology.SourceCode) (*PipelineState, error) {
	started := time.Now()
	st := &PipelineState{Source: source}
	defer func() { st.ElapsedMS = time.Since(started).Milliseconds() }()

	p.normalize(st)
	p.embed(ctx, st)
	if err := p.search(ctx, st); err != nil {
		return st, err
	}
	if err := ctx.Err(); err != nil {
		return st, err
	}
	p.route(ctx, st)

	p.metrics.RecordMappingOutcome(outcomeLabel(st))
	p.logger.Debug().
		Str("code", source.Code).
		Str("system", string(source.System)).
		Str("strategy", st.Strategy).
		Str("equivalence", st.Equivalence).
		Float64("confidence", st.Confidence).
		Int("candidates", len(st.Candidates)).
		Msg("pipeline finished")
	return st, nil
}

func outcomeLabel(st *PipelineState) string {
	if st.Selected == nil {
		return "unmatched"
	}
	if st.Reasoning == "High confidence text match" {
		return "high_confidence"
	}
	return "adjudicated"
}

// normalize builds the description text the rest of the pipeline works on.
// All fields empty is a soft error; retrieval then falls back to the code
// itself.
func (p *Pipeline) normalize(st *PipelineState) {
	defer p.observeStage("normalize", time.Now())

	st.Normalized = st.Source.DescriptionText()
	if st.Normalized == "" {
		st.addError("No text")
		st.Normalized = strings.ToLower(strings.TrimSpace(st.Source.Code))
	}
}

// embed computes the query vector, consulting the embeddings cache first.
// Failure degrades to lexical retrieval.
func (p *Pipeline) embed(ctx context.Context, st *PipelineState) {
	defer p.observeStage("embed", time.Now())

	if p.embedder == nil || st.Normalized == "" {
		return
	}

	key := embedCacheKey(st.Normalized)
	if p.embedCache != nil {
		if v, ok := p.embedCache.Get(key); ok {
			p.metrics.RecordCacheHit(cache.NameEmbeddings)
			vec := v.(pgvector.Vector)
			st.Embedding = &vec
			return
		}
		p.metrics.RecordCacheMiss(cache.NameEmbeddings)
	}

	vec, err := p.embedder.EmbedQuery(ctx, st.Normalized)
	if err != nil {
		st.addError(fmt.Sprintf("embedding failed: %v", err))
		return
	}
	st.Embedding = &vec
	if p.embedCache != nil {
		p.embedCache.Set(key, vec)
	}
}

// search invokes the candidate retriever. A store failure here is hard: no
// retrieval tier worked.
func (p *Pipeline) search(ctx context.Context, st *PipelineState) error {
	defer p.observeStage("search", time.Now())

	candidates, strategy, err := p.retriever.Retrieve(ctx, st.Normalized, st.Embedding)
	if err != nil {
		return fmt.Errorf("candidate retrieval: %w", err)
	}
	st.Candidates = candidates
	st.Strategy = strategy
	return nil
}

// route applies the confidence routing and fills the selection.
func (p *Pipeline) route(ctx context.Context, st *PipelineState) {
	if len(st.Candidates) == 0 {
		st.Selected = nil
		st.Confidence = 0
		st.Equivalence = EquivalenceUnmatched
		st.Reasoning = "No candidates"
		return
	}

	top := st.Candidates[0]
	if top.Score > highConfidenceThreshold {
		st.Selected = top.Target
		st.Confidence = top.Score
		if st.Confidence < highConfidenceFloor {
			st.Confidence = highConfidenceFloor
		}
		st.Equivalence = EquivalenceEquivalent
		st.Reasoning = "High confidence text match"
		return
	}

	p.adjudicate(ctx, st)
}

// adjudicate asks the LLM to choose among the top candidates; any failure
// falls back to the top search result.
func (p *Pipeline) adjudicate(ctx context.Context, st *PipelineState) {
	defer p.observeStage("adjudicate", time.Now())

	n := len(st.Candidates)
	if n > adjudicateTopN {
		n = adjudicateTopN
	}
	top := st.Candidates[:n]

	candidates := make([]Candidate, n)
	byCode := make(map[string]*terminology.TargetCode, n)
	for i, c := range top {
		candidates[i] = Candidate{
			Code:       c.Target.Code,
			Title:      c.Target.Title,
			Definition: c.Target.Definition,
		}
		byCode[c.Target.Code] = c.Target
	}

	decision, err := p.runAdjudicator(ctx, st.Source, candidates)
	if err == nil {
		target, known := byCode[decision.SelectedCode]
		if !known {
			err = fmt.Errorf("adjudicator selected %q which is not a candidate", decision.SelectedCode)
		} else {
			st.Selected = target
			st.Confidence = clamp01(decision.Confidence)
			st.Equivalence = strings.ToUpper(decision.Equivalence)
			if !IsValidEquivalence(st.Equivalence) {
				st.Equivalence = EquivalenceInexact
			}
			st.Reasoning = decision.Reasoning
			return
		}
	}

	st.addError(fmt.Sprintf("adjudication failed: %v", err))
	st.Selected = st.Candidates[0].Target
	st.Confidence = 0.5
	st.Equivalence = EquivalenceInexact
	st.Reasoning = "AI validation failed; using top search result"
}

func (p *Pipeline) runAdjudicator(ctx context.Context, source *terminology.SourceCode, candidates []Candidate) (*Adjudication, error) {
	if p.adjudicator == nil {
		return nil, fmt.Errorf("no adjudicator configured")
	}
	return p.adjudicator.Adjudicate(ctx, source, candidates)
}

func (p *Pipeline) observeStage(stage string, started time.Time) {
	p.metrics.ObservePipelineStage(stage, time.Since(started))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
