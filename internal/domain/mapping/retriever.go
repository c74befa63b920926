package mapping

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/ayushbridge/ayushbridge/internal/domain/terminology"
)

// Retrieval tuning. Keyword search over-fetches to compensate for the cruder
// ranker, then truncates to the common K.
const (
	retrieveK        = 10
	keywordK         = 15
	minVecSimilarity = 0.5
	maxKeywords      = 5
	minTokenLen      = 4
)

// Strategy labels recorded per retrieval for routing logs and metrics.
const (
	StrategyVector   = "vector"
	StrategyFulltext = "fulltext"
	StrategyKeyword  = "keyword"
	StrategyNone     = "none"
)

var keywordStopList = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "disorder": true, "disease": true,
}

// DeriveKeywords tokenizes a source description for the keyword fallback:
// split on whitespace, hyphen and pipe; lowercase; drop tokens of 3 or fewer
// characters and stop-list words; keep the first 5.
func DeriveKeywords(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '-' || r == '|'
	})
	out := make([]string, 0, maxKeywords)
	for _, tok := range tokens {
		if len(tok) < minTokenLen || keywordStopList[tok] {
			continue
		}
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// Retriever layers the three target-search strategies: vector first when an
// embedding is available, then full-text, then the keyword fallback.
type Retriever struct {
	targets terminology.TargetRepository
	logger  zerolog.Logger
}

// NewRetriever creates the candidate retriever.
func NewRetriever(targets terminology.TargetRepository, logger zerolog.Logger) *Retriever {
	return &Retriever{
		targets: targets,
		logger:  logger.With().Str("component", "retriever").Logger(),
	}
}

// Retrieve returns up to K ranked candidates for the given description text,
// along with the strategy that produced them. vec may be nil when embedding
// failed or is disabled; retrieval then starts at the full-text tier.
func (r *Retriever) Retrieve(ctx context.Context, text string, vec *pgvector.Vector) ([]*terminology.ScoredTarget, string, error) {
	if vec != nil {
		hits, err := r.targets.SearchByVector(ctx, *vec, retrieveK, minVecSimilarity)
		if err != nil {
			return nil, "", err
		}
		if len(hits) > 0 {
			return hits, StrategyVector, nil
		}
	}

	if text != "" {
		hits, err := r.targets.SearchFullText(ctx, text, retrieveK)
		if err != nil {
			return nil, "", err
		}
		if len(hits) > 0 {
			return hits, StrategyFulltext, nil
		}
	}

	keywords := DeriveKeywords(text)
	if len(keywords) == 0 {
		return nil, StrategyNone, nil
	}

	hits, err := r.targets.SearchByKeywords(ctx, keywords, keywordK)
	if err != nil {
		return nil, "", err
	}
	if len(hits) > retrieveK {
		hits = hits[:retrieveK]
	}
	if len(hits) == 0 {
		return nil, StrategyNone, nil
	}
	return hits, StrategyKeyword, nil
}
