// Package embedding wraps the Gemini embedding API behind the pipeline's
// embedder interfaces, with a circuit breaker and per-call timeout so a slow
// or failing provider degrades the pipeline to lexical retrieval instead of
// taking requests down with it.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"google.golang.org/genai"

	"github.com/ayushbridge/ayushbridge/internal/platform/telemetry"
)

const providerName = "gemini"

// Client generates embeddings with gemini-embedding-001. Queries and
// documents use their respective retrieval task types so the vectors line up
// with pgvector's cosine search.
type Client struct {
	client  *genai.Client
	model   string
	dim     int
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewClient creates the Gemini embedding client. Returns an error when the
// API key is empty; callers treat a nil client as "embedding disabled".
func NewClient(ctx context.Context, apiKey, model string, dim int, timeout time.Duration,
	metrics *telemetry.Metrics, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dim <= 0 {
		dim = 768
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "gemini-embedding",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		client:  client,
		model:   model,
		dim:     dim,
		timeout: timeout,
		breaker: breaker,
		metrics: metrics,
		logger:  logger.With().Str("component", "embedding").Logger(),
	}, nil
}

// Retrieval task types per the Gemini embedding API.
const (
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// EmbedQuery embeds one search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := c.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds a batch of catalog entries, preserving input order.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts, taskRetrievalDocument)
}

func (c *Client) embed(ctx context.Context, texts []string, task string) ([]pgvector.Vector, error) {
	start := time.Now()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		contents := make([]*genai.Content, len(texts))
		for i, text := range texts {
			contents[i] = genai.NewContentFromText(text, genai.RoleUser)
		}

		result, err := c.client.Models.EmbedContent(callCtx, c.model, contents,
			&genai.EmbedContentConfig{TaskType: task})
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if len(result.Embeddings) != len(texts) {
			return nil, fmt.Errorf("embed content: got %d embeddings for %d inputs",
				len(result.Embeddings), len(texts))
		}

		vecs := make([]pgvector.Vector, len(result.Embeddings))
		for i, emb := range result.Embeddings {
			if len(emb.Values) != c.dim {
				return nil, fmt.Errorf("embed content: dimension %d, want %d",
					len(emb.Values), c.dim)
			}
			vecs[i] = pgvector.NewVector(emb.Values)
		}
		return vecs, nil
	})

	elapsed := time.Since(start)
	if err != nil {
		c.recordResult(resultForError(ctx, err), elapsed)
		return nil, err
	}
	c.recordResult("ok", elapsed)
	return out.([]pgvector.Vector), nil
}

func (c *Client) recordResult(result string, elapsed time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordUpstream(providerName, result, elapsed)
	}
}

func resultForError(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
