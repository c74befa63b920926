// Package llm implements the mapping adjudicator on the Anthropic Messages
// API. The model picks the best ICD-11 TM2 candidate for a NAMASTE source
// concept and returns a strict JSON verdict; anything else is treated as a
// failure so the pipeline can fall back to the top search result.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ayushbridge/ayushbridge/internal/domain/mapping"
	"github.com/ayushbridge/ayushbridge/internal/domain/terminology"
	"github.com/ayushbridge/ayushbridge/internal/platform/telemetry"
)

const (
	providerName = "anthropic"

	maxResponseTokens = 1024

	// One retry on transient failure, after a short pause.
	retryBackoff = 500 * time.Millisecond

	// Candidate definitions are clipped so the prompt stays small.
	maxDefinitionChars = 300
)

const systemPrompt = `You are a medical terminology expert mapping traditional medicine concepts (Ayurveda, Siddha, Unani) to WHO ICD-11 Traditional Medicine Module 2 codes.

Given a source concept and candidate target codes, select the single best match. Respond with only a JSON object, no prose:
{"selected_code": "<code from the candidate list>", "confidence": <0.0-1.0>, "equivalence": "<EQUIVALENT|WIDER|NARROWER|INEXACT>", "reasoning": "<one or two sentences>"}`

// Adjudicator calls the Anthropic API to choose among retrieval candidates.
type Adjudicator struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewAdjudicator creates the Anthropic-backed adjudicator. Returns an error
// when the API key is empty; callers treat a nil adjudicator as "AI
// validation disabled".
func NewAdjudicator(apiKey, model string, timeout time.Duration,
	metrics *telemetry.Metrics, logger zerolog.Logger) (*Adjudicator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "anthropic-adjudicator",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Adjudicator{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
		breaker: breaker,
		metrics: metrics,
		logger:  logger.With().Str("component", "adjudicator").Logger(),
	}, nil
}

// Adjudicate implements mapping.Adjudicator with one retry on failure.
func (a *Adjudicator) Adjudicate(ctx context.Context, source *terminology.SourceCode,
	candidates []mapping.Candidate) (*mapping.Adjudication, error) {
	prompt := buildPrompt(source, candidates)

	decision, err := a.call(ctx, prompt)
	if err != nil && ctx.Err() == nil {
		a.logger.Warn().Err(err).Str("code", source.Code).Msg("adjudication retrying")
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		decision, err = a.call(ctx, prompt)
	}
	return decision, err
}

func (a *Adjudicator) call(ctx context.Context, prompt string) (*mapping.Adjudication, error) {
	start := time.Now()

	out, err := a.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		msg, err := a.client.Messages.New(callCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: maxResponseTokens,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("messages create: %w", err)
		}

		var text strings.Builder
		for _, block := range msg.Content {
			text.WriteString(block.Text)
		}
		return ParseAdjudication(text.String())
	})

	elapsed := time.Since(start)
	if err != nil {
		a.recordResult(resultForError(ctx, err), elapsed)
		return nil, err
	}
	a.recordResult("ok", elapsed)
	return out.(*mapping.Adjudication), nil
}

func (a *Adjudicator) recordResult(result string, elapsed time.Duration) {
	if a.metrics != nil {
		a.metrics.RecordUpstream(providerName, result, elapsed)
	}
}

func resultForError(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// buildPrompt renders the source concept and candidates for the model.
func buildPrompt(source *terminology.SourceCode, candidates []mapping.Candidate) string {
	var b strings.Builder

	b.WriteString("Source concept (")
	b.WriteString(string(source.System))
	b.WriteString("):\n")
	fmt.Fprintf(&b, "  Code: %s\n", source.Code)
	fmt.Fprintf(&b, "  Term: %s\n", source.Term)
	if source.EnglishName != "" {
		fmt.Fprintf(&b, "  English name: %s\n", source.EnglishName)
	}
	if desc := source.DescriptionText(); desc != "" {
		fmt.Fprintf(&b, "  Description: %s\n", desc)
	}

	b.WriteString("\nCandidate ICD-11 TM2 codes:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, c.Code, c.Title)
		if c.Definition != "" {
			fmt.Fprintf(&b, "   %s\n", clip(c.Definition, maxDefinitionChars))
		}
	}

	b.WriteString("\nSelect the best match and answer with the JSON object only.")
	return b.String()
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// ParseAdjudication extracts the first balanced JSON object from the model's
// response text and decodes it. Models occasionally wrap the object in prose
// or a code fence; everything outside the braces is ignored.
func ParseAdjudication(text string) (*mapping.Adjudication, error) {
	raw, err := firstJSONObject(text)
	if err != nil {
		return nil, err
	}

	var verdict struct {
		SelectedCode string  `json:"selected_code"`
		Confidence   float64 `json:"confidence"`
		Equivalence  string  `json:"equivalence"`
		Reasoning    string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("decode adjudication: %w", err)
	}
	if verdict.SelectedCode == "" {
		return nil, fmt.Errorf("adjudication missing selected_code")
	}

	return &mapping.Adjudication{
		SelectedCode: verdict.SelectedCode,
		Confidence:   verdict.Confidence,
		Equivalence:  verdict.Equivalence,
		Reasoning:    verdict.Reasoning,
	}, nil
}

// firstJSONObject returns the first brace-balanced substring, respecting
// string literals and escapes.
func firstJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in response")
}
