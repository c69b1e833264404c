package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"

	"github.com/webqueryai/webquery/internal/log"
)

// SynthesizerConfig configures answer generation.
type SynthesizerConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Synthesizer generates the final grounded answer from ranked sources.
type Synthesizer struct {
	g       *genkit.Genkit
	cfg     SynthesizerConfig
	retrier *Retrier
	logger  log.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(g *genkit.Genkit, cfg SynthesizerConfig, r *Retrier, logger log.Logger) (*Synthesizer, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("synthesizer model is required")
	}
	if r == nil {
		return nil, fmt.Errorf("retrier is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Synthesizer{g: g, cfg: cfg, retrier: r, logger: logger}, nil
}

// Synthesize produces a cited answer from sources.
//
// With no sources it returns a fixed "no relevant information" response and
// never calls the LLM. Otherwise every source is attached to the answer in
// rank order; the model cites them inline as [Source N] where N matches the
// attachment order.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, history []HistoryTurn, sources []RankedSource) (*Answer, error) {
	if len(sources) == 0 {
		s.logger.Debug("no sources retrieved, returning canned response")
		return &Answer{Text: noInfoResponse}, nil
	}

	prompt := synthesisPrompt(history, sources, query)

	var resp *ai.ModelResponse
	transient, err := s.retrier.do(ctx, "synthesize", func(ctx context.Context) error {
		var callErr error
		resp, callErr = genkit.Generate(ctx, s.g,
			ai.WithModelName(s.cfg.Model),
			ai.WithSystem(synthesisSystemPrompt),
			ai.WithPrompt(prompt),
			ai.WithConfig(&genai.GenerateContentConfig{
				Temperature:     genai.Ptr(s.cfg.Temperature),
				MaxOutputTokens: int32(s.cfg.MaxTokens),
			}),
		)
		return callErr
	})
	if err != nil {
		return nil, &LLMError{Model: s.cfg.Model, Transient: transient, Err: err}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, &LLMError{Model: s.cfg.Model, Err: fmt.Errorf("empty response")}
	}

	return &Answer{
		Text:    text,
		Sources: sourceRefs(sources),
	}, nil
}

// sourceRefs converts ranked sources to citation refs, deduplicating by URL
// while preserving rank order. Multiple chunks of the same page collapse to
// one reference.
func sourceRefs(sources []RankedSource) []SourceRef {
	seen := make(map[string]struct{}, len(sources))
	refs := make([]SourceRef, 0, len(sources))
	for _, src := range sources {
		if _, dup := seen[src.URL]; dup {
			continue
		}
		seen[src.URL] = struct{}{}
		refs = append(refs, SourceRef{URL: src.URL, Title: src.Title})
	}
	return refs
}
