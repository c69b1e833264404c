package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"

	"github.com/webqueryai/webquery/internal/log"
)

// maxAnalysisResponseBytes limits LLM response size before JSON parsing (10 KB).
const maxAnalysisResponseBytes = 10 * 1024

// AnalyzerConfig configures query decomposition.
type AnalyzerConfig struct {
	Model         string
	Temperature   float32
	MaxTokens     int
	MaxSubQueries int
}

// Analyzer decomposes user questions into focused sub-queries.
//
// The analyzer is an optimization, not a gate: any failure (provider error,
// malformed JSON, empty or oversized list) degrades to a single sub-query
// holding the raw question, flagged via Decomposition.Fallback. Decompose
// never returns
// an error.
type Analyzer struct {
	g       *genkit.Genkit
	cfg     AnalyzerConfig
	retrier *Retrier
	logger  log.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(g *genkit.Genkit, cfg AnalyzerConfig, r *Retrier, logger log.Logger) (*Analyzer, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("analyzer model is required")
	}
	if cfg.MaxSubQueries <= 0 {
		return nil, fmt.Errorf("max sub-queries must be positive, got %d", cfg.MaxSubQueries)
	}
	if r == nil {
		return nil, fmt.Errorf("retrier is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Analyzer{g: g, cfg: cfg, retrier: r, logger: logger}, nil
}

// decompositionResult is the JSON shape the LLM is instructed to produce.
type decompositionResult struct {
	SubQueries []string `json:"sub_queries"`
}

// Decompose breaks query into sub-queries using recent history to resolve
// references. On any failure it returns the raw query as the single
// sub-query with Fallback set.
func (a *Analyzer) Decompose(ctx context.Context, query string, history []HistoryTurn) Decomposition {
	prompt := fmt.Sprintf(decompositionPrompt, a.cfg.MaxSubQueries, formatHistory(history), query)

	var resp *ai.ModelResponse
	_, err := a.retrier.do(ctx, "decompose", func(ctx context.Context) error {
		var callErr error
		resp, callErr = genkit.Generate(ctx, a.g,
			ai.WithModelName(a.cfg.Model),
			ai.WithPrompt(prompt),
			ai.WithConfig(&genai.GenerateContentConfig{
				Temperature:     genai.Ptr(a.cfg.Temperature),
				MaxOutputTokens: int32(a.cfg.MaxTokens),
			}),
		)
		return callErr
	})
	if err != nil {
		a.logger.Warn("query decomposition failed, using raw query", "error", err)
		return a.fallback(query)
	}

	subs, err := a.parse(resp.Text())
	if err != nil {
		a.logger.Warn("query decomposition unparseable, using raw query", "error", err)
		return a.fallback(query)
	}
	if len(subs) == 0 {
		return a.fallback(query)
	}

	out := make([]SubQuery, len(subs))
	for i, s := range subs {
		out[i] = SubQuery{Index: i, Text: s}
	}
	a.logger.Debug("query decomposed", "sub_queries", len(out))
	return Decomposition{SubQueries: out}
}

// parse extracts sub-queries from the raw LLM output.
func (a *Analyzer) parse(raw string) ([]string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}
	if len(text) > maxAnalysisResponseBytes {
		return nil, fmt.Errorf("response too large: %d bytes", len(text))
	}

	text = stripCodeFences(text)

	var result decompositionResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("parsing decomposition: %w (raw: %q)", err, truncate(text, 200))
	}

	// Drop blanks and duplicates, preserving order.
	seen := make(map[string]struct{}, len(result.SubQueries))
	valid := result.SubQueries[:0]
	for _, s := range result.SubQueries {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		valid = append(valid, s)
	}

	if len(valid) > a.cfg.MaxSubQueries {
		return nil, fmt.Errorf("too many sub-queries: %d exceeds limit %d", len(valid), a.cfg.MaxSubQueries)
	}
	return valid, nil
}

func (a *Analyzer) fallback(query string) Decomposition {
	return Decomposition{
		SubQueries: []SubQuery{{Index: 0, Text: query}},
		Fallback:   true,
	}
}

// stripCodeFences removes ```json ... ``` wrapping from LLM output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		// Remove opening fence (with optional language tag).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		// Remove closing fence.
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
