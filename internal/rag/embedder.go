package rag

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"

	"github.com/webqueryai/webquery/internal/log"
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// embedBatchSize caps texts per provider request. Gemini rejects oversized
// batches, so larger inputs are split and results stitched back in order.
const embedBatchSize = 100

// GenkitEmbedder calls a Genkit embedder with retry, rate limiting, and
// dimension enforcement.
type GenkitEmbedder struct {
	embedder  ai.Embedder
	dimension int
	retrier   *Retrier
	logger    log.Logger
}

// NewGenkitEmbedder wraps a Genkit embedder. Every returned vector is
// checked against dimension; a mismatch means the provider ignored the
// requested output dimensionality and would corrupt the vector index.
func NewGenkitEmbedder(embedder ai.Embedder, dimension int, r *Retrier, logger log.Logger) (*GenkitEmbedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dimension)
	}
	if r == nil {
		return nil, fmt.Errorf("retrier is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &GenkitEmbedder{embedder: embedder, dimension: dimension, retrier: r, logger: logger}, nil
}

// Embed embeds texts and returns vectors in input order.
//
// Inputs are processed in batches of embedBatchSize. A transient provider
// failure is retried per batch; exhausted retries surface as an
// EmbeddingError with Transient set.
func (g *GenkitEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("texts[%d]", i),
				Reason: "empty text cannot be embedded",
			}
		}
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		batch, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (g *GenkitEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	dim := int32(g.dimension)
	var resp *ai.EmbedResponse
	transient, err := g.retrier.do(ctx, "embed", func(ctx context.Context) error {
		var callErr error
		resp, callErr = g.embedder.Embed(ctx, &ai.EmbedRequest{
			Input:   docs,
			Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
		})
		return callErr
	})
	if err != nil {
		return nil, &EmbeddingError{Transient: transient, Err: err}
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, &EmbeddingError{Err: fmt.Errorf(
			"provider returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))}
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) != g.dimension {
			return nil, &EmbeddingError{Err: fmt.Errorf(
				"%w: got %d, want %d", ErrDimensionMismatch, len(emb.Embedding), g.dimension)}
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}
