package rag

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/webqueryai/webquery/internal/log"
)

// Searcher performs vector similarity search over the chunk index.
// Hits come back in descending score order.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, limit int) ([]RetrievedChunk, error)
}

// RetrieverConfig configures fan-out retrieval.
type RetrieverConfig struct {
	// DocumentsPerQuery is the top-K limit per sub-query.
	DocumentsPerQuery int
	// MaxConcurrent bounds simultaneous in-flight sub-query pipelines.
	MaxConcurrent int
}

// Retriever runs embed+search for each sub-query concurrently.
//
// Sub-queries are independent: one failing (embedding or search) costs only
// its own results. Only when every sub-query fails does Retrieve return a
// RetrievalError, because then there is nothing to synthesize from.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	cfg      RetrieverConfig
	sem      *semaphore.Weighted
	logger   log.Logger
}

// NewRetriever creates a Retriever. The semaphore bounds concurrency across
// a single Retrieve call; the provider rate limiter inside the embedder
// bounds global request rate.
func NewRetriever(embedder Embedder, searcher Searcher, cfg RetrieverConfig, logger log.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.DocumentsPerQuery <= 0 {
		return nil, fmt.Errorf("documents per query must be positive, got %d", cfg.DocumentsPerQuery)
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent must be positive, got %d", cfg.MaxConcurrent)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:   logger,
	}, nil
}

// Retrieve embeds each sub-query and searches the index, concurrently up to
// the configured bound. Results from all sub-queries are returned in one
// slice for the aggregator; each hit is tagged with its sub-query index.
func (r *Retriever) Retrieve(ctx context.Context, subs []SubQuery) ([]RetrievedChunk, error) {
	if len(subs) == 0 {
		return nil, nil
	}

	perQuery := make([][]RetrievedChunk, len(subs))
	var mu sync.Mutex
	var failures []error

	g, ctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		g.Go(func() error {
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return fmt.Errorf("acquiring retrieval slot: %w", err)
			}
			defer r.sem.Release(1)

			hits, err := r.retrieveOne(ctx, sub)
			if err != nil {
				// A single sub-query failure degrades results, it does
				// not abort the others.
				r.logger.Warn("sub-query retrieval failed",
					"sub_query", sub.Index,
					"error", err,
				)
				mu.Lock()
				failures = append(failures, fmt.Errorf("sub-query %d: %w", sub.Index, err))
				mu.Unlock()
				return nil
			}
			perQuery[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(failures) == len(subs) {
		return nil, &RetrievalError{SubQueries: len(subs), Errs: failures}
	}

	var all []RetrievedChunk
	for _, hits := range perQuery {
		all = append(all, hits...)
	}
	r.logger.Debug("retrieval complete",
		"sub_queries", len(subs),
		"failed", len(failures),
		"chunks", len(all),
	)
	return all, nil
}

func (r *Retriever) retrieveOne(ctx context.Context, sub SubQuery) ([]RetrievedChunk, error) {
	vectors, err := r.embedder.Embed(ctx, []string{sub.Text})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}

	hits, err := r.searcher.Search(ctx, vectors[0], r.cfg.DocumentsPerQuery)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	for i := range hits {
		hits[i].SubQuery = sub.Index
	}
	return hits, nil
}
