package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/webqueryai/webquery/internal/knowledge"
	"github.com/webqueryai/webquery/internal/log"
)

// ChunkStore is what the indexer needs from knowledge persistence.
// Implemented by knowledge.Store.
type ChunkStore interface {
	// ReplaceChunks atomically replaces all chunks of a document. An empty
	// chunk slice removes the document's existing chunks.
	ReplaceChunks(ctx context.Context, doc knowledge.Document, chunks []knowledge.Chunk) error
}

// Indexer runs the offline ingestion pipeline: split a document into
// chunks, embed them, and store text plus vectors.
type Indexer struct {
	chunker  *Chunker
	embedder Embedder
	store    ChunkStore
	logger   log.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(chunker *Chunker, embedder Embedder, store ChunkStore, logger log.Logger) (*Indexer, error) {
	if chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("chunk store is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Indexer{chunker: chunker, embedder: embedder, store: store, logger: logger}, nil
}

// Index chunks and embeds doc, then replaces its stored chunks in one
// transaction. Re-indexing the same document is idempotent: old chunks are
// gone, new chunks are in, never a mix. Returns the number of chunks stored.
func (ix *Indexer) Index(ctx context.Context, doc knowledge.Document) (int, error) {
	if doc.URL == "" {
		return 0, &ValidationError{Field: "url", Reason: "document URL is required"}
	}

	pieces := ix.chunker.SplitText(doc.RawText)
	if len(pieces) == 0 {
		// Still replace so a document whose content vanished loses its
		// stale chunks.
		if err := ix.store.ReplaceChunks(ctx, doc, nil); err != nil {
			return 0, fmt.Errorf("clearing chunks: %w", err)
		}
		ix.logger.Debug("document has no content, chunks cleared", "url", doc.URL)
		return 0, nil
	}

	vectors, err := ix.embedder.Embed(ctx, pieces)
	if err != nil {
		return 0, fmt.Errorf("embedding %d chunks: %w", len(pieces), err)
	}

	chunks := make([]knowledge.Chunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = knowledge.Chunk{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			Index:       i,
			TotalChunks: len(pieces),
			Text:        text,
			Embedding:   vectors[i],
		}
	}

	if err := ix.store.ReplaceChunks(ctx, doc, chunks); err != nil {
		return 0, fmt.Errorf("storing chunks: %w", err)
	}

	ix.logger.Info("document indexed",
		"url", doc.URL,
		"chunks", len(chunks),
	)
	return len(chunks), nil
}
