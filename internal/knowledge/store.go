package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/webqueryai/webquery/internal/log"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// SearchHit is one similarity search result.
type SearchHit struct {
	ChunkID uuid.UUID
	// Score is cosine similarity in [-1, 1], higher is more similar.
	Score float64
	Text  string
	URL   string
	Title string
}

// upsertDocumentSQL inserts a document or refreshes it on URL conflict.
// The existing row id is kept so chunk foreign keys from older crawls
// stay consistent until ReplaceChunks swaps them.
const upsertDocumentSQL = `INSERT INTO documents (id, url, title, raw_text, scraped_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (url) DO UPDATE
	SET title = EXCLUDED.title,
	    raw_text = EXCLUDED.raw_text,
	    scraped_at = EXCLUDED.scraped_at
	RETURNING id`

const insertChunkSQL = `INSERT INTO chunks (id, document_id, chunk_index, total_chunks, chunk_text, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)`

// searchSQL orders by cosine distance; similarity = 1 - distance.
// The <=> operator uses the HNSW index on chunks.embedding.
const searchSQL = `SELECT c.id, 1 - (c.embedding <=> $1) AS similarity, c.chunk_text, d.url, d.title
	FROM chunks c
	JOIN documents d ON d.id = c.document_id
	ORDER BY c.embedding <=> $1
	LIMIT $2`

// Store persists documents and their embedded chunks in PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a knowledge Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// ReplaceChunks upserts the document and atomically swaps its chunk set.
//
// Delete-then-insert inside one transaction makes re-indexing idempotent:
// concurrent readers see either the complete old chunk set or the complete
// new one, never a mix. A nil chunk slice clears the document's chunks.
func (s *Store) ReplaceChunks(ctx context.Context, doc Document, chunks []Chunk) error {
	if doc.URL == "" {
		return fmt.Errorf("document url is required")
	}
	for i, c := range chunks {
		if len(c.Embedding) != VectorDimension {
			return fmt.Errorf("chunk %d: embedding dimension %d, want %d", i, len(c.Embedding), VectorDimension)
		}
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.ScrapedAt.IsZero() {
		doc.ScrapedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var docID uuid.UUID
	err = tx.QueryRow(ctx, upsertDocumentSQL,
		doc.ID, doc.URL, doc.Title, doc.RawText, doc.ScrapedAt,
	).Scan(&docID)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("deleting old chunks: %w", err)
	}

	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := tx.Exec(ctx, insertChunkSQL,
			id, docID, c.Index, c.TotalChunks, c.Text, pgvector.NewVector(c.Embedding),
		)
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("chunks replaced", "url", doc.URL, "chunks", len(chunks))
	return nil
}

// Search returns the limit nearest chunks to embedding by cosine
// similarity, best first.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]SearchHit, error) {
	if len(embedding) != VectorDimension {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(embedding), VectorDimension)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := s.pool.Query(ctx, searchSQL, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ChunkID, &h.Score, &h.Text, &h.URL, &h.Title); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading hits: %w", err)
	}
	return hits, nil
}

// DeleteDocument removes a document and, via ON DELETE CASCADE, its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// CountChunks returns the total number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// ListDocuments returns all stored documents with chunk counts, most
// recently scraped first.
func (s *Store) ListDocuments(ctx context.Context) ([]DocumentStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT d.id, d.url, d.title, count(c.id), d.scraped_at
		FROM documents d
		LEFT JOIN chunks c ON c.document_id = d.id
		GROUP BY d.id
		ORDER BY d.scraped_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentStats
	for rows.Next() {
		var d DocumentStats
		if err := rows.Scan(&d.ID, &d.URL, &d.Title, &d.Chunks, &d.ScrapedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	return docs, nil
}
