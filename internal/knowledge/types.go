package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// VectorDimension is the embedding dimension stored in the chunks table.
// Must match the vector(N) column in the schema and the dimensionality
// requested from the embedding provider.
const VectorDimension = 1536

// Document is one indexed web page.
type Document struct {
	ID        uuid.UUID
	URL       string
	Title     string
	RawText   string
	ScrapedAt time.Time
}

// Chunk is one embedded slice of a document.
type Chunk struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	Index       int
	TotalChunks int
	Text        string
	Embedding   []float32
}

// DocumentStats summarizes one stored document for listing.
type DocumentStats struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Chunks    int       `json:"chunks"`
	ScrapedAt time.Time `json:"scraped_at"`
}
