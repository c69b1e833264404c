// Package knowledge persists crawled documents and their embedded chunks
// in PostgreSQL with pgvector, and serves cosine similarity search over
// the chunk index.
package knowledge
