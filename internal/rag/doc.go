// Package rag implements the retrieval-augmented question-answering
// pipeline.
//
// Online path (Engine.Answer): the user question is decomposed into
// sub-queries by the Analyzer, each sub-query is embedded and searched
// concurrently by the Retriever, hits are deduplicated and ranked by the
// Aggregator, and the Synthesizer generates a cited answer grounded in the
// surviving sources. The completed turn is persisted only after synthesis
// succeeds.
//
// Offline path (Indexer.Index): document text is split into overlapping
// chunks, embedded in batches, and stored with vectors in a single
// transactional replace per document.
//
// All provider calls share a rate limiter and retry policy; transient
// provider failures are retried with exponential backoff and surface as
// typed errors (EmbeddingError, LLMError) when retries are exhausted.
package rag
