package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webqueryai/webquery/internal/log"
	"github.com/webqueryai/webquery/internal/testutil"
)

const testDim = 8

func newTestEmbedder(t *testing.T) (*GenkitEmbedder, *testutil.MockSetup) {
	t.Helper()
	setup := testutil.SetupMockGenkit(t, testDim)
	emb, err := NewGenkitEmbedder(setup.AIEmb, testDim, testRetrier(2), log.NewNop())
	require.NoError(t, err)
	return emb, setup
}

func TestEmbedPreservesOrderAndDimension(t *testing.T) {
	emb, _ := newTestEmbedder(t)

	texts := []string{"first text", "second text", "third text"}
	vectors, err := emb.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	for i, v := range vectors {
		require.Len(t, v, testDim, "vector %d has wrong dimension", i)
	}

	// Same input yields same vector; different inputs differ.
	again, err := emb.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Equal(t, vectors, again)
	require.NotEqual(t, vectors[0], vectors[1])
}

func TestEmbedEmptyInput(t *testing.T) {
	emb, _ := newTestEmbedder(t)
	vectors, err := emb.Embed(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	emb, _ := newTestEmbedder(t)

	_, err := emb.Embed(context.Background(), []string{"ok", "", "also ok"})

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr), "want ValidationError, got %v", err)
	require.Equal(t, "texts[1]", valErr.Field)
}

func TestEmbedDetectsDimensionMismatch(t *testing.T) {
	// Mock produces testDim-sized vectors; the embedder expects double.
	setup := testutil.SetupMockGenkit(t, testDim)
	emb, err := NewGenkitEmbedder(setup.AIEmb, testDim*2, testRetrier(0), log.NewNop())
	require.NoError(t, err)

	_, err = emb.Embed(context.Background(), []string{"text"})

	var embErr *EmbeddingError
	require.True(t, errors.As(err, &embErr), "want EmbeddingError, got %v", err)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	require.False(t, embErr.Transient)
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	emb, setup := newTestEmbedder(t)

	setup.Embedder.FailTimes(1, errors.New("429 rate limited"))

	vectors, err := emb.Embed(context.Background(), []string{"text"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Equal(t, 2, setup.Embedder.Calls())
}

func TestEmbedExhaustedRetriesAreTransient(t *testing.T) {
	emb, setup := newTestEmbedder(t)

	setup.Embedder.FailTimes(100, errors.New("503 unavailable"))

	_, err := emb.Embed(context.Background(), []string{"text"})

	var embErr *EmbeddingError
	require.True(t, errors.As(err, &embErr), "want EmbeddingError, got %v", err)
	require.True(t, embErr.Transient, "exhausted retries on retryable error must be transient")
}

func TestEmbedPermanentFailureIsNotTransient(t *testing.T) {
	emb, setup := newTestEmbedder(t)

	setup.Embedder.FailTimes(100, errors.New("invalid api key"))

	_, err := emb.Embed(context.Background(), []string{"text"})

	var embErr *EmbeddingError
	require.True(t, errors.As(err, &embErr), "want EmbeddingError, got %v", err)
	require.False(t, embErr.Transient)
	require.Equal(t, 1, setup.Embedder.Calls(), "permanent errors must not retry")
}

func TestEmbedSplitsLargeBatches(t *testing.T) {
	emb, setup := newTestEmbedder(t)

	texts := make([]string, embedBatchSize*2+5)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}

	vectors, err := emb.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	require.Equal(t, 3, setup.Embedder.Calls(), "expected 3 provider batches")

	// Order must survive batching: spot-check a boundary element.
	single, err := emb.Embed(context.Background(), []string{texts[embedBatchSize]})
	require.NoError(t, err)
	require.Equal(t, single[0], vectors[embedBatchSize])
}
