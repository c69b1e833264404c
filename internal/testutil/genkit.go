package testutil

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockSetup bundles a Genkit instance wired with mock model and embedder.
type MockSetup struct {
	Genkit   *genkit.Genkit
	LLM      *MockLLM
	Embedder *MockEmbedder
	Model    ai.Model
	AIEmb    ai.Embedder
}

// SetupMockGenkit initializes Genkit with a mock model and mock embedder
// registered. No network access or API keys required.
//
// The model is addressable as "mock/test-model" and the embedder as
// "mock/test-embedder".
func SetupMockGenkit(t *testing.T, dim int) *MockSetup {
	t.Helper()

	g := genkit.Init(context.Background())

	llm := NewMockLLM("mock fallback response")
	emb := NewMockEmbedder(dim)

	return &MockSetup{
		Genkit:   g,
		LLM:      llm,
		Embedder: emb,
		Model:    llm.RegisterModel(g),
		AIEmb:    emb.RegisterEmbedder(g),
	}
}
