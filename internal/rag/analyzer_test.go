package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webqueryai/webquery/internal/log"
	"github.com/webqueryai/webquery/internal/testutil"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *testutil.MockSetup) {
	t.Helper()
	setup := testutil.SetupMockGenkit(t, testDim)
	a, err := NewAnalyzer(setup.Genkit, AnalyzerConfig{
		Model:         "mock/test-model",
		Temperature:   0.1,
		MaxTokens:     2048,
		MaxSubQueries: 5,
	}, testRetrier(1), log.NewNop())
	require.NoError(t, err)
	return a, setup
}

func TestDecomposeParsesSubQueries(t *testing.T) {
	a, setup := newTestAnalyzer(t)
	setup.LLM.AddResponse("compare pricing",
		`{"sub_queries": ["What is plan A pricing?", "What is plan B pricing?"]}`)

	dec := a.Decompose(context.Background(), "compare pricing of plan A and B", nil)

	require.False(t, dec.Fallback)
	require.Len(t, dec.SubQueries, 2)
	require.Equal(t, 0, dec.SubQueries[0].Index)
	require.Equal(t, "What is plan A pricing?", dec.SubQueries[0].Text)
	require.Equal(t, 1, dec.SubQueries[1].Index)
}

func TestDecomposeStripsCodeFences(t *testing.T) {
	a, setup := newTestAnalyzer(t)
	setup.LLM.AddResponse("fenced", "```json\n{\"sub_queries\": [\"only query\"]}\n```")

	dec := a.Decompose(context.Background(), "fenced question", nil)

	require.False(t, dec.Fallback)
	require.Len(t, dec.SubQueries, 1)
	require.Equal(t, "only query", dec.SubQueries[0].Text)
}

func TestDecomposeFallsBackOnOversizedList(t *testing.T) {
	a, setup := newTestAnalyzer(t)
	setup.LLM.AddResponse("many",
		`{"sub_queries": ["q1", "q2", "q3", "q4", "q5", "q6", "q7"]}`)

	dec := a.Decompose(context.Background(), "many sub questions", nil)

	require.True(t, dec.Fallback)
	require.Len(t, dec.SubQueries, 1)
	require.Equal(t, "many sub questions", dec.SubQueries[0].Text)
}

func TestDecomposeAcceptsListAtLimit(t *testing.T) {
	a, setup := newTestAnalyzer(t)
	setup.LLM.AddResponse("exactly",
		`{"sub_queries": ["q1", "q2", "q3", "q4", "q5"]}`)

	dec := a.Decompose(context.Background(), "exactly five questions", nil)

	require.False(t, dec.Fallback)
	require.Len(t, dec.SubQueries, 5)
}

func TestDecomposeDropsBlanksAndDuplicates(t *testing.T) {
	a, setup := newTestAnalyzer(t)
	setup.LLM.AddResponse("messy",
		`{"sub_queries": ["real query", "", "  ", "real query", "another"]}`)

	dec := a.Decompose(context.Background(), "messy output", nil)

	require.False(t, dec.Fallback)
	require.Len(t, dec.SubQueries, 2)
	require.Equal(t, "real query", dec.SubQueries[0].Text)
	require.Equal(t, "another", dec.SubQueries[1].Text)
}

func TestDecomposeFallsBackOnMalformedJSON(t *testing.T) {
	a, setup := newTestAnalyzer(t)
	setup.LLM.AddResponse("broken", "Sure! Here are the sub-queries you asked for:")

	dec := a.Decompose(context.Background(), "broken json case", nil)

	require.True(t, dec.Fallback)
	require.Len(t, dec.SubQueries, 1)
	require.Equal(t, "broken json case", dec.SubQueries[0].Text)
	require.Equal(t, 0, dec.SubQueries[0].Index)
}

func TestDecomposeFallsBackOnEmptyList(t *testing.T) {
	a, setup := newTestAnalyzer(t)
	setup.LLM.AddResponse("nothing", `{"sub_queries": []}`)

	dec := a.Decompose(context.Background(), "nothing to split", nil)

	require.True(t, dec.Fallback)
	require.Len(t, dec.SubQueries, 1)
	require.Equal(t, "nothing to split", dec.SubQueries[0].Text)
}

func TestDecomposeFallsBackOnProviderFailure(t *testing.T) {
	a, setup := newTestAnalyzer(t)
	setup.LLM.FailTimes(100, errors.New("model exploded"))

	dec := a.Decompose(context.Background(), "any question", nil)

	require.True(t, dec.Fallback)
	require.Len(t, dec.SubQueries, 1)
	require.Equal(t, "any question", dec.SubQueries[0].Text)
}

func TestDecomposeIncludesHistoryInPrompt(t *testing.T) {
	a, setup := newTestAnalyzer(t)
	setup.LLM.AddResponse("follow-up", `{"sub_queries": ["resolved question"]}`)

	history := []HistoryTurn{
		{UserQuery: "what is the gadget?", BotResponse: "The gadget is a widget."},
	}
	dec := a.Decompose(context.Background(), "follow-up about it", history)
	require.False(t, dec.Fallback)

	calls := setup.LLM.Calls()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].UserMessage, "what is the gadget?")
	require.Contains(t, calls[0].UserMessage, "The gadget is a widget.")
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "no fences", in: `{"a": 1}`, want: `{"a": 1}`},
		{name: "json fence", in: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "bare fence", in: "```\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "surrounding whitespace", in: "  \n```json\n{}\n```\n ", want: "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFences(tt.in); got != tt.want {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
