package rag

// SubQuery is one focused retrieval query produced by decomposition.
// Index preserves the order the analyzer emitted, which breaks ties
// during aggregation.
type SubQuery struct {
	Index int
	Text  string
}

// Decomposition is the analyzer's output. Fallback reports that the
// analyzer could not produce a usable decomposition and fell back to the
// raw query as the single sub-query.
type Decomposition struct {
	SubQueries []SubQuery
	Fallback   bool
}

// RetrievedChunk is one vector search hit, tagged with the sub-query that
// found it.
type RetrievedChunk struct {
	ChunkID  string
	Score    float64
	SubQuery int
	Text     string
	URL      string
	Title    string
}

// RankedSource is a deduplicated chunk in final relevance order, ready for
// citation in the synthesis prompt.
type RankedSource struct {
	ChunkID string
	Score   float64
	Text    string
	URL     string
	Title   string
}

// HistoryTurn is one prior exchange supplied as conversational context.
type HistoryTurn struct {
	UserQuery   string
	BotResponse string
}

// SourceRef identifies a cited source attached to an answer.
type SourceRef struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Answer is the engine's result for one user query.
type Answer struct {
	Text       string
	Sources    []SourceRef
	SubQueries []string
	Fallback   bool
}
