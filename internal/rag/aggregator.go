package rag

import (
	"cmp"
	"fmt"
	"slices"
)

// Aggregator merges per-sub-query hits into one deduplicated, ranked list.
type Aggregator struct {
	maxTotal int
}

// NewAggregator creates an Aggregator capping output at maxTotal sources.
func NewAggregator(maxTotal int) (*Aggregator, error) {
	if maxTotal <= 0 {
		return nil, fmt.Errorf("max total must be positive, got %d", maxTotal)
	}
	return &Aggregator{maxTotal: maxTotal}, nil
}

// Aggregate deduplicates hits by chunk ID keeping the best score, orders by
// score descending, and truncates to the configured cap.
//
// Ordering is fully deterministic: ties on score fall back to the earliest
// sub-query that found the chunk, then to chunk ID. Two hits for the same
// chunk must agree on text and source metadata; a disagreement means the
// index changed mid-query and aggregation fails rather than citing
// inconsistent content.
func (a *Aggregator) Aggregate(hits []RetrievedChunk) ([]RankedSource, error) {
	type merged struct {
		RetrievedChunk
		earliestSub int
	}

	byID := make(map[string]*merged, len(hits))
	order := make([]string, 0, len(hits))

	for _, h := range hits {
		existing, ok := byID[h.ChunkID]
		if !ok {
			m := &merged{RetrievedChunk: h, earliestSub: h.SubQuery}
			byID[h.ChunkID] = m
			order = append(order, h.ChunkID)
			continue
		}

		if existing.Text != h.Text || existing.URL != h.URL || existing.Title != h.Title {
			return nil, &AggregationInvariantError{ChunkID: h.ChunkID}
		}

		if h.Score > existing.Score {
			existing.Score = h.Score
		}
		if h.SubQuery < existing.earliestSub {
			existing.earliestSub = h.SubQuery
		}
	}

	ranked := make([]*merged, 0, len(order))
	for _, id := range order {
		ranked = append(ranked, byID[id])
	}

	slices.SortStableFunc(ranked, func(x, y *merged) int {
		if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(x.earliestSub, y.earliestSub); c != 0 {
			return c
		}
		return cmp.Compare(x.ChunkID, y.ChunkID)
	})

	if len(ranked) > a.maxTotal {
		ranked = ranked[:a.maxTotal]
	}

	out := make([]RankedSource, len(ranked))
	for i, m := range ranked {
		out[i] = RankedSource{
			ChunkID: m.ChunkID,
			Score:   m.Score,
			Text:    m.Text,
			URL:     m.URL,
			Title:   m.Title,
		}
	}
	return out, nil
}
