package rag

import "fmt"

// Chunker splits document text into fixed-size overlapping pieces.
//
// Splitting is rune-based so multi-byte text never tears a character in
// half. Consecutive chunks share Overlap runes, which keeps sentences that
// straddle a boundary retrievable from both sides.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker with the given size and overlap in runes.
// Overlap must be smaller than size or the window could not advance.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunker, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must be non-negative, got %d", ErrInvalidChunker, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: overlap (%d) must be smaller than size (%d)", ErrInvalidChunker, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// SplitText splits text into overlapping chunks.
//
// Returns nil for empty text. Text shorter than the chunk size yields a
// single chunk. Otherwise the window advances by (size - overlap) runes
// per step and the final chunk may be shorter than size but is never empty.
func (c *Chunker) SplitText(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, c.Count(len(runes)))
	for start := 0; start < len(runes); start += step {
		end := min(start+c.size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Count returns the number of chunks SplitText produces for n runes.
// For n > size this is ceil((n - overlap) / (size - overlap)).
func (c *Chunker) Count(n int) int {
	if n <= 0 {
		return 0
	}
	if n <= c.size {
		return 1
	}
	step := c.size - c.overlap
	return (n - c.overlap + step - 1) / step
}
