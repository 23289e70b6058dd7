// Package chunker splits document text into overlapping bounded segments.
//
// Splitting is recursive over a separator hierarchy: a chunk prefers to end
// on a paragraph break, then a line break, then a sentence end, then a word
// boundary, and only falls back to a hard cut at the size limit. Every chunk
// after the first starts exactly overlap runes before its predecessor ends,
// so concatenating each chunk minus its overlap prefix rebuilds the input.
package chunker

import (
	"errors"

	"tutorllm/internal/model"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ErrInvalidSize is returned when chunkSize <= overlap or overlap < 0.
var ErrInvalidSize = errors.New("chunk size must be greater than overlap and overlap must be non-negative")

var defaultSeparators = []string{"\n\n", "\n", ". ", " "}

type Splitter struct {
	size       int
	overlap    int
	separators [][]rune
}

func New(size, overlap int) (*Splitter, error) {
	if overlap < 0 || size <= overlap {
		return nil, ErrInvalidSize
	}
	seps := make([][]rune, len(defaultSeparators))
	for i, sep := range defaultSeparators {
		seps[i] = []rune(sep)
	}
	return &Splitter{size: size, overlap: overlap, separators: seps}, nil
}

// Split is a one-shot helper for New(size, overlap).Split.
func Split(documentID, text string, size, overlap int) ([]model.Chunk, error) {
	s, err := New(size, overlap)
	if err != nil {
		return nil, err
	}
	return s.Split(documentID, text), nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the ordered chunks of text. Sizes are measured in runes.
// Empty text yields no chunks.
func (s *Splitter) Split(documentID, text string) []model.Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	chunks := make([]model.Chunk, 0, n/(s.size-s.overlap)+1)
	start := 0
	for {
		end := n
		if n-start > s.size {
			end = s.cut(runes, start)
		}
		chunks = append(chunks, model.Chunk{
			DocumentID: documentID,
			Position:   len(chunks),
			Start:      start,
			Text:       string(runes[start:end]),
		})
		if end == n {
			return chunks
		}
		start = end - s.overlap
	}
}

// cut picks the end of the chunk starting at start. The end always lies in
// (start+overlap, start+size] so the next chunk makes progress.
func (s *Splitter) cut(runes []rune, start int) int {
	limit := start + s.size
	floor := start + s.overlap
	for _, sep := range s.separators {
		if end := lastBoundary(runes, start, limit, floor, sep); end > 0 {
			return end
		}
	}
	return limit
}

// lastBoundary returns the position just after the last occurrence of sep
// that ends within (floor, limit], or -1.
func lastBoundary(runes []rune, start, limit, floor int, sep []rune) int {
	for i := limit - len(sep); i >= start; i-- {
		if i+len(sep) <= floor {
			return -1
		}
		if hasPrefixAt(runes, i, sep) {
			return i + len(sep)
		}
	}
	return -1
}

func hasPrefixAt(runes []rune, i int, sep []rune) bool {
	if i+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

// Reassemble rebuilds the source text from ordered chunks by dropping the
// part of each chunk that overlaps its predecessor.
func Reassemble(chunks []model.Chunk) string {
	var out []rune
	covered := 0
	for _, c := range chunks {
		r := []rune(c.Text)
		skip := covered - c.Start
		if skip < 0 {
			skip = 0
		}
		if skip < len(r) {
			out = append(out, r[skip:]...)
		}
		covered = c.Start + len(r)
	}
	return string(out)
}
