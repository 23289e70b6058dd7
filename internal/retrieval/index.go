// Package retrieval embeds chunks, stores them in a similarity index and
// answers top-k nearest-neighbour queries.
package retrieval

import (
	"context"
	"time"

	"tutorllm/internal/model"
)

// Record is a chunk with its embedding as stored in an index. Records are
// never mutated once inserted.
type Record struct {
	ID        string
	Chunk     model.Chunk
	Vector    []float32
	CreatedAt time.Time
}

// Scored is a retrieved chunk with its cosine similarity to the query.
type Scored struct {
	Chunk model.Chunk `json:"chunk"`
	Score float64     `json:"score"`
}

// Index stores records and searches them by cosine similarity.
//
// Insert is atomic per call: concurrent searches see all of the batch or
// none of it. Search returns at most k results, best first, with equal
// scores ordered by insertion.
type Index interface {
	Insert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, k int) ([]Scored, error)
	Count(ctx context.Context) (int, error)
}
