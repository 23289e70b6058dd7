package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tutorllm/internal/errs"
	"tutorllm/internal/model"
)

// Gateway is the single entry point for storing and retrieving chunks.
type Gateway struct {
	embedder *Embedder
	index    Index
	now      func() time.Time
}

func NewGateway(embedder *Embedder, index Index) *Gateway {
	return &Gateway{embedder: embedder, index: index, now: time.Now}
}

// Insert embeds chunks and appends them to the index. It returns the number
// of records stored. Insertion is additive: identical chunks are stored
// again.
func (g *Gateway) Insert(ctx context.Context, chunks []model.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, unavailable("embed chunks failed", err)
	}

	now := g.now()
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{ID: uuid.NewString(), Chunk: c, Vector: vecs[i], CreatedAt: now}
	}
	if err := g.index.Insert(ctx, records); err != nil {
		return 0, unavailable("store embeddings failed", err)
	}
	return len(records), nil
}

// Query returns up to k chunks most similar to text, best first. An empty
// index yields an empty slice.
func (g *Gateway) Query(ctx context.Context, text string, k int) ([]Scored, error) {
	if k <= 0 {
		return nil, errs.New(errs.KindInvalidInput, "k must be positive")
	}
	vecs, err := g.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, unavailable("embed query failed", err)
	}
	results, err := g.index.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, unavailable("search index failed", err)
	}
	if results == nil {
		results = []Scored{}
	}
	return results, nil
}

// Count reports how many records the index holds.
func (g *Gateway) Count(ctx context.Context) (int, error) {
	n, err := g.index.Count(ctx)
	if err != nil {
		return 0, unavailable("count index failed", err)
	}
	return n, nil
}

func unavailable(detail string, err error) error {
	if errors.Is(err, errs.ErrRetrievalUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", detail, err)
	}
	return errs.Wrap(errs.KindRetrievalUnavailable, detail, err)
}
