package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// BatchEmbedder turns texts into vectors, one per text, in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder splits work into batches and embeds them with bounded
// concurrency.
type Embedder struct {
	backend     BatchEmbedder
	batchSize   int
	concurrency int
}

func NewEmbedder(backend BatchEmbedder, batchSize, concurrency int) *Embedder {
	if batchSize <= 0 {
		batchSize = 32
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Embedder{backend: backend, batchSize: batchSize, concurrency: concurrency}
}

// EmbedBatch returns embeddings for texts in input order. Nil input yields
// nil.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.backend.EmbedBatch(gCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding texts %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
