package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// EmbedBatch returns one embedding per input text, in input order. Failures
// surface as RetrievalUnavailable.
func (c *OpenAICompatibleClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	bodyBytes, err := json.Marshal(map[string]interface{}{
		"model": c.cfg.EmbeddingModel,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	var result [][]float32
	err = c.cfg.Retry.do(ctx, func() error {
		resp, err := c.post(ctx, "/embeddings", bodyBytes)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var parsed struct {
			Data []struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return permanent(fmt.Errorf("parse embedding json failed: %w", err))
		}
		if len(parsed.Data) != len(texts) {
			return permanent(fmt.Errorf("embedding count mismatch: got %d, want %d", len(parsed.Data), len(texts)))
		}
		sort.SliceStable(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
		result = make([][]float32, len(parsed.Data))
		for i := range parsed.Data {
			if len(parsed.Data[i].Embedding) == 0 {
				return permanent(fmt.Errorf("empty embedding at index %d", i))
			}
			result[i] = parsed.Data[i].Embedding
		}
		return nil
	})
	if err != nil {
		return nil, retrievalFailure("embedding request failed", err)
	}
	return result, nil
}

