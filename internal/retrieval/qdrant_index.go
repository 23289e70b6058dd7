package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"tutorllm/internal/model"
)

var _ Index = (*QdrantIndex)(nil)

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration

	// Transient failures (network errors, 429 and 5xx) are retried with
	// doubling delays from RetryBaseDelay up to RetryMaxDelay.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// QdrantIndex is a minimal REST client for a Qdrant collection using cosine
// distance. The collection is created on first insert, sized to the first
// vector seen.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	mu    sync.Mutex
	ready bool
}

var errQdrantNotFound = errors.New("qdrant collection not found")

func NewQdrantIndex(cfg QdrantConfig) *QdrantIndex {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	q := &QdrantIndex{
		url:         strings.TrimRight(cfg.URL, "/"),
		apiKey:      cfg.APIKey,
		collection:  cfg.Collection,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.RetryBaseDelay,
		maxDelay:    cfg.RetryMaxDelay,
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = 3
	}
	if q.baseDelay <= 0 {
		q.baseDelay = 200 * time.Millisecond
	}
	if q.maxDelay <= 0 {
		q.maxDelay = 2 * time.Second
	}
	return q
}

func (q *QdrantIndex) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", q.url, q.collection, suffix)
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dimension int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}
	err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, nil)
	if errors.Is(err, errQdrantNotFound) {
		body := map[string]any{
			"vectors": map[string]any{"size": dimension, "distance": "Cosine"},
		}
		err = q.do(ctx, http.MethodPut, q.collectionURL(""), body, nil)
	}
	if err != nil {
		return err
	}
	q.ready = true
	return nil
}

func (q *QdrantIndex) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, len(records[0].Vector)); err != nil {
		return fmt.Errorf("prepare qdrant collection failed: %w", err)
	}

	points := make([]map[string]any, len(records))
	for i, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		points[i] = map[string]any{
			"id":     r.ID,
			"vector": r.Vector,
			"payload": map[string]any{
				"document_id": r.Chunk.DocumentID,
				"position":    r.Chunk.Position,
				"start":       r.Chunk.Start,
				"text":        r.Chunk.Text,
				"created_at":  createdAt.UnixNano(),
			},
		}
	}
	if err := q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("upsert qdrant points failed: %w", err)
	}
	return nil
}

type qdrantPayload struct {
	DocumentID string `json:"document_id"`
	Position   int    `json:"position"`
	Start      int    `json:"start"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"created_at"`
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), req, &resp)
	if errors.Is(err, errQdrantNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search qdrant failed: %w", err)
	}

	sort.SliceStable(resp.Result, func(i, j int) bool {
		a, b := resp.Result[i], resp.Result[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Payload.CreatedAt < b.Payload.CreatedAt
	})
	out := make([]Scored, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, Scored{
			Chunk: model.Chunk{
				DocumentID: r.Payload.DocumentID,
				Position:   r.Payload.Position,
				Start:      r.Payload.Start,
				Text:       r.Payload.Text,
			},
			Score: r.Score,
		})
	}
	return out, nil
}

func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, q.collectionURL("/points/count"), map[string]any{"exact": true}, &resp)
	if errors.Is(err, errQdrantNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count qdrant points failed: %w", err)
	}
	return resp.Result.Count, nil
}

type qdrantStatusError struct {
	Code int
	Msg  string
}

func (e *qdrantStatusError) Error() string { return e.Msg }

func qdrantRetryable(err error) bool {
	if errors.Is(err, errQdrantNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *qdrantStatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var pe *qdrantPermanentError
	return !errors.As(err, &pe)
}

type qdrantPermanentError struct{ err error }

func (e *qdrantPermanentError) Error() string { return e.err.Error() }
func (e *qdrantPermanentError) Unwrap() error { return e.err }

func (q *QdrantIndex) do(ctx context.Context, method, url string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request failed: %w", err)
		}
	}

	delay := q.baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = q.doOnce(ctx, method, url, data, out)
		if err == nil || !qdrantRetryable(err) || attempt >= q.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > q.maxDelay {
			delay = q.maxDelay
		}
	}
	return err
}

func (q *QdrantIndex) doOnce(ctx context.Context, method, url string, data []byte, out any) error {
	var reader io.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &qdrantPermanentError{fmt.Errorf("build qdrant request failed: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errQdrantNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &qdrantStatusError{
			Code: resp.StatusCode,
			Msg:  fmt.Sprintf("qdrant %s %s failed: %s %s", method, url, resp.Status, strings.TrimSpace(string(msg))),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &qdrantPermanentError{fmt.Errorf("parse qdrant response failed: %w", err)}
		}
	}
	return nil
}
