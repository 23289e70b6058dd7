package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorllm/internal/errs"
)

func newTestClient(url string) *OpenAICompatibleClient {
	return NewOpenAICompatibleClient(Config{
		BaseURL:        url + "/",
		ChatModel:      "llama3",
		EmbeddingModel: "nomic-embed-text",
		Timeout:        5 * time.Second,
		Retry:          RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
}

func TestComplete_SendsOptions(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"TEXTBOOK"}}]}`)
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Complete(t.Context(), []ChatMessage{{Role: "user", Content: "hi"}}, CompletionOptions{
		Temperature: Temperature(0),
		JSON:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, "TEXTBOOK", out)
	assert.Equal(t, "llama3", got["model"])
	assert.Equal(t, float64(0), got["temperature"])
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, got["response_format"])
	assert.Equal(t, false, got["stream"])
}

func TestComplete_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Complete(t.Context(), nil, CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(t.Context(), nil, CompletionOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrGenerationUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(t.Context(), nil, CompletionOptions{})
	assert.ErrorIs(t, err, errs.ErrGenerationUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func writeSSE(w http.ResponseWriter, deltas ...string) {
	for _, d := range deltas {
		payload, _ := json.Marshal(map[string]interface{}{
			"choices": []map[string]interface{}{{"delta": map[string]string{"content": d}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestStreamComplete_DeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		writeSSE(w, "Photo", "synthesis", " is")
	}))
	defer srv.Close()

	var got []string
	full, err := newTestClient(srv.URL).StreamComplete(t.Context(), nil, CompletionOptions{}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Photo", "synthesis", " is"}, got)
	assert.Equal(t, "Photosynthesis is", full)
}

func TestStreamComplete_ConsumerAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, "a", "b", "c")
	}))
	defer srv.Close()

	stop := errors.New("client gone")
	full, err := newTestClient(srv.URL).StreamComplete(t.Context(), nil, CompletionOptions{}, func(chunk string) error {
		if chunk == "b" {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrStreamAborted)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, "ab", full)
}

func TestStreamComplete_ErrorFrameAfterText(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Photo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"model crashed\"}}\n\n")
	}))
	defer srv.Close()

	full, err := newTestClient(srv.URL).StreamComplete(t.Context(), nil, CompletionOptions{}, func(string) error { return nil })
	assert.ErrorIs(t, err, errs.ErrGenerationUnavailable)
	assert.Contains(t, err.Error(), "model crashed")
	assert.Equal(t, "Photo", full)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStreamComplete_EndsWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Photo\"}}]}\n\n")
	}))
	defer srv.Close()

	full, err := newTestClient(srv.URL).StreamComplete(t.Context(), nil, CompletionOptions{}, func(string) error { return nil })
	assert.ErrorIs(t, err, errs.ErrGenerationUnavailable)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "Photo", full)
}

func TestStreamComplete_ErrorFrameBeforeTextIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, "data: {\"error\":{\"message\":\"warming up\"}}\n\n")
			return
		}
		writeSSE(w, "ok")
	}))
	defer srv.Close()

	full, err := newTestClient(srv.URL).StreamComplete(t.Context(), nil, CompletionOptions{}, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", full)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	vecs, err := newTestClient(srv.URL).EmbedBatch(t.Context(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1]}]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).EmbedBatch(t.Context(), []string{"a", "b"})
	assert.ErrorIs(t, err, errs.ErrRetrievalUnavailable)
}

func TestEmbedBatch_Unreachable(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	_, err := c.EmbedBatch(t.Context(), []string{"a"})
	assert.ErrorIs(t, err, errs.ErrRetrievalUnavailable)
}
