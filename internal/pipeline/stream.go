// Package pipeline holds the answering pipelines: free-form streaming answers
// and schema-validated study artifacts.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"tutorllm/internal/ai"
	"tutorllm/internal/errs"
	"tutorllm/internal/retrieval"
)

// StreamFunc answers question, passing each fragment to emit as it is
// produced, and returns the full text. On failure the text emitted so far
// is returned with the error.
type StreamFunc func(ctx context.Context, question string, emit func(string) error) (string, error)

type Streamer interface {
	StreamComplete(ctx context.Context, messages []ai.ChatMessage, opts ai.CompletionOptions, onChunk func(string) error) (string, error)
}

type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]retrieval.Scored, error)
}

// Conversational answers without retrieval.
func Conversational(llm Streamer, opts ai.CompletionOptions) StreamFunc {
	return func(ctx context.Context, question string, emit func(string) error) (string, error) {
		messages := []ai.ChatMessage{{Role: "user", Content: generalPrompt(question)}}
		return llm.StreamComplete(ctx, messages, opts, emit)
	}
}

// Grounded retrieves the top k chunks for the question and answers from
// them. With no context the disclosure marker is emitted first. When
// fallback is set and retrieval is unavailable, the question is handed to
// fallback instead.
func Grounded(llm Streamer, retriever Retriever, k int, opts ai.CompletionOptions, fallback StreamFunc) StreamFunc {
	return func(ctx context.Context, question string, emit func(string) error) (string, error) {
		results, err := retriever.Query(ctx, question, k)
		if err != nil {
			if fallback != nil && errors.Is(err, errs.ErrRetrievalUnavailable) {
				slog.Warn("retrieval unavailable, answering conversationally", "error", err)
				return fallback(ctx, question, emit)
			}
			return "", err
		}

		passages := JoinContext(results)
		if passages == "" {
			prefix := DisclosureMarker + "\n\n"
			if err := emit(prefix); err != nil {
				return "", err
			}
			messages := []ai.ChatMessage{{Role: "user", Content: noContextPrompt(question)}}
			rest, err := llm.StreamComplete(ctx, messages, opts, emit)
			return prefix + rest, err
		}

		messages := []ai.ChatMessage{{Role: "user", Content: tutorPrompt(passages, question)}}
		return llm.StreamComplete(ctx, messages, opts, emit)
	}
}
