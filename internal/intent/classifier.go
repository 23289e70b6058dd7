package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tutorllm/internal/ai"
	"tutorllm/internal/errs"
)

// Completer is the slice of the model client the classifier needs.
type Completer interface {
	Complete(ctx context.Context, messages []ai.ChatMessage, opts ai.CompletionOptions) (string, error)
}

const classifyTemplate = `Classify the following user input into exactly one of these categories:
1. GREETING (e.g., "hi", "hello", "good morning")
2. GENERAL (e.g., "how are you", "write a python script", "what is the capital of france")
3. TEXTBOOK (e.g., "explain photosynthesis", "what does the document say about X", "summarize the chapter")

Return ONLY the category name (GREETING, GENERAL, or TEXTBOOK). Do not add any explanation.

User Input: %s
Category:`

type Classifier struct {
	llm   Completer
	model string
}

// NewClassifier builds a classifier. An empty model uses the client default.
func NewClassifier(llm Completer, model string) *Classifier {
	return &Classifier{llm: llm, model: model}
}

func BuildPrompt(utterance string) []ai.ChatMessage {
	return []ai.ChatMessage{{Role: "user", Content: fmt.Sprintf(classifyTemplate, strings.TrimSpace(utterance))}}
}

// Classify asks the model for a category at temperature 0 and normalizes
// the answer. Model failures are returned, never mapped to a default.
func (c *Classifier) Classify(ctx context.Context, utterance string) (Intent, error) {
	raw, err := c.llm.Complete(ctx, BuildPrompt(utterance), ai.CompletionOptions{
		Model:       c.model,
		Temperature: ai.Temperature(0),
	})
	if err != nil {
		if errors.Is(err, errs.ErrGenerationUnavailable) || ctx.Err() != nil {
			return "", err
		}
		return "", errs.Wrap(errs.KindGenerationUnavailable, "classify intent failed", err)
	}
	i := Normalize(raw)
	slog.Debug("intent classified", "raw", strings.TrimSpace(raw), "intent", i)
	return i, nil
}
