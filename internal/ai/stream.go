package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrStreamAborted wraps the error returned by an onChunk callback.
var ErrStreamAborted = errors.New("stream aborted by consumer")

// StreamComplete runs a streaming chat completion, handing each content delta
// to onChunk in arrival order. The request is retried only while nothing has
// been emitted. On failure the text streamed so far is returned along with
// the error.
func (c *OpenAICompatibleClient) StreamComplete(
	ctx context.Context,
	messages []ChatMessage,
	opts CompletionOptions,
	onChunk func(chunk string) error,
) (string, error) {
	bodyBytes, err := c.requestBody(messages, opts, true)
	if err != nil {
		return "", fmt.Errorf("marshal llm stream request failed: %w", err)
	}

	var full strings.Builder
	err = c.cfg.Retry.do(ctx, func() error {
		resp, err := c.post(ctx, "/chat/completions", bodyBytes)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return nil
			}

			var chunk struct {
				Error *struct {
					Message string `json:"message"`
				} `json:"error"`
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				return streamBroken(full.Len(), fmt.Errorf("llm stream error frame: %s", chunk.Error.Message))
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			full.WriteString(text)
			if err := onChunk(text); err != nil {
				return permanent(fmt.Errorf("%w: %w", ErrStreamAborted, err))
			}
		}
		if err := scanner.Err(); err != nil {
			return streamBroken(full.Len(), fmt.Errorf("scan llm stream failed: %w", err))
		}
		return streamBroken(full.Len(), fmt.Errorf("llm stream ended before [DONE]: %w", io.ErrUnexpectedEOF))
	})
	if err != nil {
		if errors.Is(err, ErrStreamAborted) {
			return full.String(), err
		}
		return full.String(), generationFailure("chat stream failed", err)
	}
	return full.String(), nil
}

// streamBroken stops retries once any text has reached the consumer.
func streamBroken(emitted int, err error) error {
	if emitted > 0 {
		return permanent(err)
	}
	return err
}
