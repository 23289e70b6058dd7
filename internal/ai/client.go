package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config points the client at an OpenAI-compatible endpoint. Ollama serves
// one under /v1.
type Config struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Timeout        time.Duration
	Retry          RetryPolicy
}

// CompletionOptions tune a single chat call. Zero values leave the provider
// defaults in place.
type CompletionOptions struct {
	Model       string
	Temperature *float64
	JSON        bool
}

// Temperature is a helper for CompletionOptions.Temperature.
func Temperature(t float64) *float64 {
	return &t
}

type OpenAICompatibleClient struct {
	cfg        Config
	httpClient *http.Client
}

func NewOpenAICompatibleClient(cfg Config) *OpenAICompatibleClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Retry = cfg.Retry.withDefaults()
	return &OpenAICompatibleClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// statusError is a non-2xx response from the provider.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (c *OpenAICompatibleClient) requestBody(messages []ChatMessage, opts CompletionOptions, stream bool) ([]byte, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.ChatModel
	}
	reqBody := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   stream,
	}
	if opts.Temperature != nil {
		reqBody["temperature"] = *opts.Temperature
	}
	if opts.JSON {
		reqBody["response_format"] = map[string]string{"type": "json_object"}
	}
	return json.Marshal(reqBody)
}

func (c *OpenAICompatibleClient) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return resp, nil
}

// Complete runs a non-streaming chat completion. Transient failures are
// retried; exhaustion surfaces as GenerationUnavailable.
func (c *OpenAICompatibleClient) Complete(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (string, error) {
	bodyBytes, err := c.requestBody(messages, opts, false)
	if err != nil {
		return "", fmt.Errorf("marshal llm request failed: %w", err)
	}

	var content string
	err = c.cfg.Retry.do(ctx, func() error {
		resp, err := c.post(ctx, "/chat/completions", bodyBytes)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return permanent(fmt.Errorf("parse llm json failed: %w", err))
		}
		if len(parsed.Choices) == 0 {
			return permanent(errors.New("empty llm choices"))
		}
		content = parsed.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", generationFailure("chat completion failed", err)
	}
	return content, nil
}

// Ping checks that the endpoint answers GET /models.
func (c *OpenAICompatibleClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("models endpoint status %d", resp.StatusCode)
	}
	return nil
}
