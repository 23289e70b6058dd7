package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tutorllm/internal/model"
	"tutorllm/internal/pipeline"
)

const emptyReply = "The model returned an empty response."

// StreamTarget names the session an exchange is recorded in. An empty
// SessionID streams without recording anything.
type StreamTarget struct {
	UserID    uint
	SessionID string
}

func (t StreamTarget) persistent() bool {
	return t.SessionID != ""
}

// StreamWriter relays generated fragments to the caller as they arrive and
// records the exchange in the chat session.
type StreamWriter struct {
	chats          *ChatService
	persistTimeout time.Duration
}

func NewStreamWriter(chats *ChatService, persistTimeout time.Duration) *StreamWriter {
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &StreamWriter{chats: chats, persistTimeout: persistTimeout}
}

// Stream appends userText as a user message, runs gen while forwarding each
// fragment to onChunk, then appends the full reply as a bot message. If
// generation fails or the caller goes away, the partial reply is stored
// with truncated set, and the generation error is returned.
func (w *StreamWriter) Stream(
	ctx context.Context,
	target StreamTarget,
	userText string,
	gen pipeline.StreamFunc,
	onChunk func(string) error,
) (string, error) {
	if target.persistent() {
		if err := w.chats.AppendMessage(ctx, AppendInput{
			UserID:    target.UserID,
			SessionID: target.SessionID,
			Role:      model.RoleUser,
			Content:   userText,
		}); err != nil {
			return "", err
		}
	}

	full, genErr := gen(ctx, userText, onChunk)
	if genErr == nil && ctx.Err() != nil {
		genErr = ctx.Err()
	}
	if !target.persistent() {
		return full, genErr
	}

	// The request context may already be cancelled; the reply is recorded
	// regardless.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.persistTimeout)
	defer cancel()
	content := full
	if genErr == nil && strings.TrimSpace(content) == "" {
		content = emptyReply
	}
	if err := w.chats.AppendMessage(persistCtx, AppendInput{
		UserID:    target.UserID,
		SessionID: target.SessionID,
		Role:      model.RoleBot,
		Content:   content,
		Truncated: genErr != nil,
	}); err != nil {
		slog.Error("persist bot reply failed", "session_id", target.SessionID, "truncated", genErr != nil, "error", err)
		if genErr == nil {
			return full, err
		}
	}
	return full, genErr
}
