package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"tutorllm/internal/errs"
	"tutorllm/internal/model"
	"tutorllm/internal/pkg/keylock"
)

type SessionStore interface {
	Create(ctx context.Context, session *model.ChatSession) error
	ListByUserID(ctx context.Context, userID uint) ([]model.ChatSession, error)
	GetByIDAndUserID(ctx context.Context, id string, userID uint) (*model.ChatSession, error)
	AppendMessage(ctx context.Context, sessionID string, userID uint, msg *model.ChatMessage) (*model.ChatSession, error)
	DeleteByIDAndUserID(ctx context.Context, id string, userID uint) (bool, error)
}

type HistoryCache interface {
	GetSession(ctx context.Context, sessionID string) (*model.ChatSession, bool, error)
	SetSession(ctx context.Context, session *model.ChatSession) error
	DeleteSession(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	ClearDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

// AppendPublisher hands appends to the queue-mode persistence worker.
type AppendPublisher interface {
	Publish(ctx context.Context, job model.AppendJob) error
}

// ChatService owns chat session history. Appends to one session are
// serialized by a per-session lock; in queue mode they are instead
// published and applied by the single persistence worker.
type ChatService struct {
	store        SessionStore
	historyCache HistoryCache
	publisher    AppendPublisher
	locks        *keylock.Map
	now          func() time.Time
}

type CreateSessionInput struct {
	UserID uint
	Title  string
}

type AppendInput struct {
	UserID    uint
	SessionID string
	Role      string
	Content   string
	Truncated bool
}

// NewChatService builds the service. historyCache and publisher may be nil;
// a nil publisher means appends are written synchronously.
func NewChatService(store SessionStore, historyCache HistoryCache, publisher AppendPublisher) *ChatService {
	return &ChatService{
		store:        store,
		historyCache: historyCache,
		publisher:    publisher,
		locks:        keylock.New(),
		now:          time.Now,
	}
}

func (s *ChatService) CreateSession(ctx context.Context, input CreateSessionInput) (*model.ChatSession, error) {
	if input.UserID == 0 {
		return nil, errs.ErrInvalidInput
	}

	title := strings.TrimSpace(input.Title)
	locked := title != ""
	if !locked {
		title = model.DefaultSessionTitle
	}
	now := s.now()
	session := &model.ChatSession{
		ID:          uuid.NewString(),
		UserID:      input.UserID,
		Title:       title,
		TitleLocked: locked,
		CreatedAt:   now,
		UpdatedAt:   now,
		Messages:    []model.ChatMessage{},
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns summaries ordered by most recent activity.
func (s *ChatService) ListSessions(ctx context.Context, userID uint) ([]model.ChatSummary, error) {
	if userID == 0 {
		return nil, errs.ErrInvalidInput
	}
	sessions, err := s.store.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	out := make([]model.ChatSummary, len(sessions))
	for i := range sessions {
		out[i] = sessions[i].Summary()
	}
	return out, nil
}

// GetSession returns the full record with messages in append order.
func (s *ChatService) GetSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error) {
	if userID == 0 || strings.TrimSpace(sessionID) == "" {
		return nil, errs.ErrInvalidInput
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetSession(ctx, sessionID); cacheErr == nil && hit && cached.UserID == userID {
				return cached, nil
			}
		}
	}

	if s.historyCache != nil {
		// An append between the store read and the fill would otherwise
		// leave the pre-append log cached.
		unlock := s.locks.Lock(sessionID)
		defer unlock()
	}
	session, err := s.store.GetByIDAndUserID(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, notFound(sessionID)
	}
	if session.Messages == nil {
		session.Messages = []model.ChatMessage{}
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetSession(ctx, session)
		}
	}
	return session, nil
}

// DeleteSession removes the session and its messages atomically.
func (s *ChatService) DeleteSession(ctx context.Context, userID uint, sessionID string) error {
	if userID == 0 || strings.TrimSpace(sessionID) == "" {
		return errs.ErrInvalidInput
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	deleted, err := s.store.DeleteByIDAndUserID(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteSession(ctx, sessionID)
	}
	if !deleted {
		return notFound(sessionID)
	}
	return nil
}

// AppendMessage adds one message to a session. Only truncated bot messages
// may be empty.
func (s *ChatService) AppendMessage(ctx context.Context, input AppendInput) error {
	if input.UserID == 0 || strings.TrimSpace(input.SessionID) == "" {
		return errs.ErrInvalidInput
	}
	if !model.ValidRole(input.Role) {
		return errs.New(errs.KindInvalidInput, fmt.Sprintf("invalid role %q", input.Role))
	}
	if strings.TrimSpace(input.Content) == "" && !input.Truncated {
		return errs.New(errs.KindInvalidInput, "message content is empty")
	}

	job := model.AppendJob{
		UserID:    input.UserID,
		SessionID: input.SessionID,
		Message: model.ChatMessage{
			Role:      input.Role,
			Content:   input.Content,
			Truncated: input.Truncated,
			CreatedAt: s.now(),
		},
	}

	if s.publisher == nil {
		return s.PersistAppend(ctx, job)
	}

	if _, err := s.GetSession(ctx, input.UserID, input.SessionID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, input.SessionID)
		_ = s.historyCache.DeleteSession(ctx, input.SessionID)
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		return fmt.Errorf("enqueue chat message failed: %w", err)
	}
	return nil
}

// PersistAppend writes job to the store. The queue-mode worker calls it
// directly; synchronous mode reaches it through AppendMessage.
func (s *ChatService) PersistAppend(ctx context.Context, job model.AppendJob) error {
	unlock := s.locks.Lock(job.SessionID)
	defer unlock()

	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, job.SessionID)
	}
	msg := job.Message
	session, err := s.store.AppendMessage(ctx, job.SessionID, job.UserID, &msg)
	if s.historyCache != nil {
		if err := s.historyCache.DeleteSession(ctx, job.SessionID); err != nil {
			slog.Warn("invalidate history cache failed", "session_id", job.SessionID, "error", err)
		}
		_ = s.historyCache.ClearDirty(ctx, job.SessionID)
	}
	if err != nil {
		return err
	}
	if session == nil {
		return notFound(job.SessionID)
	}
	return nil
}

func notFound(sessionID string) error {
	return errs.New(errs.KindSessionNotFound, fmt.Sprintf("chat %s not found", sessionID))
}
