package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tutorllm/internal/model"
)

// ChatRepository persists chat sessions and their messages.
type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Create(ctx context.Context, session *model.ChatSession) error {
	if err := r.db.WithContext(ctx).Omit("Messages").Create(session).Error; err != nil {
		return fmt.Errorf("create chat session failed: %w", err)
	}
	return nil
}

// ListByUserID returns the user's sessions, most recently updated first,
// without messages.
func (r *ChatRepository) ListByUserID(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").Order("id").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list chat sessions failed: %w", err)
	}
	return sessions, nil
}

// GetByIDAndUserID loads a session with its messages in append order. A
// missing session yields nil, nil.
func (r *ChatRepository) GetByIDAndUserID(ctx context.Context, id string, userID uint) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("id = ? AND user_id = ?", id, userID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat session failed: %w", err)
	}
	return &session, nil
}

// AppendMessage adds msg to the session under a row lock so concurrent
// appends to one session are serialized. It returns the updated session
// (without messages), or nil, nil if the session does not exist.
func (r *ChatRepository) AppendMessage(ctx context.Context, sessionID string, userID uint, msg *model.ChatMessage) (*model.ChatSession, error) {
	var updated *model.ChatSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", sessionID, userID).
			First(&session).Error; err != nil {
			return err
		}

		session.Apply(msg)
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("create chat message failed: %w", err)
		}
		if err := tx.Model(&model.ChatSession{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
			"title":         session.Title,
			"title_locked":  session.TitleLocked,
			"preview":       session.Preview,
			"message_count": session.MessageCount,
			"updated_at":    session.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("update chat session failed: %w", err)
		}
		updated = &session
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("append chat message failed: %w", err)
	}
	return updated, nil
}

// DeleteByIDAndUserID removes a session and all its messages in one
// transaction. It reports whether the session existed.
func (r *ChatRepository) DeleteByIDAndUserID(ctx context.Context, id string, userID uint) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", id, userID).
			First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&model.ChatMessage{}).Error; err != nil {
			return fmt.Errorf("delete chat messages failed: %w", err)
		}
		if err := tx.Delete(&model.ChatSession{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete chat session failed: %w", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete chat failed: %w", err)
	}
	return deleted, nil
}
