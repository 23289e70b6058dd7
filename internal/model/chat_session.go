package model

import (
	"time"
	"unicode/utf8"
)

const (
	DefaultSessionTitle = "New Chat"

	titleMaxRunes   = 30
	previewMaxRunes = 50
)

// ChatSession is the append-only message log of one conversation. Its JSON
// form {id, title, created_at, updated_at, messages} is the canonical
// persisted record.
type ChatSession struct {
	ID           string        `gorm:"primaryKey;size:36" json:"id"`
	UserID       uint          `gorm:"not null;index" json:"-"`
	Title        string        `gorm:"size:128;not null" json:"title"`
	TitleLocked  bool          `gorm:"not null;default:false" json:"-"`
	Preview      string        `gorm:"size:256" json:"-"`
	MessageCount int           `gorm:"not null;default:0" json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `gorm:"index" json:"updated_at"`
	Messages     []ChatMessage `gorm:"foreignKey:SessionID;references:ID" json:"messages"`
}

// ChatSummary is the list view of a session.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
	Preview   string    `json:"preview"`
}

func (s *ChatSession) Summary() ChatSummary {
	return ChatSummary{
		ID:        s.ID,
		Title:     s.Title,
		UpdatedAt: s.UpdatedAt,
		Preview:   s.Preview,
	}
}

// Apply folds msg into the session bookkeeping: it assigns the next sequence
// number, keeps timestamps non-decreasing, derives the title from the first
// user message unless the title was fixed at creation, and refreshes the
// preview. Callers must hold the session's append lock.
func (s *ChatSession) Apply(msg *ChatMessage) {
	msg.SessionID = s.ID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.CreatedAt.Before(s.UpdatedAt) {
		msg.CreatedAt = s.UpdatedAt
	}

	s.MessageCount++
	msg.Seq = s.MessageCount

	if !s.TitleLocked && msg.Role == RoleUser {
		s.Title = DeriveTitle(msg.Content)
		s.TitleLocked = true
	}
	s.Preview = truncateRunes(msg.Content, previewMaxRunes, "")
	s.UpdatedAt = msg.CreatedAt
}

// DeriveTitle builds a session title from the first user message.
func DeriveTitle(content string) string {
	return truncateRunes(content, titleMaxRunes, "...")
}

func truncateRunes(s string, max int, suffix string) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + suffix
}
