package model

import "time"

const (
	RoleUser   = "user"
	RoleBot    = "bot"
	RoleSystem = "system"
)

// ChatMessage is one turn of a chat session. Seq orders messages within the
// session and is assigned on append.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"size:36;not null;uniqueIndex:idx_session_seq" json:"-"`
	Seq       int       `gorm:"not null;uniqueIndex:idx_session_seq" json:"-"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Truncated bool      `gorm:"not null;default:false" json:"truncated,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleBot, RoleSystem:
		return true
	}
	return false
}

// AppendJob is the queued form of a message append, consumed by the single
// persistence worker in queue mode.
type AppendJob struct {
	UserID    uint        `json:"user_id"`
	SessionID string      `json:"session_id"`
	Message   ChatMessage `json:"message"`
}
