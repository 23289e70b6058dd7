package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChatSession_ApplyDerivesTitleFromFirstUserMessage(t *testing.T) {
	s := &ChatSession{ID: "s1", Title: DefaultSessionTitle}

	first := &ChatMessage{Role: RoleUser, Content: "Explain the Krebs cycle in detail please"}
	s.Apply(first)
	assert.Equal(t, "Explain the Krebs cycle in det...", s.Title)
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, "s1", first.SessionID)

	s.Apply(&ChatMessage{Role: RoleUser, Content: "second question"})
	assert.Equal(t, "Explain the Krebs cycle in det...", s.Title, "title is set once")
	assert.Equal(t, 2, s.MessageCount)
}

func TestChatSession_ApplyKeepsExplicitTitle(t *testing.T) {
	s := &ChatSession{ID: "s1", Title: "Biology", TitleLocked: true}
	s.Apply(&ChatMessage{Role: RoleUser, Content: "hello"})
	assert.Equal(t, "Biology", s.Title)
}

func TestChatSession_ApplyBotMessageDoesNotSetTitle(t *testing.T) {
	s := &ChatSession{ID: "s1", Title: DefaultSessionTitle}
	s.Apply(&ChatMessage{Role: RoleBot, Content: "welcome"})
	assert.Equal(t, DefaultSessionTitle, s.Title)
	assert.False(t, s.TitleLocked)
}

func TestChatSession_ApplyTimestampsNonDecreasing(t *testing.T) {
	now := time.Now()
	s := &ChatSession{ID: "s1", UpdatedAt: now}

	earlier := &ChatMessage{Role: RoleUser, Content: "hi", CreatedAt: now.Add(-time.Minute)}
	s.Apply(earlier)
	assert.Equal(t, now, earlier.CreatedAt)

	later := &ChatMessage{Role: RoleBot, Content: "hello", CreatedAt: now.Add(time.Second)}
	s.Apply(later)
	assert.False(t, later.CreatedAt.Before(earlier.CreatedAt))
	assert.Equal(t, later.CreatedAt, s.UpdatedAt)
}

func TestChatSession_ApplyPreviewTruncated(t *testing.T) {
	s := &ChatSession{ID: "s1"}
	s.Apply(&ChatMessage{Role: RoleBot, Content: strings.Repeat("é", 80)})
	assert.Equal(t, strings.Repeat("é", 50), s.Preview)
	assert.Equal(t, s.Preview, s.Summary().Preview)
}

func TestDeriveTitle_Short(t *testing.T) {
	assert.Equal(t, "hi", DeriveTitle("hi"))
}
