package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"tutorllm/internal/model"
)

// HistoryCache keeps full session records in Redis. A short-lived dirty
// marker is set while a write is in flight so readers skip the cache
// instead of repopulating it with stale data.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

// cachedSession carries the fields the JSON form of ChatSession hides.
type cachedSession struct {
	Session      model.ChatSession `json:"session"`
	UserID       uint              `json:"user_id"`
	TitleLocked  bool              `json:"title_locked"`
	Preview      string            `json:"preview"`
	MessageCount int               `json:"message_count"`
}

func (c *HistoryCache) GetSession(ctx context.Context, sessionID string) (*model.ChatSession, bool, error) {
	raw, err := c.client.Get(ctx, c.historyKey(sessionID)).Bytes()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var cached cachedSession
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	s := cached.Session
	s.UserID = cached.UserID
	s.TitleLocked = cached.TitleLocked
	s.Preview = cached.Preview
	s.MessageCount = cached.MessageCount
	for i := range s.Messages {
		s.Messages[i].SessionID = s.ID
		s.Messages[i].Seq = i + 1
	}
	return &s, true, nil
}

func (c *HistoryCache) SetSession(ctx context.Context, session *model.ChatSession) error {
	payload, err := json.Marshal(cachedSession{
		Session:      *session,
		UserID:       session.UserID,
		TitleLocked:  session.TitleLocked,
		Preview:      session.Preview,
		MessageCount: session.MessageCount,
	})
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.historyKey(session.ID), payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) MarkDirty(ctx context.Context, sessionID string) error {
	if err := c.client.Set(ctx, c.dirtyKey(sessionID), "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) ClearDirty(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.dirtyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis clear dirty marker failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, sessionID string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *HistoryCache) historyKey(sessionID string) string {
	return "chat:history:" + sessionID
}

func (c *HistoryCache) dirtyKey(sessionID string) string {
	return "chat:history:dirty:" + sessionID
}
