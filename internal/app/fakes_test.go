package app

import (
	"context"
	"runtime"
	"sync"

	"tutorllm/internal/model"
)

// memoryStore is an in-memory SessionStore. Appends read and write the
// session in separate critical sections, so concurrent appends to one
// session lose updates unless the caller serializes them.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]model.ChatSession
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]model.ChatSession)}
}

func (m *memoryStore) Create(_ context.Context, s *model.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Messages = nil
	m.sessions[s.ID] = cp
	return nil
}

func (m *memoryStore) ListByUserID(_ context.Context, userID uint) ([]model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ChatSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			s.Messages = nil
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) GetByIDAndUserID(_ context.Context, id string, userID uint) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	s.Messages = append([]model.ChatMessage(nil), s.Messages...)
	return &s, nil
}

func (m *memoryStore) AppendMessage(ctx context.Context, sessionID string, userID uint, msg *model.ChatMessage) (*model.ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	s.Messages = append([]model.ChatMessage(nil), s.Messages...)
	m.mu.Unlock()
	if !ok || s.UserID != userID {
		return nil, nil
	}

	runtime.Gosched()
	s.Apply(msg)
	s.Messages = append(s.Messages, *msg)

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()
	return &s, nil
}

func (m *memoryStore) DeleteByIDAndUserID(_ context.Context, id string, userID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(m.sessions, id)
	return true, nil
}

// memoryCache is an in-memory HistoryCache.
type memoryCache struct {
	mu       sync.Mutex
	sessions map[string]model.ChatSession
	dirty    map[string]bool
	hits     int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{sessions: map[string]model.ChatSession{}, dirty: map[string]bool{}}
}

func (c *memoryCache) GetSession(_ context.Context, id string) (*model.ChatSession, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return &s, true, nil
}

func (c *memoryCache) SetSession(_ context.Context, s *model.ChatSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.ID] = *s
	return nil
}

func (c *memoryCache) DeleteSession(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
	return nil
}

func (c *memoryCache) MarkDirty(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty[id] = true
	return nil
}

func (c *memoryCache) ClearDirty(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dirty, id)
	return nil
}

func (c *memoryCache) IsDirty(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty[id], nil
}

// syncPublisher applies jobs immediately through the service, in the way
// the queue worker would.
type syncPublisher struct {
	mu   sync.Mutex
	svc  *ChatService
	jobs []model.AppendJob
}

func (p *syncPublisher) Publish(ctx context.Context, job model.AppendJob) error {
	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
	return p.svc.PersistAppend(ctx, job)
}
