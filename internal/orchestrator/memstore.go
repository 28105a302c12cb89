package orchestrator

import (
	"context"
	"sync"

	"agentd/internal/sessions"
	"agentd/pkg/models"
)

// memStore is a minimal, process-local sessions.Store backing one helper
// agent's conversation: spec §4.7 requires a helper's message log to be
// "own in-memory, not persisted," so helper turns run through the same
// Engine.loop machinery as a real session but against this throwaway store
// instead of the durable adapter.
type memStore struct {
	mu       sync.Mutex
	messages []*models.Message
	memory   string
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) UpsertUser(ctx context.Context, username string) (*models.User, error) {
	return &models.User{ID: username, Username: username}, nil
}

func (m *memStore) UpsertSession(ctx context.Context, userID, name string) (*models.Session, error) {
	return &models.Session{ID: name, UserID: userID, Name: name, Status: models.StatusIdle}, nil
}

func (m *memStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return &models.Session{ID: sessionID, Status: models.StatusIdle}, nil
}

func (m *memStore) SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	return nil
}

func (m *memStore) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return nil, nil
}

func (m *memStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memStore) ListMessages(ctx context.Context, sessionID string, opts sessions.ListOptions) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Message, len(m.messages))
	copy(out, m.messages)
	return out, nil
}

func (m *memStore) ResetHistory(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	return nil
}

func (m *memStore) GetMemory(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memory, nil
}

func (m *memStore) SetMemory(ctx context.Context, userID, memory string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memory = memory
	return nil
}

func (m *memStore) CreateDocument(ctx context.Context, doc *models.Document) error { return nil }

func (m *memStore) ListDocuments(ctx context.Context, userID string) ([]*models.Document, error) {
	return nil, nil
}

func (m *memStore) Close() error { return nil }
