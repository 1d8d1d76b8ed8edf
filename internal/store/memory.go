package store

import (
	"context"
	"sync"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
)

// Memory is the in-process cache tier. Writes to it always succeed, which is
// what keeps gameplay alive when every durable tier is down.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]*models.User
	lobbies map[string]*models.Lobby
}

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]*models.User),
		lobbies: make(map[string]*models.Lobby),
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) LoadUsers(ctx context.Context) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u.Clone())
	}
	return out, nil
}

func (m *Memory) LoadUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *Memory) SaveUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *Memory) SaveUsers(ctx context.Context, users []*models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range users {
		m.users[u.ID] = u.Clone()
	}
	return nil
}

func (m *Memory) LoadLobbies(ctx context.Context) ([]*models.Lobby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Lobby, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		out = append(out, l.Clone())
	}
	return out, nil
}

func (m *Memory) LoadLobby(ctx context.Context, code string) (*models.Lobby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lobbies[code]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

// SaveLobby stores a clone: the caller keeps mutating the live lobby under its
// own lock, and the sweeper reads stored records from another goroutine.
func (m *Memory) SaveLobby(ctx context.Context, l *models.Lobby) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lobbies[l.Code] = l.Clone()
	return nil
}

func (m *Memory) DeleteLobby(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lobbies, code)
	return nil
}
