package casino

import (
	"context"
	"sort"
	"sync"
)

// SessionRepository stores mines sessions by id and by user.
// Implementations are safe for concurrent use and return copies.
type SessionRepository interface {
	// Create stores s, it returns ErrConflictingSession when the user
	// already has a session.
	Create(ctx context.Context, s *MinesSession) error
	// Get returns session by id or nil.
	Get(ctx context.Context, id string) (*MinesSession, error)
	// ByUser returns session of the user or nil.
	ByUser(ctx context.Context, userID int64) (*MinesSession, error)
	// Save replaces a stored session.
	Save(ctx context.Context, s *MinesSession) error
	// Remove deletes session from both indexes.
	Remove(ctx context.Context, s *MinesSession) error
	// List returns all stored sessions.
	List(ctx context.Context) ([]*MinesSession, error)
}

// MemorySessions is an in-process SessionRepository guarded by one mutex.
type MemorySessions struct {
	mu     sync.Mutex
	byID   map[string]*MinesSession
	byUser map[int64]string
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		byID:   map[string]*MinesSession{},
		byUser: map[int64]string{},
	}
}

func (m *MemorySessions) Create(_ context.Context, s *MinesSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUser[s.UserID]; ok {
		return ErrConflictingSession
	}
	m.byID[s.ID] = s.Clone()
	m.byUser[s.UserID] = s.ID

	return nil
}

func (m *MemorySessions) Get(_ context.Context, id string) (*MinesSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byID[id]; ok {
		return s.Clone(), nil
	}
	return nil, nil
}

func (m *MemorySessions) ByUser(_ context.Context, userID int64) (*MinesSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byUser[userID]
	if !ok {
		return nil, nil
	}
	return m.byID[id].Clone(), nil
}

func (m *MemorySessions) Save(_ context.Context, s *MinesSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byUser[s.UserID]; !ok || id != s.ID {
		return ErrNoActiveSession
	}
	m.byID[s.ID] = s.Clone()

	return nil
}

func (m *MemorySessions) Remove(_ context.Context, s *MinesSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.byID, s.ID)
	if id, ok := m.byUser[s.UserID]; ok && id == s.ID {
		delete(m.byUser, s.UserID)
	}

	return nil
}

func (m *MemorySessions) List(_ context.Context) ([]*MinesSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]*MinesSession, 0, len(m.byID))
	for _, s := range m.byID {
		res = append(res, s.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartedAt.Before(res[j].StartedAt) })

	return res, nil
}
