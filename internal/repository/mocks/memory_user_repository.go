package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/honeynil/AuthServiceTochka/internal/models"
	pkgerrors "github.com/honeynil/AuthServiceTochka/pkg/errors"
)

// MemoryUserRepository is a map-backed store for handler and router tests.
type MemoryUserRepository struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int64]models.User)}
}

func (m *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	if user == nil {
		return pkgerrors.ErrNilUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return pkgerrors.ErrUserAlreadyExists
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryUserRepository) GetByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (m *MemoryUserRepository) UpdateLastSeen(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.LastSeenAt = &at
	m.users[id] = u
	return nil
}

// SetRole changes a stored user's role.
func (m *MemoryUserRepository) SetRole(id int64, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.Role = role
		m.users[id] = u
	}
}
