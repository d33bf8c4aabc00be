package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/records/internal/platform/apperr"
)

type mockUserRepo struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*User
	clock time.Time
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		byID:  make(map[uuid.UUID]*User),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockUserRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Username == u.Username {
			return apperr.Constraint("a user with that username already exists")
		}
	}
	u.ID = uuid.New()
	u.IsActive = true
	u.CreatedAt = m.tick()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[u.ID]
	if !ok {
		return apperr.NotFound("user not found")
	}
	stored.Email = u.Email
	stored.FirstName = u.FirstName
	stored.LastName = u.LastName
	stored.UpdatedAt = m.tick()
	u.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m *mockUserRepo) deactivate(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].IsActive = false
}

func (m *mockUserRepo) remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}
