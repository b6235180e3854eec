// Package repotest holds an in-memory StaffRepository for service and handler tests.
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/museum-visits/pkg/auth"
	"github.com/diagnosis/museum-visits/services/auth/internal/domain"
	"github.com/diagnosis/museum-visits/services/auth/internal/repository"
)

type StaffStore struct {
	mu    sync.Mutex
	users map[string]*domain.StaffUser
	now   time.Time
}

var _ repository.StaffRepository = (*StaffStore)(nil)

func NewStaffStore() *StaffStore {
	return &StaffStore{
		users: make(map[string]*domain.StaffUser),
		now:   time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *StaffStore) tick() time.Time {
	s.now = s.now.Add(time.Second)
	return s.now
}

func (s *StaffStore) Create(_ context.Context, email, passwordHash, role string) (*domain.StaffUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return nil, domain.ErrEmailTaken
		}
	}
	at := s.tick()
	u := &domain.StaffUser{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *StaffStore) FindByEmail(_ context.Context, email string) (*domain.StaffUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *StaffStore) FindByID(_ context.Context, id string) (*domain.StaffUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *StaffStore) List(_ context.Context, limit, offset int) ([]domain.StaffUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.StaffUser, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *StaffStore) SetActive(_ context.Context, id string, active bool) (*domain.StaffUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	u.IsActive = active
	u.UpdatedAt = s.tick()
	cp := *u
	return &cp, nil
}

func (s *StaffStore) CountAdmins(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, u := range s.users {
		if u.Role == auth.RoleAdmin && u.IsActive {
			n++
		}
	}
	return n, nil
}
