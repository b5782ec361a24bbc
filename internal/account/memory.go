package account

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Account
	byOwner map[string]string
}

// NewMemoryStore constructs an in-memory store for development and tests.
func NewMemoryStore() Store {
	return &memoryStore{
		byID:    make(map[string]Account),
		byOwner: make(map[string]string),
	}
}

func (s *memoryStore) Create(_ context.Context, ownerID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byOwner[ownerID]; exists {
		return Account{}, ErrAlreadyExists
	}
	now := time.Now().UTC()
	acct := Account{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[acct.ID] = acct
	s.byOwner[ownerID] = acct.ID
	return acct, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (s *memoryStore) GetByOwner(_ context.Context, ownerID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOwner[ownerID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *memoryStore) List(_ context.Context, offset, limit int) ([]Account, error) {
	s.mu.RLock()
	all := make([]Account, 0, len(s.byID))
	for _, acct := range s.byID {
		all = append(all, acct)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) || limit <= 0 {
		return []Account{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *memoryStore) ApplyDelta(_ context.Context, id string, delta, expectedVersion int64) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if acct.Version != expectedVersion {
		return Account{}, ErrConflict
	}
	if acct.Balance+delta < 0 {
		return Account{}, ErrInsufficientFunds
	}
	acct.Balance += delta
	acct.Version++
	acct.UpdatedAt = time.Now().UTC()
	s.byID[id] = acct
	return acct, nil
}

func (s *memoryStore) Close(_ context.Context, id string, expectedVersion int64) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if acct.Version != expectedVersion {
		return Account{}, ErrConflict
	}
	if acct.Balance != 0 {
		return Account{}, ErrNonZeroBalance
	}
	acct.Status = StatusClosed
	acct.Version++
	acct.UpdatedAt = time.Now().UTC()
	s.byID[id] = acct
	return acct, nil
}
