package notifications

import (
	"context"
	"sort"
	"sync"
	"time"

	"area-connect/internal/common/errors"
)

// MemoryStore is a process-local Store for tests and development.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Notification
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Notification)}
}

func clone(n *Notification) *Notification {
	c := *n
	if n.ResolvedAt != nil {
		at := *n.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}

func (s *MemoryStore) Record(ctx context.Context, n *Notification) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.UserID == n.UserID && existing.ProviderKey == n.ProviderKey &&
			existing.Kind == n.Kind && !existing.IsResolved {
			existing.Message = n.Message
			existing.CreatedAt = n.CreatedAt
			existing.IsRead = false
			return clone(existing), nil
		}
	}
	s.items[n.ID] = clone(n)
	return n, nil
}

func (s *MemoryStore) List(ctx context.Context, userID string, filter Filter) ([]*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []*Notification{}
	for _, n := range s.items {
		if n.UserID == userID && filter.matches(n) {
			result = append(result, clone(n))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if len(result) > filter.limit() {
		result = result[:filter.limit()]
	}
	return result, nil
}

func (s *MemoryStore) owned(userID, id string) (*Notification, error) {
	n, found := s.items[id]
	if !found || n.UserID != userID {
		return nil, errors.NotFoundError("notification")
	}
	return n, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.owned(userID, id)
	if err != nil {
		return err
	}
	n.IsRead = true
	return nil
}

func (s *MemoryStore) MarkResolved(ctx context.Context, userID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.owned(userID, id)
	if err != nil {
		return err
	}
	n.IsResolved = true
	if n.ResolvedAt == nil {
		n.ResolvedAt = &at
	}
	return nil
}

func (s *MemoryStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, n := range s.items {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.items {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ResolveOpen(ctx context.Context, userID, providerKey string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, n := range s.items {
		if n.UserID == userID && n.ProviderKey == providerKey && !n.IsResolved {
			n.IsResolved = true
			resolved := at
			n.ResolvedAt = &resolved
			count++
		}
	}
	return count, nil
}

var _ Store = (*MemoryStore)(nil)
