package tokens

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and single-instance development.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*ServiceToken
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*ServiceToken)}
}

func memoryKey(userID, providerKey string) string {
	return userID + "\x00" + providerKey
}

func (s *MemoryStore) Get(ctx context.Context, userID, providerKey string) (*ServiceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[memoryKey(userID, providerKey)].Clone(), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, token *ServiceToken) (bool, error) {
	if err := validate(token); err != nil {
		return false, err
	}
	stampTimes(token)
	if token.TokenType == "" {
		token.TokenType = DefaultTokenType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(token.UserID, token.ProviderKey)
	existing, found := s.tokens[key]
	stored := token.Clone()
	if found {
		stored.CreatedAt = existing.CreatedAt
		stored.LastUsedAt = existing.LastUsedAt
		token.CreatedAt = existing.CreatedAt
	}
	s.tokens[key] = stored
	return !found, nil
}

func (s *MemoryStore) Update(ctx context.Context, token *ServiceToken) (bool, error) {
	if err := validate(token); err != nil {
		return false, err
	}
	stampTimes(token)
	if token.TokenType == "" {
		token.TokenType = DefaultTokenType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(token.UserID, token.ProviderKey)
	existing, found := s.tokens[key]
	if !found {
		return false, nil
	}
	stored := token.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.LastUsedAt = existing.LastUsedAt
	s.tokens[key] = stored
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID, providerKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(userID, providerKey)
	_, found := s.tokens[key]
	delete(s.tokens, key)
	return found, nil
}

func (s *MemoryStore) Touch(ctx context.Context, userID, providerKey string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, found := s.tokens[memoryKey(userID, providerKey)]; found {
		token.LastUsedAt = &at
	}
	return nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string) ([]*ServiceToken, error) {
	return s.list(func(t *ServiceToken) bool { return t.UserID == userID }, func(a, b *ServiceToken) bool {
		return a.ProviderKey < b.ProviderKey
	}), nil
}

func (s *MemoryStore) ListExpiring(ctx context.Context, from, to time.Time) ([]*ServiceToken, error) {
	return s.list(func(t *ServiceToken) bool {
		return t.ExpiresAt != nil && !t.ExpiresAt.Before(from) && t.ExpiresAt.Before(to) && t.HasRefreshToken()
	}, func(a, b *ServiceToken) bool {
		return a.ExpiresAt.Before(*b.ExpiresAt)
	}), nil
}

func (s *MemoryStore) list(match func(*ServiceToken) bool, less func(a, b *ServiceToken) bool) []*ServiceToken {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*ServiceToken{}
	for _, token := range s.tokens {
		if match(token) {
			result = append(result, token.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result
}

var _ Store = (*MemoryStore)(nil)
