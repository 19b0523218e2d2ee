package csrf

import (
	"context"
	"sync"
	"time"

	"area-connect/internal/common/errors"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps states in a process-local TTL cache. The cache janitor
// evicts abandoned states; the mutex makes check-and-delete atomic.
type MemoryStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
	opts  Options
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	opts = opts.withDefaults()
	return &MemoryStore{
		cache: gocache.New(opts.TTL, time.Minute),
		opts:  opts,
	}
}

func (s *MemoryStore) Create(ctx context.Context, userID, providerKey string) (*State, error) {
	state, err := newState(s.opts, userID, providerKey)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Add(state.Token, state, s.opts.TTL); err != nil {
		return nil, errors.InternalError("state token collision", err)
	}
	return state, nil
}

func (s *MemoryStore) ValidateAndConsume(ctx context.Context, token string) (*State, error) {
	if token == "" {
		return nil, errors.InvalidStateError()
	}

	s.mu.Lock()
	v, found := s.cache.Get(token)
	if found {
		s.cache.Delete(token)
	}
	s.mu.Unlock()

	if !found {
		return nil, errors.InvalidStateError()
	}

	state, ok := v.(*State)
	if !ok || state.Expired(s.opts.Now()) {
		return nil, errors.InvalidStateError()
	}
	return state, nil
}

// Len returns the number of states currently held, expired ones included
// until the janitor runs.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}

var _ Store = (*MemoryStore)(nil)
