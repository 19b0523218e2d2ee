package csrf

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"area-connect/internal/common/errors"
	"area-connect/internal/redis"
)

const redisKeyPrefix = "csrf:state:"

// RedisStore shares states across processes. Entries are written with an
// expiry and taken with GETDEL, which is atomic on the server.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, opts Options) (*RedisStore, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required for the redis state store")
	}
	return &RedisStore{client: client, opts: opts.withDefaults()}, nil
}

func (s *RedisStore) Create(ctx context.Context, userID, providerKey string) (*State, error) {
	state, err := newState(s.opts, userID, providerKey)
	if err != nil {
		return nil, err
	}

	created, err := s.client.SetNX(ctx, redisKeyPrefix+state.Token, state, s.opts.TTL)
	if err != nil {
		return nil, errors.InternalError("failed to store state", err)
	}
	if !created {
		return nil, errors.InternalError("state token collision", nil)
	}
	return state, nil
}

func (s *RedisStore) ValidateAndConsume(ctx context.Context, token string) (*State, error) {
	if token == "" {
		return nil, errors.InvalidStateError()
	}

	raw, err := s.client.GetDel(ctx, redisKeyPrefix+token)
	if stderrors.Is(err, redis.ErrNil) {
		return nil, errors.InvalidStateError()
	}
	if err != nil {
		return nil, errors.InternalError("failed to consume state", err)
	}

	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, errors.InvalidStateError()
	}
	state.Token = token

	if state.Expired(s.opts.Now()) {
		return nil, errors.InvalidStateError()
	}
	return &state, nil
}

var _ Store = (*RedisStore)(nil)
