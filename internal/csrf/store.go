// Package csrf issues and consumes the one-shot state tokens that bind an
// OAuth2 callback to the user who started the flow.
//
// A state is valid for a fixed TTL (ten minutes by default) and can be
// consumed exactly once: validation and deletion happen atomically, so two
// callbacks racing with the same state never both succeed. Expiry is checked
// on read, independently of when the backing store evicts the entry.
package csrf

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"area-connect/internal/common/errors"
)

// DefaultTTL is how long a state stays valid.
const DefaultTTL = 10 * time.Minute

// stateBytes is the entropy of a state token before encoding.
const stateBytes = 32

// State is a pending authorization flow.
type State struct {
	Token       string    `json:"-"`
	UserID      string    `json:"user_id"`
	ProviderKey string    `json:"provider_key"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the state is no longer usable at now.
func (s *State) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store creates and consumes states.
type Store interface {
	// Create records a new state for the pair. Concurrent creates for the
	// same pair produce independent states.
	Create(ctx context.Context, userID, providerKey string) (*State, error)
	// ValidateAndConsume atomically removes the state and returns it. A
	// missing, expired or already consumed state yields an invalid_state error.
	ValidateAndConsume(ctx context.Context, token string) (*State, error)
}

// Options configure a store.
type Options struct {
	TTL time.Duration
	// Now is the clock used for expiry; defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// GenerateToken returns a URL-safe random state token.
func GenerateToken() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.InternalError("failed to generate state token", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newState(opts Options, userID, providerKey string) (*State, error) {
	if userID == "" || providerKey == "" {
		return nil, errors.ValidationError("user id and provider key are required")
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := opts.Now()
	return &State{
		Token:       token,
		UserID:      userID,
		ProviderKey: providerKey,
		CreatedAt:   now,
		ExpiresAt:   now.Add(opts.TTL),
	}, nil
}
