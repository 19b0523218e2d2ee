// Package tokens persists the OAuth2 credentials a user has granted to each
// provider. There is at most one ServiceToken per (user, provider) pair and
// every write is an upsert.
package tokens

import (
	"context"
	"strings"
	"time"
)

// DefaultTokenType is used when a provider omits token_type.
const DefaultTokenType = "Bearer"

// ServiceToken is the stored credential for one connected provider.
// Secrets are excluded from JSON so a token can never leak through an API
// response by accident.
type ServiceToken struct {
	UserID       string     `json:"user_id"`
	ProviderKey  string     `json:"provider_key"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	Scopes       []string   `json:"scopes"`
	TokenType    string     `json:"token_type"`
	ExpiresAt    *time.Time `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// IsExpired reports whether the access token is past its expiry at now.
// Tokens without an expiry never expire.
func (t *ServiceToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// NeedsRefresh reports whether now falls within window of the expiry.
func (t *ServiceToken) NeedsRefresh(now time.Time, window time.Duration) bool {
	return t.ExpiresAt != nil && !now.Before(t.ExpiresAt.Add(-window))
}

// HasRefreshToken reports whether the token can be refreshed.
func (t *ServiceToken) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// Clone returns a deep copy.
func (t *ServiceToken) Clone() *ServiceToken {
	if t == nil {
		return nil
	}
	c := *t
	c.Scopes = append([]string(nil), t.Scopes...)
	if t.ExpiresAt != nil {
		at := *t.ExpiresAt
		c.ExpiresAt = &at
	}
	if t.LastUsedAt != nil {
		at := *t.LastUsedAt
		c.LastUsedAt = &at
	}
	return &c
}

// Store persists service tokens.
type Store interface {
	// Get returns the token for the pair, or nil if none is stored.
	Get(ctx context.Context, userID, providerKey string) (*ServiceToken, error)
	// Upsert inserts or replaces the token for its pair and reports whether
	// a new row was created. CreatedAt is kept from the existing row on update.
	Upsert(ctx context.Context, token *ServiceToken) (bool, error)
	// Update replaces the secrets and expiry of an existing row and reports
	// whether it was found. It never creates a row.
	Update(ctx context.Context, token *ServiceToken) (bool, error)
	// Delete removes the pair and reports whether a row existed.
	Delete(ctx context.Context, userID, providerKey string) (bool, error)
	// Touch records a successful use of the token.
	Touch(ctx context.Context, userID, providerKey string, at time.Time) error
	// ListForUser returns the user's tokens ordered by provider key.
	ListForUser(ctx context.Context, userID string) ([]*ServiceToken, error)
	// ListExpiring returns refreshable tokens expiring in [from, to), soonest first.
	ListExpiring(ctx context.Context, from, to time.Time) ([]*ServiceToken, error)
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func splitScopes(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return []string{}
	}
	return fields
}
