// Package notifications records lifecycle failures a user has to see: a
// token that expired without a way to refresh it, a refresh that failed,
// or a grant the provider revoked. Reconnecting or refreshing successfully
// resolves every open notification for that connection.
package notifications

import (
	"context"
	"time"
)

// Kind classifies a notification.
type Kind string

const (
	KindTokenExpired   Kind = "token_expired"
	KindRefreshFailed  Kind = "refresh_failed"
	KindAuthError      Kind = "auth_error"
	KindReauthRequired Kind = "reauth_required"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTokenExpired, KindRefreshFailed, KindAuthError, KindReauthRequired:
		return true
	}
	return false
}

// Notification is one user-visible lifecycle event.
type Notification struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	ProviderKey string     `json:"service_name"`
	Kind        Kind       `json:"kind"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	IsRead      bool       `json:"is_read"`
	IsResolved  bool       `json:"is_resolved"`
	ResolvedAt  *time.Time `json:"resolved_at"`
}

// Filter narrows List. Nil fields match everything.
type Filter struct {
	IsRead      *bool
	IsResolved  *bool
	ProviderKey string
	// Limit caps the result; zero means DefaultLimit.
	Limit int
}

// DefaultLimit bounds List when no limit is given.
const DefaultLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

func (f Filter) matches(n *Notification) bool {
	if f.IsRead != nil && n.IsRead != *f.IsRead {
		return false
	}
	if f.IsResolved != nil && n.IsResolved != *f.IsResolved {
		return false
	}
	if f.ProviderKey != "" && n.ProviderKey != f.ProviderKey {
		return false
	}
	return true
}

// Store persists notifications. All operations are scoped to a user;
// IDs belonging to another user behave as missing.
type Store interface {
	// Record inserts n, or when an open notification of the same kind exists
	// for the pair, bumps that one instead and returns it unread.
	Record(ctx context.Context, n *Notification) (*Notification, error)
	List(ctx context.Context, userID string, filter Filter) ([]*Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkResolved(ctx context.Context, userID, id string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	// ResolveOpen resolves every open notification for the pair.
	ResolveOpen(ctx context.Context, userID, providerKey string, at time.Time) (int64, error)
}
