// Package connect orchestrates the OAuth2 connection lifecycle: it starts
// CSRF-protected authorization flows, completes provider callbacks, hands
// valid access tokens to automation consumers and disconnects services.
//
// Refreshes are coordinated so that at most one provider refresh per
// (user, provider) runs at a time in this process, and, when a distributed
// Locker is configured, across processes. Callers that arrive while a
// refresh is running wait for its result.
package connect

import (
	"context"
	"fmt"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/common/logging"
	"area-connect/internal/csrf"
	"area-connect/internal/locks"
	"area-connect/internal/notifications"
	"area-connect/internal/providers"
	"area-connect/internal/tokens"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshWindow is how long before expiry a token is refreshed.
	DefaultRefreshWindow = 5 * time.Minute
	// DefaultProviderTimeout bounds a single refresh or revoke.
	DefaultProviderTimeout = 10 * time.Second
)

// Notifier records and resolves user-visible lifecycle notifications.
type Notifier interface {
	Emit(ctx context.Context, userID, providerKey string, kind notifications.Kind, message string) (*notifications.Notification, error)
	Resolve(ctx context.Context, userID, providerKey string) error
}

// Config wires a Manager.
type Config struct {
	Registry *providers.Registry
	Tokens   tokens.Store
	States   csrf.Store
	Notifier Notifier
	// Locker, when set, serializes refreshes across processes.
	Locker locks.Locker

	RefreshWindow   time.Duration
	ProviderTimeout time.Duration

	Now     func() time.Time
	Logger  logging.Logger
	Metrics *Metrics
}

// Manager is safe for concurrent use.
type Manager struct {
	registry *providers.Registry
	tokens   tokens.Store
	states   csrf.Store
	notifier Notifier
	locker   locks.Locker

	window  time.Duration
	timeout time.Duration

	now     func() time.Time
	logger  logging.Logger
	metrics *Metrics

	// refreshes collapses concurrent refreshes of one pair. Keys are
	// removed as soon as their call returns.
	refreshes singleflight.Group
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, errors.ConfigError("provider registry is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.ConfigError("token store is required")
	}
	if cfg.States == nil {
		return nil, errors.ConfigError("state store is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.ConfigError("notifier is required")
	}

	m := &Manager{
		registry: cfg.Registry,
		tokens:   cfg.Tokens,
		states:   cfg.States,
		notifier: cfg.Notifier,
		locker:   cfg.Locker,
		window:   cfg.RefreshWindow,
		timeout:  cfg.ProviderTimeout,
		now:      cfg.Now,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if m.window <= 0 {
		m.window = DefaultRefreshWindow
	}
	if m.timeout <= 0 {
		m.timeout = DefaultProviderTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = logging.GetGlobalLogger()
	}
	m.logger = m.logger.WithFields(logging.Field{Key: "component", Value: "connect"})
	return m, nil
}

// Providers returns the registered provider keys.
func (m *Manager) Providers() []string {
	return m.registry.Keys()
}

// Flow is a started authorization flow.
type Flow struct {
	RedirectURL string `json:"redirect_url"`
	State       string `json:"state"`
	Provider    string `json:"provider"`
	// ExpiresIn is the state lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}

// InitiateFlow mints a CSRF state for the pair and builds the consent URL.
func (m *Manager) InitiateFlow(ctx context.Context, userID, providerKey string) (*Flow, error) {
	provider, err := m.registry.Get(providerKey)
	if err != nil {
		return nil, err
	}

	state, err := m.states.Create(ctx, userID, providerKey)
	if err != nil {
		return nil, err
	}

	m.metrics.flow(providerKey, flowInitiated)
	m.logger.WithContext(ctx).Info("Authorization flow initiated",
		logging.Field{Key: "user_id", Value: userID},
		logging.Field{Key: "provider", Value: providerKey})

	return &Flow{
		RedirectURL: provider.AuthorizationURL(state.Token),
		State:       state.Token,
		Provider:    providerKey,
		ExpiresIn:   int(state.ExpiresAt.Sub(state.CreatedAt) / time.Second),
	}, nil
}

// FlowResult is the outcome of a callback.
type FlowResult struct {
	UserID      string
	ProviderKey string
	// Created is true when the connection did not exist before.
	Created bool
	Token   *tokens.ServiceToken
}

// CompleteFlow consumes state and exchanges code for tokens. Once the state
// is accepted the returned result names the provider even when the exchange
// fails, so callers can report the failure against it.
func (m *Manager) CompleteFlow(ctx context.Context, code, stateToken string) (*FlowResult, error) {
	state, err := m.states.ValidateAndConsume(ctx, stateToken)
	if err != nil {
		m.metrics.flow("unknown", flowInvalidState)
		m.logger.WithContext(ctx).Warn("Rejected authorization callback", logging.Err(err))
		return nil, err
	}

	result := &FlowResult{UserID: state.UserID, ProviderKey: state.ProviderKey}
	log := m.logger.WithContext(ctx).WithFields(
		logging.Field{Key: "user_id", Value: state.UserID},
		logging.Field{Key: "provider", Value: state.ProviderKey})

	provider, err := m.registry.Get(state.ProviderKey)
	if err != nil {
		return result, err
	}

	if code == "" {
		return result, m.exchangeFailed(ctx, log, state, errors.ValidationError("authorization code is required"))
	}

	grant, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		return result, m.exchangeFailed(ctx, log, state, err)
	}

	now := m.now().UTC()
	token := &tokens.ServiceToken{
		UserID:       state.UserID,
		ProviderKey:  state.ProviderKey,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Scopes:       grant.Scopes,
		TokenType:    grant.TokenType,
		ExpiresAt:    expiry(now, grant.ExpiresIn),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := m.tokens.Upsert(ctx, token)
	if err != nil {
		log.Error("Failed to store connection", err)
		return result, err
	}

	m.resolve(ctx, log, state.UserID, state.ProviderKey)
	m.metrics.flow(state.ProviderKey, flowConnected)
	log.Info("Service connected", logging.Field{Key: "created", Value: created})

	result.Created = created
	result.Token = token
	return result, nil
}

func (m *Manager) exchangeFailed(ctx context.Context, log logging.Logger, state *csrf.State, err error) error {
	if !errors.IsType(err, errors.ErrTypeExchange) {
		err = errors.ExchangeError(state.ProviderKey, err)
	}
	m.metrics.flow(state.ProviderKey, flowExchangeFailed)
	log.Warn("Authorization code exchange failed", logging.Err(err))

	message := fmt.Sprintf("Connecting %s failed. Please try again.", state.ProviderKey)
	m.emit(ctx, log, state.UserID, state.ProviderKey, notifications.KindAuthError, message)
	return err
}

// Connection is the redacted view of a stored token.
type Connection struct {
	ProviderKey     string
	Scopes          []string
	CreatedAt       time.Time
	ExpiresAt       *time.Time
	IsExpired       bool
	HasRefreshToken bool
}

// ListConnections returns the user's connections without token values.
func (m *Manager) ListConnections(ctx context.Context, userID string) ([]Connection, error) {
	stored, err := m.tokens.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	connections := make([]Connection, 0, len(stored))
	for _, t := range stored {
		connections = append(connections, Connection{
			ProviderKey:     t.ProviderKey,
			Scopes:          t.Scopes,
			CreatedAt:       t.CreatedAt,
			ExpiresAt:       t.ExpiresAt,
			IsExpired:       t.IsExpired(now),
			HasRefreshToken: t.HasRefreshToken(),
		})
	}
	return connections, nil
}

// Disconnect revokes the grant at the provider when possible and always
// deletes the local connection. It reports whether the provider confirmed
// the revocation.
func (m *Manager) Disconnect(ctx context.Context, userID, providerKey string) (bool, error) {
	token, err := m.tokens.Get(ctx, userID, providerKey)
	if err != nil {
		return false, err
	}
	if token == nil {
		return false, errors.NotConnectedError(providerKey)
	}

	log := m.logger.WithContext(ctx).WithFields(
		logging.Field{Key: "user_id", Value: userID},
		logging.Field{Key: "provider", Value: providerKey})

	revoked := false
	if provider, err := m.registry.Get(providerKey); err != nil {
		log.Warn("Provider not registered, skipping revocation", logging.Err(err))
	} else {
		rctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := provider.Revoke(rctx, token.AccessToken)
		cancel()
		if err != nil {
			if !errors.IsType(err, errors.ErrTypeRevocation) {
				err = errors.RevocationError(providerKey, err)
			}
			log.Warn("Token revocation failed", logging.Err(err))
		} else {
			revoked = true
		}
	}

	// Local deletion must not depend on the caller staying around.
	dctx := context.WithoutCancel(ctx)
	if _, err := m.tokens.Delete(dctx, userID, providerKey); err != nil {
		log.Error("Failed to delete connection", err)
		return revoked, err
	}
	m.resolve(dctx, log, userID, providerKey)

	log.Info("Service disconnected", logging.Field{Key: "revoked_at_provider", Value: revoked})
	return revoked, nil
}

func (m *Manager) emit(ctx context.Context, log logging.Logger, userID, providerKey string, kind notifications.Kind, message string) {
	if _, err := m.notifier.Emit(ctx, userID, providerKey, kind, message); err != nil {
		log.Error("Failed to emit notification", err, logging.Field{Key: "kind", Value: string(kind)})
	}
}

func (m *Manager) resolve(ctx context.Context, log logging.Logger, userID, providerKey string) {
	if err := m.notifier.Resolve(ctx, userID, providerKey); err != nil {
		log.Error("Failed to resolve notifications", err)
	}
}

func expiry(now time.Time, expiresIn time.Duration) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	at := now.Add(expiresIn)
	return &at
}
