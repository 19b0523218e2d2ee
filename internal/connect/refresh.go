package connect

import (
	"context"
	"fmt"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/common/logging"
	"area-connect/internal/locks"
	"area-connect/internal/notifications"
	"area-connect/internal/tokens"
)

// refreshResult is shared by every caller waiting on one refresh.
type refreshResult struct {
	accessToken string
	ok          bool
}

// GetValidToken returns an access token for the pair that is not within the
// refresh window of its expiry, refreshing it first if needed. ok is false
// when the user is not connected or the token could not be refreshed; the
// user learns about the latter through a notification. err is set only
// for local storage failures.
func (m *Manager) GetValidToken(ctx context.Context, userID, providerKey string) (string, bool, error) {
	token, err := m.tokens.Get(ctx, userID, providerKey)
	if err != nil {
		return "", false, err
	}
	if token == nil {
		return "", false, nil
	}

	now := m.now()
	if !token.NeedsRefresh(now, m.window) {
		if err := m.tokens.Touch(ctx, userID, providerKey, now); err != nil {
			return "", false, err
		}
		return token.AccessToken, true, nil
	}

	accessToken, ok, err := m.refreshShared(ctx, userID, providerKey)
	if err != nil || !ok {
		return "", false, err
	}
	if err := m.tokens.Touch(ctx, userID, providerKey, m.now()); err != nil {
		return "", false, err
	}
	return accessToken, true, nil
}

// refreshShared runs one refresh per pair. The refresh is detached from the
// caller's cancellation and bounded by its own deadline; a caller whose
// context ends stops waiting without affecting the others.
func (m *Manager) refreshShared(ctx context.Context, userID, providerKey string) (string, bool, error) {
	key := locks.RefreshKey(userID, providerKey)
	ch := m.refreshes.DoChan(key, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshBudget())
		defer cancel()
		return m.refresh(rctx, userID, providerKey)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		out := res.Val.(refreshResult)
		return out.accessToken, out.ok, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// refreshBudget covers waiting for the distributed lock plus the provider
// call itself.
func (m *Manager) refreshBudget() time.Duration {
	if m.locker == nil {
		return m.timeout
	}
	return 2*m.timeout + locks.DefaultOptions(m.timeout).Wait
}

func (m *Manager) refresh(ctx context.Context, userID, providerKey string) (refreshResult, error) {
	log := m.logger.WithFields(
		logging.Field{Key: "user_id", Value: userID},
		logging.Field{Key: "provider", Value: providerKey})

	provider, err := m.registry.Get(providerKey)
	if err != nil {
		return refreshResult{}, err
	}

	if m.locker != nil {
		lock, err := m.locker.Acquire(ctx, locks.RefreshKey(userID, providerKey))
		if err != nil {
			log.Error("Failed to acquire refresh lock", err)
			return refreshResult{}, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to release refresh lock", logging.Err(err))
			}
		}()
	}

	// Another caller or process may have refreshed or disconnected while we
	// waited, so decide on the current row.
	token, err := m.tokens.Get(ctx, userID, providerKey)
	if err != nil {
		return refreshResult{}, err
	}
	if token == nil {
		m.metrics.refresh(providerKey, outcomeDisconnected)
		return refreshResult{}, nil
	}

	now := m.now()
	if !token.NeedsRefresh(now, m.window) {
		m.metrics.refresh(providerKey, outcomeCurrent)
		return valid(token), nil
	}

	if !token.HasRefreshToken() {
		if !token.IsExpired(now) {
			return valid(token), nil
		}
		m.metrics.refresh(providerKey, outcomeNoRefreshToken)
		log.Warn("Token expired and cannot be refreshed")
		m.emit(ctx, log, userID, providerKey, notifications.KindTokenExpired,
			fmt.Sprintf("Your %s connection has expired. Please reconnect it.", providerKey))
		return refreshResult{}, nil
	}

	done := m.metrics.refreshStarted(providerKey)
	grant, err := provider.Refresh(ctx, token.RefreshToken)
	done()
	if err != nil {
		if errors.IsInvalidGrant(err) {
			m.metrics.refresh(providerKey, outcomeInvalidGrant)
			log.Warn("Refresh rejected, reauthorization required", logging.Err(err))
			m.emit(ctx, log, userID, providerKey, notifications.KindReauthRequired,
				fmt.Sprintf("Your %s connection needs to be reauthorized.", providerKey))
			return refreshResult{}, nil
		}
		m.metrics.refresh(providerKey, outcomeTransient)
		log.Warn("Token refresh failed", logging.Err(err))
		m.emit(ctx, log, userID, providerKey, notifications.KindRefreshFailed,
			fmt.Sprintf("Refreshing your %s connection failed. It will be retried.", providerKey))
		return refreshResult{}, nil
	}

	refreshedAt := m.now().UTC()
	updated := token.Clone()
	updated.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		updated.RefreshToken = grant.RefreshToken
	}
	if len(grant.Scopes) > 0 {
		updated.Scopes = grant.Scopes
	}
	if grant.TokenType != "" {
		updated.TokenType = grant.TokenType
	}
	updated.ExpiresAt = expiry(refreshedAt, grant.ExpiresIn)
	updated.UpdatedAt = refreshedAt

	found, err := m.tokens.Update(ctx, updated)
	if err != nil {
		log.Error("Failed to store refreshed token", err)
		return refreshResult{}, err
	}
	if !found {
		m.metrics.refresh(providerKey, outcomeDisconnected)
		log.Info("Connection removed during refresh, discarding token")
		return refreshResult{}, nil
	}

	m.metrics.refresh(providerKey, outcomeSuccess)
	m.resolve(ctx, log, userID, providerKey)
	log.Debug("Token refreshed", logging.Field{Key: "rotated", Value: grant.RefreshToken != ""})
	return valid(updated), nil
}

func valid(token *tokens.ServiceToken) refreshResult {
	return refreshResult{accessToken: token.AccessToken, ok: true}
}

// RefreshExpiring refreshes every refreshable token that has entered the
// refresh window but not yet expired, through the same path as
// GetValidToken. Expired tokens are left to on-demand refresh. It returns
// how many tokens are valid afterwards.
func (m *Manager) RefreshExpiring(ctx context.Context) (int, error) {
	now := m.now()
	due, err := m.tokens.ListExpiring(ctx, now, now.Add(m.window))
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, token := range due {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		_, ok, err := m.refreshShared(ctx, token.UserID, token.ProviderKey)
		if err != nil {
			m.logger.Error("Proactive refresh failed", err,
				logging.Field{Key: "user_id", Value: token.UserID},
				logging.Field{Key: "provider", Value: token.ProviderKey})
			continue
		}
		if ok {
			refreshed++
		}
	}

	if len(due) > 0 {
		m.logger.Info("Proactive refresh sweep finished",
			logging.Field{Key: "due", Value: len(due)},
			logging.Field{Key: "refreshed", Value: refreshed})
	}
	return refreshed, nil
}
