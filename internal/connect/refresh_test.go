package connect

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/locks"
	"area-connect/internal/notifications"
	"area-connect/internal/providers"
	"area-connect/internal/redis"
	"area-connect/internal/tokens"

	"github.com/alicebob/miniredis/v2"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetValidToken_NotConnected(t *testing.T) {
	f := newFixture(t)
	token, ok, err := f.manager.GetValidToken(context.Background(), "u1", "google")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestGetValidToken_NeverExpiringToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 0, "")

	f.clock.Advance(1000 * time.Hour)
	token, ok, err := f.manager.GetValidToken(ctx, "u1", "google")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, 0, f.provider.Calls("Refresh"))

	stored, err := f.tokens.Get(ctx, "u1", "google")
	require.NoError(t, err)
	require.NotNil(t, stored.LastUsedAt)
	assert.True(t, stored.LastUsedAt.Equal(f.clock.Now()))
}

func TestGetValidToken_OutsideRefreshWindow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 6*time.Minute, "refresh-1")

	token, ok, err := f.manager.GetValidToken(context.Background(), "u1", "google")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, 0, f.provider.Calls("Refresh"))
}

func TestGetValidToken_RefreshesInsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 4*time.Minute, "refresh-1")

	token, ok, err := f.manager.GetValidToken(ctx, "u1", "google")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "refreshed-refresh-1", token)
	assert.Equal(t, 1, f.provider.Calls("Refresh"))

	stored, err := f.tokens.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-refresh-1", stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken, "unrotated refresh token is kept")
	assert.Equal(t, []string{"email"}, stored.Scopes)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, stored.ExpiresAt.Equal(start.Add(time.Hour)))
	assert.True(t, stored.UpdatedAt.Equal(start))

	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.refreshes.WithLabelValues("google", outcomeSuccess)))
}

func TestGetValidToken_KeepsRotatedRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, time.Minute, "refresh-1")
	f.provider.RefreshFunc = func(refreshToken string) (*providers.Grant, error) {
		return &providers.Grant{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: time.Hour}, nil
	}

	_, ok, err := f.manager.GetValidToken(ctx, "u1", "google")
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := f.tokens.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
}

func TestGetValidToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 4*time.Minute, "refresh-1")
	gate := make(chan struct{})
	f.provider.RefreshGate = gate

	const callers = 50
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, ok, err := f.manager.GetValidToken(context.Background(), "u1", "google")
			if assert.NoError(t, err) && assert.True(t, ok) {
				results[i] = token
			}
		}(i)
	}

	require.Eventually(t, func() bool { return f.provider.Calls("Refresh") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, f.provider.Calls("Refresh"))
	for _, token := range results {
		assert.Equal(t, "refreshed-refresh-1", token)
	}
}

func TestGetValidToken_InvalidGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 4*time.Minute, "refresh-1")
	f.provider.SetError("Refresh", errors.RefreshError("google", true, stderrors.New("invalid_grant")))

	for i := 0; i < 2; i++ {
		token, ok, err := f.manager.GetValidToken(ctx, "u1", "google")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, token)
	}

	assert.Len(t, f.openNotifications(t, notifications.KindReauthRequired), 1, "repeated failures reuse the open notification")
	stored, err := f.tokens.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "access-1", stored.AccessToken)
	assert.Equal(t, 2.0, promtest.ToFloat64(f.metrics.refreshes.WithLabelValues("google", outcomeInvalidGrant)))
}

func TestGetValidToken_TransientFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 4*time.Minute, "refresh-1")
	f.provider.SetError("Refresh", errors.RefreshError("google", false, stderrors.New("503")))

	_, ok, err := f.manager.GetValidToken(ctx, "u1", "google")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, f.openNotifications(t, notifications.KindRefreshFailed), 1)
	assert.Empty(t, f.openNotifications(t, notifications.KindReauthRequired))

	// The next call retries and a success resolves the notification.
	f.provider.SetError("Refresh", nil)
	token, ok, err := f.manager.GetValidToken(ctx, "u1", "google")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "refreshed-refresh-1", token)
	assert.Empty(t, f.openNotifications(t, notifications.KindRefreshFailed))
	assert.Equal(t, 2, f.provider.Calls("Refresh"))
}

func TestGetValidToken_ExpiredWithoutRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, time.Minute, "")

	token, ok, err := f.manager.GetValidToken(context.Background(), "u1", "google")
	require.NoError(t, err)
	assert.True(t, ok, "still valid, nothing to refresh with")
	assert.Equal(t, "access-1", token)

	f.clock.Advance(time.Minute)
	_, ok, err = f.manager.GetValidToken(context.Background(), "u1", "google")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, f.openNotifications(t, notifications.KindTokenExpired), 1)
	assert.Equal(t, 0, f.provider.Calls("Refresh"))
}

func TestGetValidToken_CancelledCallerDoesNotAbortRefresh(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 4*time.Minute, "refresh-1")
	gate := make(chan struct{})
	f.provider.RefreshGate = gate

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := f.manager.GetValidToken(ctx, "u1", "google")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return f.provider.Calls("Refresh") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(gate)
	require.Eventually(t, func() bool {
		stored, err := f.tokens.Get(context.Background(), "u1", "google")
		return err == nil && stored.AccessToken == "refreshed-refresh-1"
	}, time.Second, 5*time.Millisecond)

	token, ok, err := f.manager.GetValidToken(context.Background(), "u1", "google")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "refreshed-refresh-1", token)
	assert.Equal(t, 1, f.provider.Calls("Refresh"))
}

func TestGetValidToken_DisconnectDuringRefresh(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 4*time.Minute, "refresh-1")
	gate := make(chan struct{})
	f.provider.RefreshGate = gate

	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		_, ok, err := f.manager.GetValidToken(context.Background(), "u1", "google")
		done <- outcome{ok, err}
	}()

	require.Eventually(t, func() bool { return f.provider.Calls("Refresh") == 1 }, time.Second, 5*time.Millisecond)
	_, err := f.manager.Disconnect(context.Background(), "u1", "google")
	require.NoError(t, err)
	close(gate)

	res := <-done
	require.NoError(t, res.err)
	assert.False(t, res.ok)

	stored, err := f.tokens.Get(context.Background(), "u1", "google")
	require.NoError(t, err)
	assert.Nil(t, stored, "refresh must not resurrect a disconnected service")
}

type failingStore struct {
	*tokens.MemoryStore
	err error
}

func (s *failingStore) Touch(ctx context.Context, userID, providerKey string, at time.Time) error {
	return s.err
}

func (s *failingStore) Update(ctx context.Context, token *tokens.ServiceToken) (bool, error) {
	return false, s.err
}

func TestGetValidToken_StoreFailuresPropagate(t *testing.T) {
	storeErr := errors.InternalError("disk full", nil)
	store := &failingStore{MemoryStore: tokens.NewMemoryStore(), err: storeErr}
	f := newFixture(t, func(cfg *Config) { cfg.Tokens = store })
	f.tokens = store.MemoryStore

	f.seed(t, time.Hour, "refresh-1")
	_, ok, err := f.manager.GetValidToken(context.Background(), "u1", "google")
	assert.False(t, ok)
	assert.ErrorIs(t, err, storeErr)

	f.clock.Advance(56 * time.Minute)
	_, ok, err = f.manager.GetValidToken(context.Background(), "u1", "google")
	assert.False(t, ok)
	assert.ErrorIs(t, err, storeErr)
}

func TestRefreshExpiring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := func(user string, expiresIn time.Duration, refresh string) {
		at := start.Add(expiresIn)
		_, err := f.tokens.Upsert(ctx, &tokens.ServiceToken{
			UserID: user, ProviderKey: "google", AccessToken: "a-" + user,
			RefreshToken: refresh, ExpiresAt: &at, CreatedAt: start, UpdatedAt: start,
		})
		require.NoError(t, err)
	}
	seed("due", 3*time.Minute, "r-due")
	seed("later", time.Hour, "r-later")
	seed("expired", -time.Minute, "r-expired")
	seed("norefresh", 2*time.Minute, "")

	refreshed, err := f.manager.RefreshExpiring(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, 1, f.provider.Calls("Refresh"))

	stored, err := f.tokens.Get(ctx, "due", "google")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-r-due", stored.AccessToken)
	assert.Nil(t, stored.LastUsedAt, "the sweep is not a use of the token")

	expired, err := f.tokens.Get(ctx, "expired", "google")
	require.NoError(t, err)
	assert.Equal(t, "a-expired", expired.AccessToken)
}

func TestRefreshExpiring_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3*time.Minute, "refresh-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.manager.RefreshExpiring(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.provider.Calls("Refresh"))
}

type countingLocker struct {
	locks.Locker
	acquired int32
}

func (l *countingLocker) Acquire(ctx context.Context, key string) (locks.Lock, error) {
	atomic.AddInt32(&l.acquired, 1)
	return l.Locker.Acquire(ctx, key)
}

func TestGetValidToken_WithDistributedLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	redsync, err := locks.NewRedsyncManager(client, locks.DefaultOptions(time.Second))
	require.NoError(t, err)
	defer redsync.Close()

	locker := &countingLocker{Locker: redsync}
	f := newFixture(t, func(cfg *Config) { cfg.Locker = locker })
	f.seed(t, 4*time.Minute, "refresh-1")

	token, ok, err := f.manager.GetValidToken(context.Background(), "u1", "google")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "refreshed-refresh-1", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&locker.acquired))
	assert.False(t, mr.Exists("lock:"+locks.RefreshKey("u1", "google")), "lock released after refresh")
}

func TestGetValidToken_LockedElsewhere(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	opts := locks.Options{Expiry: time.Minute, Wait: 100 * time.Millisecond, RetryDelay: 20 * time.Millisecond}
	other, err := locks.NewRedsyncManager(client, opts)
	require.NoError(t, err)
	held, err := other.Acquire(context.Background(), locks.RefreshKey("u1", "google"))
	require.NoError(t, err)
	defer held.Release(context.Background())

	mine, err := locks.NewRedsyncManager(client, opts)
	require.NoError(t, err)

	f := newFixture(t, func(cfg *Config) { cfg.Locker = mine })
	f.seed(t, 4*time.Minute, "refresh-1")

	_, ok, err := f.manager.GetValidToken(context.Background(), "u1", "google")
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Equal(t, 0, f.provider.Calls("Refresh"))
}
