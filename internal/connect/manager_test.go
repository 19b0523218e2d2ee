package connect

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/csrf"
	"area-connect/internal/notifications"
	"area-connect/internal/providers"
	"area-connect/internal/testutil"
	"area-connect/internal/tokens"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	manager  *Manager
	provider *testutil.MockProvider
	tokens   *tokens.MemoryStore
	notes    *notifications.MemoryStore
	clock    *testutil.FakeClock
	metrics  *Metrics
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	clock := testutil.NewFakeClock(start)
	provider := testutil.NewMockProvider("google")
	tokenStore := tokens.NewMemoryStore()
	noteStore := notifications.NewMemoryStore()

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	cfg := Config{
		Registry: providers.NewRegistry(provider),
		Tokens:   tokenStore,
		States:   csrf.NewMemoryStore(csrf.Options{Now: clock.Now}),
		Notifier: notifications.NewEmitter(noteStore, notifications.WithClock(clock.Now)),
		Now:      clock.Now,
		Metrics:  metrics,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	manager, err := NewManager(cfg)
	require.NoError(t, err)

	return &fixture{
		manager:  manager,
		provider: provider,
		tokens:   tokenStore,
		notes:    noteStore,
		clock:    clock,
		metrics:  metrics,
	}
}

// seed stores a google token for u1 expiring after expiresIn; zero means never.
func (f *fixture) seed(t *testing.T, expiresIn time.Duration, refreshToken string) {
	t.Helper()
	token := &tokens.ServiceToken{
		UserID:       "u1",
		ProviderKey:  "google",
		AccessToken:  "access-1",
		RefreshToken: refreshToken,
		Scopes:       []string{"email"},
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}
	if expiresIn != 0 {
		at := f.clock.Now().Add(expiresIn)
		token.ExpiresAt = &at
	}
	_, err := f.tokens.Upsert(context.Background(), token)
	require.NoError(t, err)
}

func (f *fixture) openNotifications(t *testing.T, kind notifications.Kind) []*notifications.Notification {
	t.Helper()
	open := false
	list, err := f.notes.List(context.Background(), "u1", notifications.Filter{IsResolved: &open})
	require.NoError(t, err)

	var matching []*notifications.Notification
	for _, n := range list {
		if n.Kind == kind {
			matching = append(matching, n)
		}
	}
	return matching
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	_, err := NewManager(Config{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestInitiateFlow(t *testing.T) {
	f := newFixture(t)

	flow, err := f.manager.InitiateFlow(context.Background(), "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "google", flow.Provider)
	assert.Equal(t, 600, flow.ExpiresIn)
	assert.NotEmpty(t, flow.State)
	assert.True(t, strings.HasPrefix(flow.RedirectURL, "https://google.example.com/authorize"))
	assert.Contains(t, flow.RedirectURL, "state=")

	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.flows.WithLabelValues("google", flowInitiated)))
}

func TestInitiateFlow_UnknownProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.InitiateFlow(context.Background(), "u1", "dropbox")
	assert.True(t, errors.IsType(err, errors.ErrTypeUnknownProvider))
}

func TestCompleteFlow_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.AddCode("code-1", &providers.Grant{
		AccessToken:  "fresh-access",
		RefreshToken: "fresh-refresh",
		ExpiresIn:    time.Hour,
		Scopes:       []string{"openid", "email"},
		TokenType:    "Bearer",
	})

	flow, err := f.manager.InitiateFlow(ctx, "u1", "google")
	require.NoError(t, err)

	result, err := f.manager.CompleteFlow(ctx, "code-1", flow.State)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "u1", result.UserID)
	assert.Equal(t, "google", result.ProviderKey)
	require.NotNil(t, result.Token.ExpiresAt)
	assert.True(t, result.Token.ExpiresAt.Equal(start.Add(time.Hour)))

	token, ok, err := f.manager.GetValidToken(ctx, "u1", "google")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fresh-access", token)
	assert.Equal(t, 0, f.provider.Calls("Refresh"))

	// Reconnecting updates the existing row.
	f.provider.AddCode("code-2", &providers.Grant{AccessToken: "second"})
	flow, err = f.manager.InitiateFlow(ctx, "u1", "google")
	require.NoError(t, err)
	result, err = f.manager.CompleteFlow(ctx, "code-2", flow.State)
	require.NoError(t, err)
	assert.False(t, result.Created)

	assert.Equal(t, 2.0, promtest.ToFloat64(f.metrics.flows.WithLabelValues("google", flowConnected)))
}

func TestCompleteFlow_StateReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.AddCode("code-1", &providers.Grant{AccessToken: "a"})

	flow, err := f.manager.InitiateFlow(ctx, "u1", "google")
	require.NoError(t, err)
	_, err = f.manager.CompleteFlow(ctx, "code-1", flow.State)
	require.NoError(t, err)

	result, err := f.manager.CompleteFlow(ctx, "code-1", flow.State)
	assert.Nil(t, result)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
	assert.Equal(t, 1, f.provider.Calls("ExchangeCode"))
}

func TestCompleteFlow_AbandonedStateExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.AddCode("code-1", &providers.Grant{AccessToken: "a"})

	flow, err := f.manager.InitiateFlow(ctx, "u1", "google")
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	_, err = f.manager.CompleteFlow(ctx, "code-1", flow.State)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
	assert.Equal(t, 0, f.provider.Calls("ExchangeCode"))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.flows.WithLabelValues("unknown", flowInvalidState)))
}

func TestCompleteFlow_ExchangeFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flow, err := f.manager.InitiateFlow(ctx, "u1", "google")
	require.NoError(t, err)

	result, err := f.manager.CompleteFlow(ctx, "bad-code", flow.State)
	assert.True(t, errors.IsType(err, errors.ErrTypeExchange))
	require.NotNil(t, result)
	assert.Equal(t, "google", result.ProviderKey)
	assert.Nil(t, result.Token)

	stored, err := f.tokens.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Nil(t, stored)

	assert.Len(t, f.openNotifications(t, notifications.KindAuthError), 1)
}

func TestCompleteFlow_MissingCode(t *testing.T) {
	f := newFixture(t)
	flow, err := f.manager.InitiateFlow(context.Background(), "u1", "google")
	require.NoError(t, err)

	result, err := f.manager.CompleteFlow(context.Background(), "", flow.State)
	assert.True(t, errors.IsType(err, errors.ErrTypeExchange))
	assert.Equal(t, "google", result.ProviderKey)
	assert.Equal(t, 0, f.provider.Calls("ExchangeCode"))
}

func TestCompleteFlow_ResolvesReauthNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 4*time.Minute, "revoked-refresh")
	f.provider.SetError("Refresh", errors.RefreshError("google", true, stderrors.New("invalid_grant")))

	token, ok, err := f.manager.GetValidToken(ctx, "u1", "google")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)
	require.Len(t, f.openNotifications(t, notifications.KindReauthRequired), 1)

	stale, err := f.tokens.Get(ctx, "u1", "google")
	require.NoError(t, err)
	require.NotNil(t, stale, "stale row stays so the connection shows as needing action")

	f.provider.AddCode("code-1", &providers.Grant{AccessToken: "new", RefreshToken: "new-refresh", ExpiresIn: time.Hour})
	flow, err := f.manager.InitiateFlow(ctx, "u1", "google")
	require.NoError(t, err)
	result, err := f.manager.CompleteFlow(ctx, "code-1", flow.State)
	require.NoError(t, err)
	assert.False(t, result.Created)

	assert.Empty(t, f.openNotifications(t, notifications.KindReauthRequired))
}

func TestListConnections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, time.Hour, "refresh-1")

	connections, err := f.manager.ListConnections(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, connections, 1)
	assert.Equal(t, "google", connections[0].ProviderKey)
	assert.True(t, connections[0].HasRefreshToken)
	assert.False(t, connections[0].IsExpired)

	f.clock.Advance(2 * time.Hour)
	connections, err = f.manager.ListConnections(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, connections[0].IsExpired)

	none, err := f.manager.ListConnections(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, time.Hour, "refresh-1")
	_, err := f.notes.Record(ctx, &notifications.Notification{
		ID: "n1", UserID: "u1", ProviderKey: "google", Kind: notifications.KindRefreshFailed, CreatedAt: start,
	})
	require.NoError(t, err)

	revoked, err := f.manager.Disconnect(ctx, "u1", "google")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, []string{"access-1"}, f.provider.Revoked)

	stored, err := f.tokens.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Empty(t, f.openNotifications(t, notifications.KindRefreshFailed))

	_, err = f.manager.Disconnect(ctx, "u1", "google")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotConnected))
}

func TestDisconnect_RevokeFailureStillDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, time.Hour, "refresh-1")
	f.provider.SetError("Revoke", stderrors.New("provider down"))

	revoked, err := f.manager.Disconnect(ctx, "u1", "google")
	require.NoError(t, err)
	assert.False(t, revoked)

	stored, err := f.tokens.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestDisconnect_CancelledCallerStillDeletes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, time.Hour, "refresh-1")

	ctx, cancel := context.WithCancel(context.Background())
	f.provider.SetError("Revoke", context.Canceled)
	cancel()

	_, err := f.manager.Disconnect(ctx, "u1", "google")
	require.NoError(t, err)

	stored, err := f.tokens.Get(context.Background(), "u1", "google")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestProviders(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Registry.Register(testutil.NewMockProvider("github"))
	})
	assert.Equal(t, []string{"github", "google"}, f.manager.Providers())
}
