package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/database"
	"area-connect/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func forEachEmitter(t *testing.T, fn func(t *testing.T, e *Emitter, clock *testutil.FakeClock)) {
	factories := map[string]func(t *testing.T) Store{
		"sql": func(t *testing.T) Store {
			db, err := database.Open(database.Config{Type: "sqlite", Path: ":memory:"})
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			store, err := NewSQLStore(context.Background(), db)
			require.NoError(t, err)
			return store
		},
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
	}
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			clock := testutil.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
			fn(t, NewEmitter(factory(t), WithClock(clock.Now)), clock)
		})
	}
}

func TestEmit_CreatesUnreadOpenNotification(t *testing.T) {
	forEachEmitter(t, func(t *testing.T, e *Emitter, clock *testutil.FakeClock) {
		ctx := context.Background()
		n, err := e.Emit(ctx, "u1", "google", KindReauthRequired, "Reconnect your Google account")
		require.NoError(t, err)
		assert.NotEmpty(t, n.ID)

		list, err := e.List(ctx, "u1", Filter{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, n.ID, list[0].ID)
		assert.Equal(t, KindReauthRequired, list[0].Kind)
		assert.Equal(t, "google", list[0].ProviderKey)
		assert.False(t, list[0].IsRead)
		assert.False(t, list[0].IsResolved)
		assert.Nil(t, list[0].ResolvedAt)
		assert.True(t, list[0].CreatedAt.Equal(clock.Now()))
	})
}

func TestEmit_DeduplicatesOpenNotification(t *testing.T) {
	forEachEmitter(t, func(t *testing.T, e *Emitter, clock *testutil.FakeClock) {
		ctx := context.Background()
		first, err := e.Emit(ctx, "u1", "google", KindRefreshFailed, "first")
		require.NoError(t, err)
		require.NoError(t, e.MarkRead(ctx, "u1", first.ID))

		clock.Advance(time.Minute)
		second, err := e.Emit(ctx, "u1", "google", KindRefreshFailed, "second")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		list, err := e.List(ctx, "u1", Filter{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "second", list[0].Message)
		assert.False(t, list[0].IsRead, "re-emitting surfaces the notification again")
		assert.True(t, list[0].CreatedAt.Equal(clock.Now()))

		_, err = e.Emit(ctx, "u1", "google", KindReauthRequired, "other kind")
		require.NoError(t, err)
		list, err = e.List(ctx, "u1", Filter{})
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})
}

func TestEmit_UnknownKind(t *testing.T) {
	e := NewEmitter(NewMemoryStore())
	_, err := e.Emit(context.Background(), "u1", "google", Kind("bogus"), "x")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestResolve_ResolvesOnlyThePair(t *testing.T) {
	forEachEmitter(t, func(t *testing.T, e *Emitter, clock *testutil.FakeClock) {
		ctx := context.Background()
		_, err := e.Emit(ctx, "u1", "google", KindReauthRequired, "a")
		require.NoError(t, err)
		_, err = e.Emit(ctx, "u1", "google", KindRefreshFailed, "b")
		require.NoError(t, err)
		_, err = e.Emit(ctx, "u1", "github", KindRefreshFailed, "c")
		require.NoError(t, err)
		_, err = e.Emit(ctx, "u2", "google", KindRefreshFailed, "d")
		require.NoError(t, err)

		clock.Advance(time.Minute)
		require.NoError(t, e.Resolve(ctx, "u1", "google"))

		resolved, err := e.List(ctx, "u1", Filter{IsResolved: boolPtr(true)})
		require.NoError(t, err)
		require.Len(t, resolved, 2)
		for _, n := range resolved {
			assert.Equal(t, "google", n.ProviderKey)
			require.NotNil(t, n.ResolvedAt)
			assert.True(t, n.ResolvedAt.Equal(clock.Now()))
		}

		open, err := e.List(ctx, "u1", Filter{IsResolved: boolPtr(false)})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "github", open[0].ProviderKey)

		other, err := e.List(ctx, "u2", Filter{IsResolved: boolPtr(false)})
		require.NoError(t, err)
		assert.Len(t, other, 1)

		// A new failure after resolution opens a fresh notification.
		fresh, err := e.Emit(ctx, "u1", "google", KindReauthRequired, "again")
		require.NoError(t, err)
		for _, n := range resolved {
			assert.NotEqual(t, n.ID, fresh.ID)
		}
	})
}

func TestListFilters(t *testing.T) {
	forEachEmitter(t, func(t *testing.T, e *Emitter, clock *testutil.FakeClock) {
		ctx := context.Background()
		a, err := e.Emit(ctx, "u1", "google", KindReauthRequired, "a")
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, err = e.Emit(ctx, "u1", "github", KindRefreshFailed, "b")
		require.NoError(t, err)
		require.NoError(t, e.MarkRead(ctx, "u1", a.ID))

		all, err := e.List(ctx, "u1", Filter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "github", all[0].ProviderKey, "newest first")

		read, err := e.List(ctx, "u1", Filter{IsRead: boolPtr(true)})
		require.NoError(t, err)
		require.Len(t, read, 1)
		assert.Equal(t, a.ID, read[0].ID)

		byService, err := e.List(ctx, "u1", Filter{ProviderKey: "github"})
		require.NoError(t, err)
		require.Len(t, byService, 1)

		limited, err := e.List(ctx, "u1", Filter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		none, err := e.List(ctx, "u9", Filter{})
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestMarkOperations(t *testing.T) {
	forEachEmitter(t, func(t *testing.T, e *Emitter, clock *testutil.FakeClock) {
		ctx := context.Background()
		a, err := e.Emit(ctx, "u1", "google", KindReauthRequired, "a")
		require.NoError(t, err)
		_, err = e.Emit(ctx, "u1", "github", KindTokenExpired, "b")
		require.NoError(t, err)

		count, err := e.UnreadCount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		assert.True(t, errors.IsType(e.MarkRead(ctx, "u2", a.ID), errors.ErrTypeNotFound), "other users cannot touch it")
		assert.True(t, errors.IsType(e.MarkRead(ctx, "u1", "missing"), errors.ErrTypeNotFound))
		assert.True(t, errors.IsType(e.MarkResolved(ctx, "u1", "missing"), errors.ErrTypeNotFound))

		require.NoError(t, e.MarkResolved(ctx, "u1", a.ID))
		resolved, err := e.List(ctx, "u1", Filter{IsResolved: boolPtr(true)})
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		assert.NotNil(t, resolved[0].ResolvedAt)

		marked, err := e.MarkAllRead(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), marked)

		count, err = e.UnreadCount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		marked, err = e.MarkAllRead(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), marked)
	})
}

func TestNotification_JSONHidesUser(t *testing.T) {
	data, err := json.Marshal(&Notification{ID: "n1", UserID: "u1", ProviderKey: "google", Kind: KindAuthError})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "u1")
	assert.Contains(t, string(data), `"service_name":"google"`)
	assert.Contains(t, string(data), `"kind":"auth_error"`)
}

func TestNewSQLStore_RequiresDB(t *testing.T) {
	_, err := NewSQLStore(context.Background(), nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
