package notifications

import (
	"context"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/common/logging"

	"github.com/lucsky/cuid"
)

// Emitter creates and resolves notifications on behalf of the connection
// manager.
type Emitter struct {
	store  Store
	now    func() time.Time
	logger logging.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// WithLogger overrides the logger.
func WithLogger(logger logging.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = logger }
}

// NewEmitter creates an emitter writing to store.
func NewEmitter(store Store, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		store:  store,
		now:    time.Now,
		logger: logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithFields(logging.Field{Key: "component", Value: "notifications"})
	return e
}

// Store returns the backing store.
func (e *Emitter) Store() Store {
	return e.store
}

// Emit records a notification of kind for the pair. An open notification
// of the same kind is reused rather than duplicated.
func (e *Emitter) Emit(ctx context.Context, userID, providerKey string, kind Kind, message string) (*Notification, error) {
	if !kind.Valid() {
		return nil, errors.ValidationError("unknown notification kind: " + string(kind))
	}

	n, err := e.store.Record(ctx, &Notification{
		ID:          cuid.New(),
		UserID:      userID,
		ProviderKey: providerKey,
		Kind:        kind,
		Message:     message,
		CreatedAt:   e.now().UTC(),
	})
	if err != nil {
		e.logger.Error("Failed to record notification", err,
			logging.Field{Key: "user_id", Value: userID},
			logging.Field{Key: "provider", Value: providerKey},
			logging.Field{Key: "kind", Value: string(kind)})
		return nil, err
	}

	e.logger.Info("Notification recorded",
		logging.Field{Key: "user_id", Value: userID},
		logging.Field{Key: "provider", Value: providerKey},
		logging.Field{Key: "kind", Value: string(kind)},
		logging.Field{Key: "notification_id", Value: n.ID})
	return n, nil
}

// Resolve marks every open notification for the pair resolved.
func (e *Emitter) Resolve(ctx context.Context, userID, providerKey string) error {
	count, err := e.store.ResolveOpen(ctx, userID, providerKey, e.now().UTC())
	if err != nil {
		e.logger.Error("Failed to resolve notifications", err,
			logging.Field{Key: "user_id", Value: userID},
			logging.Field{Key: "provider", Value: providerKey})
		return err
	}
	if count > 0 {
		e.logger.Debug("Notifications resolved",
			logging.Field{Key: "user_id", Value: userID},
			logging.Field{Key: "provider", Value: providerKey},
			logging.Field{Key: "count", Value: count})
	}
	return nil
}

// List returns the user's notifications.
func (e *Emitter) List(ctx context.Context, userID string, filter Filter) ([]*Notification, error) {
	return e.store.List(ctx, userID, filter)
}

// MarkRead marks one notification read.
func (e *Emitter) MarkRead(ctx context.Context, userID, id string) error {
	return e.store.MarkRead(ctx, userID, id)
}

// MarkResolved marks one notification resolved.
func (e *Emitter) MarkResolved(ctx context.Context, userID, id string) error {
	return e.store.MarkResolved(ctx, userID, id, e.now().UTC())
}

// MarkAllRead marks all of the user's notifications read.
func (e *Emitter) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return e.store.MarkAllRead(ctx, userID)
}

// UnreadCount counts the user's unread notifications.
func (e *Emitter) UnreadCount(ctx context.Context, userID string) (int, error) {
	return e.store.UnreadCount(ctx, userID)
}
