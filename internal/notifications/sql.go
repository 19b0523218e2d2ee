package notifications

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/database"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	provider_key TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	is_read BOOLEAN NOT NULL DEFAULT 0,
	is_resolved BOOLEAN NOT NULL DEFAULT 0,
	resolved_at TIMESTAMP NULL
)`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	provider_key TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
	resolved_at TIMESTAMPTZ NULL
)`

const userIndex = `CREATE INDEX IF NOT EXISTS idx_notifications_user_open
	ON notifications (user_id, provider_key, is_resolved)`

const notificationColumns = `id, user_id, provider_key, kind, message, created_at, is_read, is_resolved, resolved_at`

// SQLStore keeps notifications in SQLite or PostgreSQL.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore bootstraps the schema and returns a store.
func NewSQLStore(ctx context.Context, db *database.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.ConfigError("database is required for the notification store")
	}

	schema := sqliteSchema
	if db.Dialect() == database.Postgres {
		schema = postgresSchema
	}
	if err := db.Migrate(ctx, schema, userIndex); err != nil {
		return nil, errors.InternalError("failed to migrate notification store", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Record(ctx context.Context, n *Notification) (*Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.InternalError("failed to begin notification write", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.db.Rebind(`SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = ? AND provider_key = ? AND kind = ? AND is_resolved = ?
		ORDER BY created_at DESC LIMIT 1`), n.UserID, n.ProviderKey, string(n.Kind), false)
	existing, err := scan(row)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, s.db.Rebind(`UPDATE notifications
			SET message = ?, created_at = ?, is_read = ? WHERE id = ?`),
			n.Message, database.Timestamp(n.CreatedAt), false, existing.ID)
		if err != nil {
			return nil, errors.InternalError("failed to update notification", err)
		}
		existing.Message = n.Message
		existing.CreatedAt = n.CreatedAt
		existing.IsRead = false
		n = existing

	case stderrors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO notifications (`+notificationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			n.ID, n.UserID, n.ProviderKey, string(n.Kind), n.Message, database.Timestamp(n.CreatedAt),
			n.IsRead, n.IsResolved, database.NullTimestamp(n.ResolvedAt))
		if err != nil {
			return nil, errors.InternalError("failed to insert notification", err)
		}

	default:
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.InternalError("failed to commit notification", err)
	}
	return n, nil
}

func (s *SQLStore) List(ctx context.Context, userID string, filter Filter) ([]*Notification, error) {
	var where strings.Builder
	where.WriteString("user_id = ?")
	args := []interface{}{userID}

	if filter.IsRead != nil {
		where.WriteString(" AND is_read = ?")
		args = append(args, *filter.IsRead)
	}
	if filter.IsResolved != nil {
		where.WriteString(" AND is_resolved = ?")
		args = append(args, *filter.IsResolved)
	}
	if filter.ProviderKey != "" {
		where.WriteString(" AND provider_key = ?")
		args = append(args, filter.ProviderKey)
	}
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT `+notificationColumns+`
		FROM notifications WHERE `+where.String()+`
		ORDER BY created_at DESC, id LIMIT ?`), args...)
	if err != nil {
		return nil, errors.InternalError("failed to list notifications", err)
	}
	defer rows.Close()

	result := []*Notification{}
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to read notifications", err)
	}
	return result, nil
}

func (s *SQLStore) MarkRead(ctx context.Context, userID, id string) error {
	return s.updateOne(ctx, `UPDATE notifications SET is_read = ? WHERE id = ? AND user_id = ?`,
		true, id, userID)
}

func (s *SQLStore) MarkResolved(ctx context.Context, userID, id string, at time.Time) error {
	return s.updateOne(ctx, `UPDATE notifications
		SET is_resolved = ?, resolved_at = COALESCE(resolved_at, ?) WHERE id = ? AND user_id = ?`,
		true, database.Timestamp(at), id, userID)
}

func (s *SQLStore) updateOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return errors.InternalError("failed to update notification", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.InternalError("failed to update notification", err)
	}
	if n == 0 {
		return errors.NotFoundError("notification")
	}
	return nil
}

func (s *SQLStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE notifications SET is_read = ?
		WHERE user_id = ? AND is_read = ?`), true, userID, false)
	if err != nil {
		return 0, errors.InternalError("failed to mark notifications read", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND is_read = ?`), userID, false).Scan(&count)
	if err != nil {
		return 0, errors.InternalError("failed to count notifications", err)
	}
	return count, nil
}

func (s *SQLStore) ResolveOpen(ctx context.Context, userID, providerKey string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE notifications SET is_resolved = ?, resolved_at = ?
		WHERE user_id = ? AND provider_key = ? AND is_resolved = ?`),
		true, database.Timestamp(at), userID, providerKey, false)
	if err != nil {
		return 0, errors.InternalError("failed to resolve notifications", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scan(row scanner) (*Notification, error) {
	var (
		n          Notification
		kind       string
		resolvedAt sql.NullTime
	)
	err := row.Scan(&n.ID, &n.UserID, &n.ProviderKey, &kind, &n.Message, &n.CreatedAt,
		&n.IsRead, &n.IsResolved, &resolvedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, errors.InternalError("failed to scan notification", err)
	}
	n.Kind = Kind(kind)
	n.CreatedAt = n.CreatedAt.UTC()
	n.ResolvedAt = database.TimePtr(resolvedAt)
	return &n, nil
}

var _ Store = (*SQLStore)(nil)
