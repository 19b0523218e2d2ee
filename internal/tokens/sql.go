package tokens

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/crypto"
	"area-connect/internal/database"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS service_tokens (
	user_id TEXT NOT NULL,
	provider_key TEXT NOT NULL,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	scopes TEXT NOT NULL DEFAULT '',
	token_type TEXT NOT NULL DEFAULT 'Bearer',
	expires_at TIMESTAMP NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	last_used_at TIMESTAMP NULL,
	PRIMARY KEY (user_id, provider_key)
)`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS service_tokens (
	user_id TEXT NOT NULL,
	provider_key TEXT NOT NULL,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	scopes TEXT NOT NULL DEFAULT '',
	token_type TEXT NOT NULL DEFAULT 'Bearer',
	expires_at TIMESTAMPTZ NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	last_used_at TIMESTAMPTZ NULL,
	PRIMARY KEY (user_id, provider_key)
)`

const expiresIndex = `CREATE INDEX IF NOT EXISTS idx_service_tokens_expires_at ON service_tokens (expires_at)`

const tokenColumns = `user_id, provider_key, access_token, refresh_token, scopes, token_type,
	expires_at, created_at, updated_at, last_used_at`

// SQLStore keeps tokens in SQLite or PostgreSQL. Access and refresh tokens
// are sealed before they reach the database.
type SQLStore struct {
	db     *database.DB
	sealer *crypto.TokenSealer
}

// NewSQLStore bootstraps the schema and returns a store.
func NewSQLStore(ctx context.Context, db *database.DB, sealer *crypto.TokenSealer) (*SQLStore, error) {
	if db == nil {
		return nil, errors.ConfigError("database is required for the token store")
	}
	if sealer == nil {
		return nil, errors.ConfigError("token sealer is required for the token store")
	}

	schema := sqliteSchema
	if db.Dialect() == database.Postgres {
		schema = postgresSchema
	}
	if err := db.Migrate(ctx, schema, expiresIndex); err != nil {
		return nil, errors.InternalError("failed to migrate token store", err)
	}

	return &SQLStore{db: db, sealer: sealer}, nil
}

func (s *SQLStore) Get(ctx context.Context, userID, providerKey string) (*ServiceToken, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+tokenColumns+`
		FROM service_tokens WHERE user_id = ? AND provider_key = ?`), userID, providerKey)

	token, err := s.scan(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (s *SQLStore) Upsert(ctx context.Context, token *ServiceToken) (bool, error) {
	if err := validate(token); err != nil {
		return false, err
	}

	access, refresh, err := s.seal(token)
	if err != nil {
		return false, err
	}

	stampTimes(token)
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.InternalError("failed to begin token upsert", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO service_tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider_key) DO NOTHING`),
		token.UserID, token.ProviderKey, access, refresh, joinScopes(token.Scopes), tokenType,
		database.NullTimestamp(token.ExpiresAt), database.Timestamp(token.CreatedAt),
		database.Timestamp(token.UpdatedAt), database.NullTimestamp(token.LastUsedAt))
	if err != nil {
		return false, errors.InternalError("failed to insert token", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, errors.InternalError("failed to insert token", err)
	}

	if inserted == 0 {
		if _, err := s.update(ctx, tx, token, access, refresh, tokenType); err != nil {
			return false, err
		}

		var createdAt time.Time
		err = tx.QueryRowContext(ctx, s.db.Rebind(`SELECT created_at FROM service_tokens
			WHERE user_id = ? AND provider_key = ?`), token.UserID, token.ProviderKey).Scan(&createdAt)
		if err != nil {
			return false, errors.InternalError("failed to read token", err)
		}
		token.CreatedAt = createdAt.UTC()
	}

	if err := tx.Commit(); err != nil {
		return false, errors.InternalError("failed to commit token upsert", err)
	}
	token.TokenType = tokenType
	return inserted == 1, nil
}

func (s *SQLStore) Update(ctx context.Context, token *ServiceToken) (bool, error) {
	if err := validate(token); err != nil {
		return false, err
	}
	access, refresh, err := s.seal(token)
	if err != nil {
		return false, err
	}
	stampTimes(token)
	if token.TokenType == "" {
		token.TokenType = DefaultTokenType
	}
	return s.update(ctx, s.db, token, access, refresh, token.TokenType)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLStore) update(ctx context.Context, ex execer, token *ServiceToken, access, refresh, tokenType string) (bool, error) {
	res, err := ex.ExecContext(ctx, s.db.Rebind(`UPDATE service_tokens
		SET access_token = ?, refresh_token = ?, scopes = ?, token_type = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ? AND provider_key = ?`),
		access, refresh, joinScopes(token.Scopes), tokenType,
		database.NullTimestamp(token.ExpiresAt), database.Timestamp(token.UpdatedAt),
		token.UserID, token.ProviderKey)
	if err != nil {
		return false, errors.InternalError("failed to update token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.InternalError("failed to update token", err)
	}
	return n > 0, nil
}

func (s *SQLStore) seal(token *ServiceToken) (string, string, error) {
	binding := crypto.Binding(token.UserID, token.ProviderKey)
	access, err := s.sealer.Seal(token.AccessToken, binding)
	if err != nil {
		return "", "", errors.InternalError("failed to seal access token", err)
	}
	refresh, err := s.sealer.Seal(token.RefreshToken, binding)
	if err != nil {
		return "", "", errors.InternalError("failed to seal refresh token", err)
	}
	return access, refresh, nil
}

func (s *SQLStore) Delete(ctx context.Context, userID, providerKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM service_tokens
		WHERE user_id = ? AND provider_key = ?`), userID, providerKey)
	if err != nil {
		return false, errors.InternalError("failed to delete token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.InternalError("failed to delete token", err)
	}
	return n > 0, nil
}

func (s *SQLStore) Touch(ctx context.Context, userID, providerKey string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE service_tokens SET last_used_at = ?
		WHERE user_id = ? AND provider_key = ?`), database.Timestamp(at), userID, providerKey)
	if err != nil {
		return errors.InternalError("failed to record token use", err)
	}
	return nil
}

func (s *SQLStore) ListForUser(ctx context.Context, userID string) ([]*ServiceToken, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT `+tokenColumns+`
		FROM service_tokens WHERE user_id = ? ORDER BY provider_key`), userID)
	if err != nil {
		return nil, errors.InternalError("failed to list tokens", err)
	}
	return s.collect(rows)
}

func (s *SQLStore) ListExpiring(ctx context.Context, from, to time.Time) ([]*ServiceToken, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT `+tokenColumns+`
		FROM service_tokens
		WHERE expires_at >= ? AND expires_at < ? AND refresh_token <> ''
		ORDER BY expires_at`), database.Timestamp(from), database.Timestamp(to))
	if err != nil {
		return nil, errors.InternalError("failed to list expiring tokens", err)
	}
	return s.collect(rows)
}

func (s *SQLStore) collect(rows *sql.Rows) ([]*ServiceToken, error) {
	defer rows.Close()

	result := []*ServiceToken{}
	for rows.Next() {
		token, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, token)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to read tokens", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLStore) scan(row scanner) (*ServiceToken, error) {
	var (
		token           ServiceToken
		access, refresh string
		scopes          string
		expiresAt       sql.NullTime
		lastUsedAt      sql.NullTime
	)
	err := row.Scan(&token.UserID, &token.ProviderKey, &access, &refresh, &scopes, &token.TokenType,
		&expiresAt, &token.CreatedAt, &token.UpdatedAt, &lastUsedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, errors.InternalError("failed to scan token", err)
	}

	binding := crypto.Binding(token.UserID, token.ProviderKey)
	if token.AccessToken, err = s.sealer.Open(access, binding); err != nil {
		return nil, errors.InternalError("failed to open access token", err)
	}
	if token.RefreshToken, err = s.sealer.Open(refresh, binding); err != nil {
		return nil, errors.InternalError("failed to open refresh token", err)
	}

	token.Scopes = splitScopes(scopes)
	token.ExpiresAt = database.TimePtr(expiresAt)
	token.LastUsedAt = database.TimePtr(lastUsedAt)
	token.CreatedAt = token.CreatedAt.UTC()
	token.UpdatedAt = token.UpdatedAt.UTC()
	return &token, nil
}

func validate(token *ServiceToken) error {
	switch {
	case token == nil:
		return errors.ValidationError("token is required")
	case token.UserID == "":
		return errors.ValidationError("user ID is required")
	case token.ProviderKey == "":
		return errors.ValidationError("provider key is required")
	case token.AccessToken == "":
		return errors.ValidationError("access token is required")
	}
	return nil
}

func stampTimes(token *ServiceToken) {
	if token.UpdatedAt.IsZero() {
		token.UpdatedAt = time.Now()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = token.UpdatedAt
	}
}

var _ Store = (*SQLStore)(nil)
