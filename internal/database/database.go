// Package database opens the SQL database shared by the token and
// notification stores and smooths over the SQLite/PostgreSQL differences
// they care about: placeholders and schema bootstrap.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Config selects and locates the database.
type Config struct {
	// Type is "sqlite", "postgres" or "postgresql".
	Type string
	// Path is the SQLite file, or ":memory:".
	Path string
	// PostgresDSN is a postgres:// connection URL.
	PostgresDSN string
}

// DB is a *sql.DB that knows its dialect.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open connects and pings the configured database.
func Open(cfg Config) (*DB, error) {
	switch cfg.Type {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		// SQLite allows one writer; a single connection also keeps an
		// in-memory database alive and shared.
		db.SetMaxOpenConns(1)
		return ping(&DB{DB: db, dialect: SQLite})

	case "postgres", "postgresql":
		connConfig, err := pgx.ParseConfig(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("invalid PostgreSQL connection string: %w", err)
		}
		db := stdlib.OpenDB(*connConfig)
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
		return ping(&DB{DB: db, dialect: Postgres})

	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func ping(db *DB) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", db.dialect, err)
	}
	return db, nil
}

// Dialect returns the SQL flavour.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Rebind rewrites ? placeholders into $n for PostgreSQL. Queries must not
// contain literal question marks.
func (db *DB) Rebind(query string) string {
	if db.dialect != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Migrate runs idempotent schema statements in one transaction.
func (db *DB) Migrate(ctx context.Context, statements ...string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return tx.Commit()
}

// Timestamp normalizes t for storage: UTC, microsecond precision.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// NullTimestamp converts an optional time for storage.
func NullTimestamp(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: Timestamp(*t), Valid: true}
}

// TimePtr converts a scanned nullable time back.
func TimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
