// Package store persists users, operators, dialogs, messages, knowledge
// documents and their chunks, runtime setting overrides and the event log.
// It speaks database/sql against SQLite (modernc.org/sqlite, the default) or
// PostgreSQL (lib/pq). Queries are written with "?" placeholders and rebound
// per dialect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"   // register "postgres" driver
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with a unique key.
var ErrConflict = errors.New("already exists")

// Driver names accepted by Open.
const (
	// DriverSQLite selects the embedded SQLite engine.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL server.
	DriverPostgres = "postgres"
)

// Config selects the database backend.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is a file path (sqlite) or connection URL (postgres).
	DSN string
}

// ConfigFromEnv reads DATABASE_DRIVER and DATABASE_URL. When the driver is
// sqlite and no URL is set, the database lives at ~/.aiotvet/aiotvet.db.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Driver: os.Getenv("DATABASE_DRIVER"),
		DSN:    os.Getenv("DATABASE_URL"),
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
		if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
			cfg.Driver = DriverPostgres
		}
	}
	if cfg.DSN == "" {
		if cfg.Driver != DriverSQLite {
			return nil, fmt.Errorf("store: DATABASE_URL is required for driver %q", cfg.Driver)
		}
		p, err := DefaultDBPath()
		if err != nil {
			return nil, err
		}
		cfg.DSN = p
	}
	return cfg, nil
}

// DefaultDBPath returns ~/.aiotvet/aiotvet.db, creating the directory.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".aiotvet")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "aiotvet.db"), nil
}

// Store is the database/sql backed persistence layer. It is safe for
// concurrent use.
type Store struct {
	// db is the underlying connection pool.
	db *sql.DB
	// driver is the dialect in use; it decides placeholder style and DDL.
	driver string
}

// Open connects to the database and runs the schema migration.
// Use Open(DriverSQLite, ":memory:") in tests.
func Open(driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", dsn+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
		if err == nil {
			// One connection: SQLite has a single writer, and :memory: databases
			// are per-connection.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q (valid: sqlite, postgres)", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenFromConfig is Open driven by a Config.
func OpenFromConfig(cfg *Config) (*Store, error) {
	return Open(cfg.Driver, cfg.DSN)
}

// Driver reports the dialect the store was opened with.
func (s *Store) Driver() string { return s.driver }

// migrate creates the schema if it does not already exist.
func (s *Store) migrate(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	float := "REAL"
	if s.driver == DriverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
		float = "DOUBLE PRECISION"
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS users (
    id           ` + pk + `,
    external_id  TEXT    NOT NULL UNIQUE,
    username     TEXT    NOT NULL DEFAULT '',
    first_name   TEXT    NOT NULL DEFAULT '',
    last_name    TEXT    NOT NULL DEFAULT '',
    created_at   BIGINT  NOT NULL,
    last_seen    BIGINT  NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS operators (
    id          ` + pk + `,
    email       TEXT    NOT NULL UNIQUE,
    role        TEXT    NOT NULL CHECK(role IN ('operator','lead','admin')),
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  BIGINT  NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS dialogs (
    id                    ` + pk + `,
    user_id               BIGINT  NOT NULL REFERENCES users(id),
    status                TEXT    NOT NULL CHECK(status IN ('AUTO','WAITING_OPERATOR','WAITING_USER')),
    mode                  TEXT    NOT NULL CHECK(mode IN ('AUTO','HUMAN')),
    assigned_operator_id  BIGINT  REFERENCES operators(id),
    created_at            BIGINT  NOT NULL,
    last_message_at       BIGINT  NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_dialogs_status_last ON dialogs (status, last_message_at)`,
		`CREATE INDEX IF NOT EXISTS idx_dialogs_user ON dialogs (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
    id            ` + pk + `,
    dialog_id     BIGINT  NOT NULL REFERENCES dialogs(id),
    sender        TEXT    NOT NULL CHECK(sender IN ('USER','BOT','OPERATOR')),
    text          TEXT    NOT NULL,
    llm_provider  TEXT,
    confidence    ` + float + `,
    created_at    BIGINT  NOT NULL  -- unix nanoseconds
)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_dialog_created ON messages (dialog_id, created_at, id)`,
		`CREATE TABLE IF NOT EXISTS documents (
    id           ` + pk + `,
    title        TEXT    NOT NULL,
    tags         TEXT    NOT NULL DEFAULT '',
    source_type  TEXT    NOT NULL DEFAULT '',
    source       TEXT    NOT NULL DEFAULT '',
    content      TEXT    NOT NULL,
    updated_by   BIGINT,
    updated_at   BIGINT  NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS chunks (
    id           ` + pk + `,
    document_id  BIGINT  NOT NULL REFERENCES documents(id),
    position     INTEGER NOT NULL,
    text         TEXT    NOT NULL,
    embedding    TEXT    NOT NULL  -- JSON array of float32
)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks (document_id, position)`,
		`CREATE TABLE IF NOT EXISTS settings (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS events (
    id          ` + pk + `,
    event_id    TEXT    NOT NULL,
    name        TEXT    NOT NULL,
    payload     TEXT    NOT NULL,
    created_at  BIGINT  NOT NULL
)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// q rebinds a "?"-placeholder query for the active dialect.
func (s *Store) q(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Name labels the store in readiness responses.
func (s *Store) Name() string { return "database" }

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// nullID converts an optional id to a nullable column value.
func nullID(id *int64) sql.NullInt64 {
	if id == nil || *id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// idPtr converts a nullable column back to an optional id.
func idPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
