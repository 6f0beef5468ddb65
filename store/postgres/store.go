// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the postgres driver
	"github.com/rbaliyan/mailroute/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Open connects to dsn and returns an unconnected store that owns the pool.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	return New(db, opts...), nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "messages", s.opts.messages, "users", s.opts.users)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the tables and indexes and adds lifecycle columns
// missing from tables created by older versions.
func (s *Store) ensureSchema(ctx context.Context) error {
	users, msgs := s.opts.users, s.opts.messages

	createUsers := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL UNIQUE,
			credential TEXT NOT NULL DEFAULT ''
		)
	`, users)
	if _, err := s.db.ExecContext(ctx, createUsers); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	createMessages := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			sender_id BIGINT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			recipient_id BIGINT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			subject TEXT NOT NULL DEFAULT '',
			body_json TEXT NOT NULL DEFAULT '',
			sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			priority_rank INTEGER NOT NULL DEFAULT 5,
			deleted_at TIMESTAMPTZ,
			staged BOOLEAN NOT NULL DEFAULT FALSE
		)
	`, msgs, users, users)
	if _, err := s.db.ExecContext(ctx, createMessages); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	migrations := []string{
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS priority_rank INTEGER NOT NULL DEFAULT 5`, msgs),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS deleted_at TIMESTAMPTZ`, msgs),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS staged BOOLEAN NOT NULL DEFAULT FALSE`, msgs),
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_inbox ON %s(recipient_id, sent_at DESC) WHERE deleted_at IS NULL`, msgs, msgs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_staged ON %s(priority_rank, sent_at DESC) WHERE staged AND deleted_at IS NULL`, msgs, msgs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_deleted ON %s(deleted_at) WHERE deleted_at IS NOT NULL`, msgs, msgs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sender ON %s(sender_id)`, msgs, msgs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_name ON %s(name, id)`, users, users),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}
