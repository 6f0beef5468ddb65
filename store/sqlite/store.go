// Package sqlite provides a SQLite implementation of store.Store.
//
// The store opens databases through its own driver registration, which
// enables foreign keys on every connection and adds a Unicode-aware
// utf8lower SQL function used for case-insensitive search. SQLite's
// built-in lower() only folds ASCII.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rbaliyan/mailroute/store"
)

// DriverName is the database/sql driver registered by this package.
const DriverName = "sqlite3_mailroute"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if _, err := conn.Exec("PRAGMA foreign_keys = ON", nil); err != nil {
					return err
				}
				return conn.RegisterFunc("utf8lower", strings.ToLower, true)
			},
		})
	})
}

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using SQLite.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new SQLite store over db. The connection must have been
// opened with DriverName for search and foreign keys to work; use Open.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// Open opens the database file at path (or MemoryPath) and returns an
// unconnected store that owns the pool.
func Open(path string, opts ...Option) (*Store, error) {
	registerDriver()

	db, err := sqlx.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	if path == MemoryPath || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
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
		return fmt.Errorf("sqlite: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlite ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to SQLite", "messages", s.opts.messages, "users", s.opts.users)
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
			id INTEGER PRIMARY KEY AUTOINCREMENT,
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
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			recipient_id INTEGER NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			subject TEXT NOT NULL DEFAULT '',
			body_json TEXT NOT NULL DEFAULT '',
			sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			priority_rank INTEGER NOT NULL DEFAULT 5,
			deleted_at DATETIME NULL,
			staged BOOLEAN NOT NULL DEFAULT 0
		)
	`, msgs, users, users)
	if _, err := s.db.ExecContext(ctx, createMessages); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		return err
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_inbox ON %s(recipient_id, sent_at DESC)`, msgs, msgs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_staged ON %s(staged, priority_rank)`, msgs, msgs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_deleted ON %s(deleted_at)`, msgs, msgs),
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

// lifecycleColumns are added to message tables that predate them.
var lifecycleColumns = []struct {
	name string
	ddl  string
}{
	{"priority_rank", "priority_rank INTEGER NOT NULL DEFAULT 5"},
	{"deleted_at", "deleted_at DATETIME NULL"},
	{"staged", "staged BOOLEAN NOT NULL DEFAULT 0"},
}

// migrate adds any missing lifecycle column. SQLite has no
// ADD COLUMN IF NOT EXISTS, so existing columns are read from table_info.
func (s *Store) migrate(ctx context.Context) error {
	var cols []struct {
		CID        int            `db:"cid"`
		Name       string         `db:"name"`
		Type       string         `db:"type"`
		NotNull    bool           `db:"notnull"`
		Default    sql.NullString `db:"dflt_value"`
		PrimaryKey int            `db:"pk"`
	}
	if err := s.db.SelectContext(ctx, &cols, fmt.Sprintf(`PRAGMA table_info(%s)`, s.opts.messages)); err != nil {
		return fmt.Errorf("table info: %w", err)
	}

	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}

	for _, c := range lifecycleColumns {
		if have[c.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, s.opts.messages, c.ddl)); err != nil {
			return fmt.Errorf("add column %s: %w", c.name, err)
		}
		s.logger.Info("added column", "table", s.opts.messages, "column", c.name)
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
