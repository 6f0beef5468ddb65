package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rbaliyan/mailroute/store"
)

// CreateUser persists a new user and returns its ID.
func (s *Store) CreateUser(ctx context.Context, user *store.User) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if user == nil {
		return 0, fmt.Errorf("sqlite: nil user")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (name, email, credential) VALUES (?, ?, ?)`, s.opts.users)

	res, err := s.db.ExecContext(ctx, query, user.Name, strings.TrimSpace(user.Email), user.Credential)
	if err != nil {
		return 0, mapError("create user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// FindUser retrieves a user by ID.
func (s *Store) FindUser(ctx context.Context, id int64) (*store.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, userColumns, s.opts.users)
	return s.getUser(ctx, query, id)
}

// FindUserByEmail retrieves a user by exact email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email = ?`, userColumns, s.opts.users)
	return s.getUser(ctx, query, strings.TrimSpace(email))
}

// FindUserByName retrieves the lowest-ID user with the given name.
func (s *Store) FindUserByName(ctx context.Context, name string) (*store.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE name = ? ORDER BY id LIMIT 1`, userColumns, s.opts.users)
	return s.getUser(ctx, query, name)
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var rows []userRow
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, userColumns, s.opts.users)
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]*store.User, len(rows))
	for i := range rows {
		out[i] = rows[i].toUser()
	}
	return out, nil
}

// DeleteUser removes a user and every message they sent or received in a
// single transaction.
func (s *Store) DeleteUser(ctx context.Context, id int64) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE sender_id = ?1 OR recipient_id = ?1`, s.opts.messages), id)
	if err != nil {
		return 0, fmt.Errorf("delete user messages: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete user messages: %w", err)
	}

	res, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.opts.users), id)
	if err != nil {
		return 0, fmt.Errorf("delete user: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("delete user: %w", err)
	} else if n == 0 {
		return 0, store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}
	return removed, nil
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row userRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return row.toUser(), nil
}
