package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mailroute/store"
)

// FindByID retrieves a message by ID.
func (s *Store) FindByID(ctx context.Context, id int64) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, s.opts.messages)

	var row messageRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return row.toMessage(), nil
}

// ActiveInbox returns non-trashed, non-staged messages for a recipient.
func (s *Store) ActiveInbox(ctx context.Context, recipientID int64) ([]*store.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE recipient_id = $1 AND deleted_at IS NULL AND staged = FALSE
		ORDER BY sent_at DESC, id DESC
	`, messageColumns, s.opts.messages)
	return s.selectMessages(ctx, "active inbox", query, recipientID)
}

// Search returns active inbox messages whose field contains substr.
// Matching uses POSITION so that LIKE metacharacters in substr are literal.
func (s *Store) Search(ctx context.Context, recipientID int64, field store.SearchField, substr string) ([]*store.Message, error) {
	if !field.Searchable() {
		return s.ActiveInbox(ctx, recipientID)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE recipient_id = $1 AND deleted_at IS NULL AND staged = FALSE
		  AND POSITION(LOWER($2) IN LOWER(%s)) > 0
		ORDER BY sent_at DESC, id DESC
	`, messageColumns, s.opts.messages, string(field))
	return s.selectMessages(ctx, "search", query, recipientID, substr)
}

// StagedFor returns staged, non-trashed messages ordered by rank.
func (s *Store) StagedFor(ctx context.Context, recipientID int64) ([]*store.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1::BIGINT = 0 OR recipient_id = $1) AND staged = TRUE AND deleted_at IS NULL
		ORDER BY priority_rank ASC, sent_at DESC, id DESC
	`, messageColumns, s.opts.messages)
	return s.selectMessages(ctx, "staged", query, recipientID)
}

// Trash returns messages trashed at or after cutoff.
func (s *Store) Trash(ctx context.Context, recipientID int64, cutoff time.Time) ([]*store.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1::BIGINT = 0 OR recipient_id = $1) AND deleted_at IS NOT NULL AND deleted_at > $2
		ORDER BY deleted_at DESC, id DESC
	`, messageColumns, s.opts.messages)
	return s.selectMessages(ctx, "trash", query, recipientID, cutoff.UTC())
}

// ExpiredTrash returns up to limit messages trashed before cutoff, oldest first.
func (s *Store) ExpiredTrash(ctx context.Context, cutoff time.Time, limit int) ([]*store.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE deleted_at IS NOT NULL AND deleted_at <= $1
		ORDER BY deleted_at ASC, id ASC
		LIMIT $2
	`, messageColumns, s.opts.messages)
	if limit <= 0 {
		query = fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE deleted_at IS NOT NULL AND deleted_at <= $1
			ORDER BY deleted_at ASC, id ASC
		`, messageColumns, s.opts.messages)
		return s.selectMessages(ctx, "expired trash", query, cutoff.UTC())
	}
	return s.selectMessages(ctx, "expired trash", query, cutoff.UTC(), limit)
}

func (s *Store) selectMessages(ctx context.Context, op, query string, args ...any) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return toMessages(rows), nil
}
