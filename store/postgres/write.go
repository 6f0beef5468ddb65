package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rbaliyan/mailroute/content"
	"github.com/rbaliyan/mailroute/store"
)

// Save persists a new message and returns its assigned ID.
func (s *Store) Save(ctx context.Context, msg *store.Message) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, fmt.Errorf("postgres: nil message")
	}

	body, err := content.Encode(msg.Body, msg.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode body: %w", err)
	}
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (sender_id, recipient_id, subject, body_json, sent_at, priority_rank, deleted_at, staged)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7)
		RETURNING id
	`, s.opts.messages)

	var id int64
	err = s.db.QueryRowxContext(ctx, query,
		msg.SenderID, msg.RecipientID, msg.Subject, body,
		sentAt.UTC(), store.NormalizeRank(msg.Rank), msg.Staged,
	).Scan(&id)
	if err != nil {
		return 0, mapError("save message", err)
	}
	return id, nil
}

// SoftDelete sets the deletion timestamp if not already set.
func (s *Store) SoftDelete(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, s.opts.messages)
	return s.execChanged(ctx, "soft delete", query, id, at.UTC())
}

// Restore clears the deletion timestamp.
func (s *Store) Restore(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = NULL WHERE id = $1 AND deleted_at IS NOT NULL`, s.opts.messages)
	return s.execChanged(ctx, "restore", query, id)
}

// SetStaged sets or clears the staged flag.
func (s *Store) SetStaged(ctx context.Context, id int64, staged bool) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET staged = $2 WHERE id = $1 AND staged <> $2`, s.opts.messages)
	return s.execChanged(ctx, "set staged", query, id, staged)
}

// Purge permanently removes a message.
func (s *Store) Purge(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.opts.messages)
	return s.execChanged(ctx, "purge", query, id)
}

// PurgeExpired deletes messages trashed before cutoff, optionally limited to ids.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time, ids ...int64) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE deleted_at IS NOT NULL AND deleted_at <= $1`, s.opts.messages)
	args := []any{cutoff.UTC()}
	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, pq.Array(ids))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return n, nil
}

func (s *Store) execChanged(ctx context.Context, op, query string, args ...any) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}
