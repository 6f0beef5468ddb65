package sqlite

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailroute/store"
)

// CountStates returns message counts per lifecycle state in one query.
func (s *Store) CountStates(ctx context.Context, recipientID int64) (*store.Stats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN deleted_at IS NULL AND staged = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted_at IS NULL AND staged = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM %s
		WHERE (?1 = 0 OR recipient_id = ?1)
	`, s.opts.messages)

	var stats store.Stats
	if err := s.db.QueryRowxContext(ctx, query, recipientID).Scan(&stats.Active, &stats.Staged, &stats.Trashed); err != nil {
		return nil, fmt.Errorf("count states: %w", err)
	}
	return &stats, nil
}
