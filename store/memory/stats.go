package memory

import (
	"context"

	"github.com/rbaliyan/mailroute/store"
)

// CountStates returns message counts per lifecycle state.
func (s *Store) CountStates(ctx context.Context, recipientID int64) (*store.Stats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &store.Stats{}
	for _, r := range s.messages {
		if forRecipient(r, recipientID) {
			stats.Add(r.state(), 1)
		}
	}
	return stats, nil
}
