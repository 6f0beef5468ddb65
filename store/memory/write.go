package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/mailroute/store"
)

// Save persists a new message and returns its assigned ID.
func (s *Store) Save(ctx context.Context, msg *store.Message) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, fmt.Errorf("memory: nil message")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[msg.SenderID]; !ok {
		return 0, fmt.Errorf("sender %d: %w", msg.SenderID, store.ErrUnknownUser)
	}
	if _, ok := s.users[msg.RecipientID]; !ok {
		return 0, fmt.Errorf("recipient %d: %w", msg.RecipientID, store.ErrUnknownUser)
	}

	r, err := newRow(s.nextMsg+1, msg)
	if err != nil {
		return 0, fmt.Errorf("memory: encode body: %w", err)
	}
	s.nextMsg++
	s.messages[r.id] = r
	return r.id, nil
}

// mutate applies fn to a copy of the row and stores it when fn reports a
// change. Missing rows are a no-op.
func (s *Store) mutate(id int64, fn func(r *row) bool) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orig, ok := s.messages[id]
	if !ok {
		return false, nil
	}

	// Copy-on-write so readers holding decoded copies are unaffected.
	r := orig.clone()
	if !fn(r) {
		return false, nil
	}
	s.messages[id] = r
	return true, nil
}

// SoftDelete sets the deletion timestamp if not already set.
func (s *Store) SoftDelete(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.mutate(id, func(r *row) bool {
		if r.deletedAt != nil {
			return false
		}
		t := at.UTC()
		r.deletedAt = &t
		return true
	})
}

// Restore clears the deletion timestamp.
func (s *Store) Restore(ctx context.Context, id int64) (bool, error) {
	return s.mutate(id, func(r *row) bool {
		if r.deletedAt == nil {
			return false
		}
		r.deletedAt = nil
		return true
	})
}

// SetStaged sets or clears the staged flag.
func (s *Store) SetStaged(ctx context.Context, id int64, staged bool) (bool, error) {
	return s.mutate(id, func(r *row) bool {
		if r.staged == staged {
			return false
		}
		r.staged = staged
		return true
	})
}

// Purge permanently removes a message.
func (s *Store) Purge(ctx context.Context, id int64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return false, nil
	}
	delete(s.messages, id)
	return true, nil
}

// =============================================================================
// Maintenance Operations
// =============================================================================

// ExpiredTrash returns up to limit messages trashed before cutoff, oldest first.
func (s *Store) ExpiredTrash(ctx context.Context, cutoff time.Time, limit int) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.collect(func(r *row) bool {
		return r.deletedAt != nil && !r.deletedAt.After(cutoff)
	}, oldestTrashed)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeExpired deletes messages trashed before cutoff, optionally limited to ids.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time, ids ...int64) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := func(r *row) bool {
		return r != nil && r.deletedAt != nil && !r.deletedAt.After(cutoff)
	}

	var n int64
	if len(ids) > 0 {
		for _, id := range ids {
			if expired(s.messages[id]) {
				delete(s.messages, id)
				n++
			}
		}
		return n, nil
	}

	for id, r := range s.messages {
		if expired(r) {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}
