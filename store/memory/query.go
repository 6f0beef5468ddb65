package memory

import (
	"context"
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

	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.toMessage(), nil
}

// ActiveInbox returns non-trashed, non-staged messages for a recipient.
func (s *Store) ActiveInbox(ctx context.Context, recipientID int64) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(r *row) bool {
		return r.recipientID == recipientID && r.state() == store.StateActive
	}, newestFirst), nil
}

// Search returns active inbox messages whose field contains substr.
func (s *Store) Search(ctx context.Context, recipientID int64, field store.SearchField, substr string) ([]*store.Message, error) {
	if !field.Searchable() {
		return s.ActiveInbox(ctx, recipientID)
	}
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(r *row) bool {
		return r.recipientID == recipientID &&
			r.state() == store.StateActive &&
			containsFold(r.subject, substr)
	}, newestFirst), nil
}

// StagedFor returns staged, non-trashed messages ordered by rank.
func (s *Store) StagedFor(ctx context.Context, recipientID int64) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(r *row) bool {
		return forRecipient(r, recipientID) && r.state() == store.StateStaged
	}, byRank), nil
}

// Trash returns messages trashed at or after cutoff.
func (s *Store) Trash(ctx context.Context, recipientID int64, cutoff time.Time) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(r *row) bool {
		return forRecipient(r, recipientID) && r.deletedAt != nil && r.deletedAt.After(cutoff)
	}, recentlyTrashed), nil
}
