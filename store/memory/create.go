package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rbaliyan/mailroute/store"
)

// CreateUser persists a new user and returns its ID.
func (s *Store) CreateUser(ctx context.Context, user *store.User) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if user == nil {
		return 0, fmt.Errorf("memory: nil user")
	}

	email := strings.TrimSpace(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emailIdx[email]; exists {
		return 0, fmt.Errorf("email %q: %w", email, store.ErrDuplicateEntry)
	}

	s.nextUser++
	u := user.Clone()
	u.ID = s.nextUser
	u.Email = email
	s.users[u.ID] = u
	s.emailIdx[email] = u.ID
	return u.ID, nil
}

// FindUser retrieves a user by ID.
func (s *Store) FindUser(ctx context.Context, id int64) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u.Clone(), nil
}

// FindUserByEmail retrieves a user by exact email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emailIdx[strings.TrimSpace(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.users[id].Clone(), nil
}

// FindUserByName retrieves the lowest-ID user with the given name.
func (s *Store) FindUserByName(ctx context.Context, name string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *store.User
	for _, u := range s.users {
		if u.Name == name && (found == nil || u.ID < found.ID) {
			found = u
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found.Clone(), nil
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	slices.SortFunc(out, func(a, b *store.User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// DeleteUser removes a user and every message they sent or received.
func (s *Store) DeleteUser(ctx context.Context, id int64) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return 0, store.ErrNotFound
	}

	var n int64
	for mid, r := range s.messages {
		if r.senderID == id || r.recipientID == id {
			delete(s.messages, mid)
			n++
		}
	}
	delete(s.emailIdx, u.Email)
	delete(s.users, id)
	return n, nil
}
