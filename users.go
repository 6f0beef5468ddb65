package mailroute

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/rbaliyan/mailroute/store"
)

// CreateUser registers an account. A taken email yields ErrDuplicateEntry.
func (e *engine) CreateUser(ctx context.Context, name, email, credential string) (*store.User, error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}
	if err := ValidateUser(name, email, credential); err != nil {
		return nil, err
	}

	u := &store.User{
		Name:       strings.TrimSpace(name),
		Email:      strings.TrimSpace(email),
		Credential: credential,
	}
	id, err := e.store.CreateUser(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("create user %q: %w", u.Email, translateStoreError(err))
	}
	u.ID = id
	e.logger.Info("user created", "user_id", id, "email", u.Email)
	return u, nil
}

// FindUser returns the user or ErrNotFound.
func (e *engine) FindUser(ctx context.Context, id int64) (*store.User, error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, ErrNotFound
	}
	u, err := e.store.FindUser(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return u, nil
}

// FindUserByEmail returns the user with the exact (trimmed) email or
// ErrNotFound.
func (e *engine) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}
	u, err := e.store.FindUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, translateStoreError(err)
	}
	return u, nil
}

// ListUsers returns every user ordered by ID.
func (e *engine) ListUsers(ctx context.Context) ([]*store.User, error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", translateStoreError(err))
	}
	return users, nil
}

// DeleteUser removes the user and their messages, returning how many
// messages went with them. Buffered staging entries for those messages
// become stale and are dropped on dequeue.
func (e *engine) DeleteUser(ctx context.Context, id int64) (int64, error) {
	if err := e.checkConnected(); err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, ErrNotFound
	}
	n, err := e.store.DeleteUser(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("delete user %d: %w", id, translateStoreError(err))
	}
	e.logger.Info("user deleted", "user_id", id, "messages", n)
	if n > 0 {
		e.plugins.afterPurge(ctx, store.ReasonExplicit, n)
		e.otel.recordPurged(ctx, store.ReasonExplicit, n)
	}
	return n, nil
}

// Authenticate returns the user whose email and credential both match.
// Credentials are opaque and compared verbatim.
func (e *engine) Authenticate(ctx context.Context, email, credential string) (*store.User, error) {
	u, err := e.FindUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(u.Credential), []byte(credential)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// RecoverCredential returns the stored credential of the first user
// (lowest ID) with the given display name, or ErrNotFound.
func (e *engine) RecoverCredential(ctx context.Context, name string) (string, error) {
	if err := e.checkConnected(); err != nil {
		return "", err
	}
	u, err := e.store.FindUserByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return "", translateStoreError(err)
	}
	e.logger.Info("credential recovered", "user_id", u.ID)
	return u.Credential, nil
}
